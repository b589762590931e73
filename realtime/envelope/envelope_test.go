package envelope

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

type chatMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func TestEncode(t *testing.T) {
	data, err := Encode("chat_message", chatMessage{ID: "m1", Text: "hola"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := `{"type":"chat_message","payload":{"id":"m1","text":"hola"}}`
	if string(data) != want {
		t.Errorf("Encode() = %s, want %s", data, want)
	}
}

func TestEncode_UnsupportedPayload(t *testing.T) {
	_, err := Encode("bad", make(chan int))
	if err == nil {
		t.Fatal("Expected error encoding a channel payload")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name        string
		frame       string
		wantType    string
		wantPayload string
		wantErr     bool
	}{
		{"object payload", `{"type":"x","payload":{"a":1}}`, "x", `{"a":1}`, false},
		{"string payload", `{"type":"x","payload":"hi"}`, "x", `"hi"`, false},
		{"null payload", `{"type":"x","payload":null}`, "x", `null`, false},
		{"missing payload", `{"type":"x"}`, "x", ``, false},
		{"missing type", `{"payload":1}`, "", `1`, false},
		{"surrounding whitespace", "  {\"type\":\"x\",\"payload\":[1]}\n", "x", `[1]`, false},
		{"extra members ignored", `{"type":"x","payload":2,"warning":"w"}`, "x", `2`, false},
		{"invalid json", `{"type":`, "", "", true},
		{"array frame", `[1,2,3]`, "", "", true},
		{"string frame", `"hello"`, "", "", true},
		{"empty frame", ``, "", "", true},
		{"numeric type", `{"type":5,"payload":{}}`, "", "", true},
		{"plain text", `Echo hello`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Decode(%q) expected error, got %+v", tt.frame, env)
				}
				var decodeErr *DecodeError
				if !errors.As(err, &decodeErr) {
					t.Fatalf("Decode(%q) error = %T, want *DecodeError", tt.frame, err)
				}
				if string(decodeErr.Frame) != tt.frame {
					t.Errorf("DecodeError.Frame = %q, want %q", decodeErr.Frame, tt.frame)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%q) unexpected error: %v", tt.frame, err)
			}
			if env.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", env.Type, tt.wantType)
			}
			if string(env.Payload) != tt.wantPayload {
				t.Errorf("Payload = %s, want %s", env.Payload, tt.wantPayload)
			}
		})
	}
}

func TestDecode_NotObjectUnwraps(t *testing.T) {
	_, err := Decode([]byte(`42`))
	if !errors.Is(err, ErrNotObject) {
		t.Errorf("Expected ErrNotObject, got %v", err)
	}
}

func TestUnmarshal(t *testing.T) {
	env, err := Decode([]byte(`{"type":"chat_message","payload":{"id":"m1","text":"hi"}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	msg, err := Unmarshal[chatMessage](env)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.ID != "m1" || msg.Text != "hi" {
		t.Errorf("Unmarshal() = %+v", msg)
	}

	t.Run("null payload gives zero value", func(t *testing.T) {
		msg, err := Unmarshal[chatMessage](Envelope{Type: "x", Payload: json.RawMessage("null")})
		if err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if msg != (chatMessage{}) {
			t.Errorf("Expected zero value, got %+v", msg)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		_, err := Unmarshal[chatMessage](Envelope{Type: "x", Payload: json.RawMessage(`[1]`)})
		if err == nil {
			t.Error("Expected error narrowing an array into a struct")
		}
	})
}

func TestRoundTrip_Samples(t *testing.T) {
	samples := []any{
		map[string]any{"text": "hola", "n": 3.5, "nested": map[string]any{"ok": true}},
		[]any{"a", 1.0, nil, false},
		"ünïcødé ✓  ",
		42.0,
		nil,
	}

	for _, payload := range samples {
		data, err := Encode("sample", payload)
		if err != nil {
			t.Fatalf("Encode(%v) error = %v", payload, err)
		}
		env, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", data, err)
		}
		if env.Type != "sample" {
			t.Errorf("Type = %q, want sample", env.Type)
		}
		got, err := Unmarshal[any](env)
		if err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if !reflect.DeepEqual(got, payload) {
			t.Errorf("round trip = %#v, want %#v", got, payload)
		}
	}
}

func TestPayloadIsNull(t *testing.T) {
	if !(Envelope{}).PayloadIsNull() {
		t.Error("Empty payload should be null")
	}
	if !(Envelope{Payload: json.RawMessage(" null ")}).PayloadIsNull() {
		t.Error("Literal null should be null")
	}
	if (Envelope{Payload: json.RawMessage(`0`)}).PayloadIsNull() {
		t.Error("Zero is not null")
	}
}
