package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EchoHandler replies to every frame the way the development relay does:
//   - a frame that is not a JSON object gets an "error" envelope back
//   - an envelope whose payload has a "text" member is echoed with the text
//     prefixed
//   - any other object is echoed with a "warning" member added
func EchoHandler(prefix string) InboundHandler {
	return func(sessionID string, data []byte) []byte {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()

		var received any
		if err := dec.Decode(&received); err != nil {
			return errorReply("message must be valid JSON", data)
		}
		obj, ok := received.(map[string]any)
		if !ok {
			return errorReply("message must be a JSON object", data)
		}

		if payload, ok := obj["payload"].(map[string]any); ok {
			if text, ok := payload["text"]; ok {
				payload["text"] = prefix + fmt.Sprint(text)
				return marshal(obj)
			}
		}

		obj["warning"] = "payload has no text field"
		return marshal(obj)
	}
}

func errorReply(message string, received []byte) []byte {
	return marshal(map[string]any{
		"type": "error",
		"payload": map[string]any{
			"message":  message,
			"received": string(received),
		},
	})
}

func marshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
