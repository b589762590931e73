// Package envelope implements the wire codec for session socket messages.
//
// Every frame exchanged with the relay is a UTF-8 text frame holding a JSON
// object with two members:
//
//	{"type": "chat_message", "payload": {"text": "hello"}}
//
// The type selects which subscribers receive the message. The payload is
// kept opaque (json.RawMessage) at the transport boundary and narrowed to a
// concrete Go type only once a listener for that type has been found:
//
//	env, err := envelope.Decode(frame)
//	if err != nil {
//		// *DecodeError: log and drop the frame
//	}
//	msg, err := envelope.Unmarshal[ChatMessage](env)
//
// A frame without a type decodes successfully with an empty Type; whether
// that is worth a diagnostic is left to the caller.
package envelope
