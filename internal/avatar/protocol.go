package avatar

import (
	"encoding/json"
	"fmt"
)

// Header is the fixed-width tag that begins every protocol message
// exchanged with the avatar rendering service. Text frames carry the
// header followed by an optional compact JSON body; binary frames carry
// the header followed by raw payload bytes.
type Header string

// HeaderLen is the exact byte width of every header tag on the wire.
const HeaderLen = 8

const (
	// Outbound control headers.
	HeaderInitialize Header = "SESSTART"
	HeaderTerminate  Header = "SESSSTOP"
	HeaderInterrupt  Header = "INTRRUPT"
	HeaderAudioEnd   Header = "AUDIOEND"

	// Outbound data headers.
	HeaderSSMLData Header = "SSMLDATA"
	HeaderPCMStart Header = "PCMSTART"

	// Inbound headers from the rendering service.
	HeaderConfirmation Header = "SESSCONF"
	HeaderException    Header = "ABNORMAL"
	HeaderHeartbeat    Header = "KEEPLIVE"
	HeaderStatus       Header = "AVSTATUS"
)

var knownHeaders = map[Header]bool{
	HeaderInitialize:   true,
	HeaderTerminate:    true,
	HeaderInterrupt:    true,
	HeaderAudioEnd:     true,
	HeaderSSMLData:     true,
	HeaderPCMStart:     true,
	HeaderConfirmation: true,
	HeaderException:    true,
	HeaderHeartbeat:    true,
	HeaderStatus:       true,
}

// Known reports whether h is part of the protocol's header enumeration.
func (h Header) Known() bool {
	return knownHeaders[h]
}

// Message is a decoded inbound protocol message. Exactly one of Body and
// Raw is populated: Body holds the parsed JSON object when the payload
// parsed cleanly, Raw holds the untouched payload text when it did not.
// A message with an unrecognized header is still delivered so callers can
// log it; the connection is never torn down over one.
type Message struct {
	Header Header
	Body   map[string]interface{}
	Raw    string
}

// Encode builds a text frame: the 8-byte header followed by the compact
// JSON encoding of body, or the header alone when body is nil.
func Encode(header Header, body interface{}) ([]byte, error) {
	if len(header) != HeaderLen {
		return nil, fmt.Errorf("avatar: header %q is %d bytes, want %d", header, len(header), HeaderLen)
	}
	if body == nil {
		return []byte(header), nil
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("avatar: failed to encode %s body: %w", header, err)
	}
	frame := make([]byte, 0, HeaderLen+len(encoded))
	frame = append(frame, header...)
	frame = append(frame, encoded...)
	return frame, nil
}

// EncodeBinary builds a binary frame: the 8-byte header followed directly
// by the raw payload bytes. Used for PCM audio frames.
func EncodeBinary(header Header, payload []byte) ([]byte, error) {
	if len(header) != HeaderLen {
		return nil, fmt.Errorf("avatar: header %q is %d bytes, want %d", header, len(header), HeaderLen)
	}
	frame := make([]byte, 0, HeaderLen+len(payload))
	frame = append(frame, header...)
	frame = append(frame, payload...)
	return frame, nil
}

// Decode splits a received text frame into its header tag and body. A body
// that is not valid JSON is kept as Raw instead of failing the receive
// path; the remote service occasionally sends bare diagnostic text.
func Decode(raw []byte) (Message, error) {
	if len(raw) < HeaderLen {
		return Message{}, fmt.Errorf("avatar: message too short: %d bytes", len(raw))
	}
	msg := Message{Header: Header(raw[:HeaderLen])}
	payload := raw[HeaderLen:]
	if len(payload) == 0 {
		return msg, nil
	}
	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		msg.Raw = string(payload)
		return msg, nil
	}
	msg.Body = body
	return msg, nil
}
