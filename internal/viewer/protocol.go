package viewer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
)

// Encoding of an inbound control frame.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// framePayload is base64 text in JSON and either a byte string or base64
// text in CBOR.
type framePayload struct {
	b64 string
	raw []byte
}

func (p *framePayload) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &p.b64)
}

func (p *framePayload) UnmarshalCBOR(data []byte) error {
	var v interface{}
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
	case []byte:
		p.raw = t
	case string:
		p.b64 = t
	default:
		return fmt.Errorf("frame must be bytes or string, got %T", v)
	}
	return nil
}

func (p framePayload) empty() bool {
	return p.b64 == "" && len(p.raw) == 0
}

// Message is an inbound control message. Fields not used by a type stay zero.
type Message struct {
	Type        string                 `json:"type"`
	SessionID   string                 `json:"session_id,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Quality     cameras.Quality        `json:"quality,omitempty"`
	Frame       framePayload           `json:"frame"`
	FrameNumber int64                  `json:"frame_number,omitempty"`
	Timestamp   float64                `json:"timestamp,omitempty"`
	Metadata    *cameras.FrameMetadata `json:"metadata,omitempty"`
	Detection   *cameras.Detection     `json:"detection,omitempty"`
	Alert       *cameras.Alert         `json:"alert,omitempty"`
}

var errMissingType = errors.New("control message has no type")

// DecodeMessage parses a text (JSON) or binary (CBOR) control frame.
func DecodeMessage(enc Encoding, data []byte) (*Message, error) {
	var msg Message
	switch enc {
	case EncodingCBOR:
		if err := cbor.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode cbor control message: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode json control message: %w", err)
		}
	}
	if msg.Type == "" {
		return nil, errMissingType
	}
	return &msg, nil
}

// frame converts the payload for the renderer, or false when there is none.
func (m *Message) frame() (Frame, bool) {
	if m.Frame.empty() {
		return Frame{}, false
	}
	return Frame{Payload: m.Frame.b64, Raw: m.Frame.raw, Metadata: m.Metadata}, true
}

// errorText picks the server's message, then its error field.
func (m *Message) errorText() string {
	if m.Message != "" {
		return m.Message
	}
	if m.Error != "" {
		return m.Error
	}
	return msgUnknownServerError
}

func startStreamCommand(q cameras.Quality) cameras.ControlMessage {
	return cameras.ControlMessage{Type: cameras.TypeStartStream, Quality: q}
}

func changeQualityCommand(q cameras.Quality) cameras.ControlMessage {
	return cameras.ControlMessage{Type: cameras.TypeChangeQuality, Quality: q}
}

var (
	stopStreamCommand = cameras.ControlMessage{Type: cameras.TypeStopStream}
	pingCommand       = cameras.ControlMessage{Type: cameras.TypePing}
)
