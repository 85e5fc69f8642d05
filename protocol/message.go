package protocol

import (
	"encoding/json"
	"errors"
	"unicode/utf8"

	"github.com/thankyoucode/livekit-webstream/domain"
)

// Error strings sent back to clients.
const (
	errTextInvalidJSON   = "Invalid JSON"
	errTextInvalidType   = "Missing or invalid message type"
	errTextUnknownType   = "Unknown message type"
	errTextStreamerTaken = "Streamer already connected"
	errTextRoleAssigned  = "Role already assigned"
)

var (
	ErrInvalidJSON = errors.New("invalid json")
	ErrInvalidType = errors.New("missing or invalid message type")
)

type Kind int

const (
	KindUnknown Kind = iota
	KindStreamer
	KindViewer
	KindOffer
	KindAnswer
	KindCandidate
)

var kindsByType = map[string]Kind{
	domain.TypeStreamer:  KindStreamer,
	domain.TypeViewer:    KindViewer,
	domain.TypeOffer:     KindOffer,
	domain.TypeAnswer:    KindAnswer,
	domain.TypeCandidate: KindCandidate,
}

func (k Kind) String() string {
	switch k {
	case KindStreamer:
		return domain.TypeStreamer
	case KindViewer:
		return domain.TypeViewer
	case KindOffer:
		return domain.TypeOffer
	case KindAnswer:
		return domain.TypeAnswer
	case KindCandidate:
		return domain.TypeCandidate
	default:
		return "unknown"
	}
}

// Envelope is a decoded client message. Raw holds the bytes as received and
// is what gets relayed.
type Envelope struct {
	Kind Kind
	Type string
	Raw  []byte
}

// Decode validates that data is a JSON object with a non-empty string "type"
// field and classifies it. Only the type field is inspected. Payloads that
// are not valid UTF-8 count as invalid JSON since they cannot be relayed as
// text frames.
func Decode(data []byte) (Envelope, error) {
	if !utf8.Valid(data) || !json.Valid(data) {
		return Envelope{}, ErrInvalidJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, ErrInvalidType
	}
	rawType, ok := fields["type"]
	if !ok {
		return Envelope{}, ErrInvalidType
	}
	var msgType string
	if err := json.Unmarshal(rawType, &msgType); err != nil || msgType == "" {
		return Envelope{}, ErrInvalidType
	}

	return Envelope{Kind: kindsByType[msgType], Type: msgType, Raw: data}, nil
}

func encode(msg domain.Message) []byte {
	data, _ := json.Marshal(msg)
	return data
}
