package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"socialrelay/internal/apperr"
	"socialrelay/internal/domain"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pion/sdp/v3"
)

type SignalKind string

const (
	KindOffer     SignalKind = "offer"
	KindAnswer    SignalKind = "answer"
	KindCandidate SignalKind = "candidate"
	KindCustom    SignalKind = "custom"
)

var (
	ErrInvalidSignal = fmt.Errorf("invalid signal: %w", apperr.ErrInvalid)
	ErrInvalidSDP    = fmt.Errorf("invalid sdp: %w", apperr.ErrInvalid)
)

var validate = validator.New()

// Validate runs the struct tags of an inbound body.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil // not a struct, nothing to check
		}
		return fmt.Errorf("%w: %s", apperr.ErrInvalid, err.Error())
	}
	return nil
}

// PeerMessage is the wire form of callMessageFromPeer. It is relayed as-is.
type PeerMessage struct {
	Type           string          `json:"type"                     validate:"required,max=64"`
	FromEndUserID  domain.UserID   `json:"fromEndUserId"            validate:"required"`
	ToEndUserID    domain.UserID   `json:"toEndUserId"              validate:"required,nefield=FromEndUserID"`
	ConversationID string          `json:"conversationId,omitempty"`
	LiveStreamID   string          `json:"liveStreamId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// SignalPayload is one case of the signal variant.
type SignalPayload interface {
	Kind() SignalKind
}

type SessionDescription struct {
	Type string `json:"type,omitempty"`
	SDP  string `json:"sdp"`
}

type Offer struct{ SessionDescription }

type Answer struct{ SessionDescription }

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Custom carries application-defined signals with an opaque body.
type Custom struct {
	Name string
	Data json.RawMessage
}

func (Offer) Kind() SignalKind     { return KindOffer }
func (Answer) Kind() SignalKind    { return KindAnswer }
func (Candidate) Kind() SignalKind { return KindCandidate }
func (Custom) Kind() SignalKind    { return KindCustom }

// EndOfCandidates reports whether the candidate marks the end of gathering.
func (c Candidate) EndOfCandidates() bool { return c.Candidate == "" }

// Signal is a validated signaling envelope.
type Signal struct {
	From    domain.UserID
	To      domain.UserID
	Payload SignalPayload

	wire PeerMessage
}

func (s Signal) Kind() SignalKind { return s.Payload.Kind() }

// Wire returns the known envelope fields as submitted. data is kept
// byte-for-byte; unknown top-level fields are dropped.
func (s Signal) Wire() PeerMessage { return s.wire }

// ParseSignal validates m and decodes its data into the matching variant.
func ParseSignal(m PeerMessage) (Signal, error) {
	if err := Validate(m); err != nil {
		return Signal{}, err
	}
	sig := Signal{From: m.FromEndUserID, To: m.ToEndUserID, wire: m}

	switch SignalKind(m.Type) {
	case KindOffer, KindAnswer:
		desc, err := decodeDescription(m.Data)
		if err != nil {
			return Signal{}, err
		}
		if desc.Type != "" && desc.Type != m.Type {
			return Signal{}, fmt.Errorf("%w: description type %q under %q", ErrInvalidSignal, desc.Type, m.Type)
		}
		if SignalKind(m.Type) == KindOffer {
			sig.Payload = Offer{desc}
		} else {
			sig.Payload = Answer{desc}
		}
	case KindCandidate:
		c, err := decodeCandidate(m.Data)
		if err != nil {
			return Signal{}, err
		}
		sig.Payload = c
	default:
		if strings.ContainsAny(m.Type, " \t\r\n") {
			return Signal{}, fmt.Errorf("%w: type %q", ErrInvalidSignal, m.Type)
		}
		sig.Payload = Custom{Name: m.Type, Data: m.Data}
	}
	return sig, nil
}

// data is either the raw SDP string or {type, sdp}.
func decodeDescription(data json.RawMessage) (SessionDescription, error) {
	var desc SessionDescription
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return desc, fmt.Errorf("%w: missing session description", ErrInvalidSignal)
	}
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &desc.SDP); err != nil {
			return desc, fmt.Errorf("%w: %s", ErrInvalidSignal, err.Error())
		}
	} else if err := json.Unmarshal(trimmed, &desc); err != nil {
		return desc, fmt.Errorf("%w: %s", ErrInvalidSignal, err.Error())
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return desc, fmt.Errorf("%w: %s", ErrInvalidSDP, err.Error())
	}
	return desc, nil
}

// A null body or empty candidate string means end-of-candidates.
func decodeCandidate(data json.RawMessage) (Candidate, error) {
	var c Candidate
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return c, nil
	}
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &c.Candidate); err != nil {
			return c, fmt.Errorf("%w: %s", ErrInvalidSignal, err.Error())
		}
	} else if err := json.Unmarshal(trimmed, &c); err != nil {
		return c, fmt.Errorf("%w: %s", ErrInvalidSignal, err.Error())
	}

	line := strings.TrimPrefix(c.Candidate, "a=")
	if line != "" && !strings.HasPrefix(line, "candidate:") {
		return c, fmt.Errorf("%w: malformed candidate %q", ErrInvalidSignal, c.Candidate)
	}
	return c, nil
}
