package relay

import (
	"context"
	"socialrelay/internal/domain"
	"socialrelay/internal/events"
	"socialrelay/internal/presence"

	"go.uber.org/zap"
)

// Outcome of a single best-effort push.
type Outcome int

const (
	Dropped Outcome = iota
	Delivered
)

func (o Outcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "dropped"
}

// Signals forwards signaling envelopes and direct notices to one target.
// It does not authorize; callers check that the sender may reach the target.
type Signals struct {
	dir presence.Directory
	ns  string
}

func NewSignals(dir presence.Directory, namespace string) *Signals {
	return &Signals{dir: dir, ns: namespace}
}

// Relay delivers sig to its target unmodified. An unreachable target is
// logged and dropped.
func (s *Signals) Relay(ctx context.Context, sig events.Signal) Outcome {
	out := s.Push(ctx, sig.To, events.CallMessageFromPeer, sig.Wire())
	if out == Dropped {
		zap.L().Info("relay.signal_dropped",
			zap.String("ns", s.ns),
			zap.String("kind", string(sig.Kind())),
			zap.String("from", string(sig.From)),
			zap.String("to", string(sig.To)),
		)
	}
	return out
}

// Push sends one event to the live connection of to, if any.
func (s *Signals) Push(ctx context.Context, to domain.UserID, event string, body any) Outcome {
	frame, err := events.Encode(event, body)
	if err != nil {
		zap.L().Error("relay.encode", zap.String("event", event), zap.Error(err))
		return Dropped
	}
	return s.PushFrame(ctx, to, frame)
}

// PushFrame is Push for an already encoded frame.
func (s *Signals) PushFrame(ctx context.Context, to domain.UserID, frame []byte) Outcome {
	conn, ok := s.dir.Lookup(ctx, to)
	if !ok {
		zap.L().Debug("relay.not_reachable", zap.String("ns", s.ns), zap.String("to", string(to)))
		return Dropped
	}
	if err := conn.Send(frame); err != nil {
		// a stale connection is the same as an absent one
		zap.L().Debug("relay.transport_closed", zap.String("ns", s.ns), zap.String("to", string(to)), zap.Error(err))
		return Dropped
	}
	return Delivered
}
