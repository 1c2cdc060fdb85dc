package relay

import (
	"context"
	"socialrelay/internal/domain"
	"socialrelay/internal/events"
	"socialrelay/internal/presence"

	"go.uber.org/zap"
)

// Result counts the fan-out of one relayed message.
type Result struct {
	Pushed  int
	Skipped int
}

// Messages pushes an already persisted message to the live connections of
// a member list. Membership must have been checked and the message stored
// before Relay is called.
type Messages struct {
	signals *Signals
}

func NewMessages(dir presence.Directory, namespace string) *Messages {
	return &Messages{signals: NewSignals(dir, namespace)}
}

func (m *Messages) Relay(ctx context.Context, event string, payload any, members []domain.UserID, exclude ...domain.UserID) Result {
	var res Result
	frame, err := events.Encode(event, payload)
	if err != nil {
		zap.L().Error("relay.encode", zap.String("event", event), zap.Error(err))
		res.Skipped = len(members)
		return res
	}

	skip := make(map[domain.UserID]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	seen := make(map[domain.UserID]struct{}, len(members))

	for _, id := range members {
		if _, ok := skip[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if m.signals.PushFrame(ctx, id, frame) == Delivered {
			res.Pushed++
		} else {
			res.Skipped++
		}
	}
	return res
}
