// Package notify dispatches sharing events to the parties of a transition.
// Delivery channels (email, push) live outside this module; the stock
// implementation writes events to the structured log.
package notify

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/sharekeeper/internal/logging"
)

// Event describes one committed change to an access record or invite.
type Event struct {
	Kind          string
	SecretID      string
	ActorID       string
	RecipientKind string
	RecipientID   string
	From          string
	To            string
}

// Notifier delivers events. Failures must not undo the committed change, so
// callers log and drop the returned error.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier writes every event to a logger.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(l logging.Logger) *LogNotifier {
	return &LogNotifier{logger: l}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) error {
	logging.FromContext(ctx, n.logger).Info(ctx, "sharing event",
		"kind", e.Kind,
		"secret_id", e.SecretID,
		"actor_id", e.ActorID,
		"recipient_kind", e.RecipientKind,
		"recipient_id", e.RecipientID,
		"from", e.From,
		"to", e.To,
	)
	return nil
}

// Recorder keeps events in memory. Tests use it to assert what was sent.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
