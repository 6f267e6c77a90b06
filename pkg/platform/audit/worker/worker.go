package worker

import (
	"context"
	"log/slog"

	audit "ipx/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. A failed
// append is logged and the event dropped; the worker keeps draining.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
	failed func()
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger, failed: func() {}}
}

// OnFailure registers a hook called once per event the store rejected.
func (w *Worker) OnFailure(fn func()) {
	if fn != nil {
		w.failed = fn
	}
}

// Run persists events until the inbox is closed. Cancelling ctx stops the
// worker immediately; closing the inbox drains it first.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.store.Append(context.WithoutCancel(ctx), event); err != nil {
				w.failed()
				w.logger.ErrorContext(ctx, "audit append failed",
					"action", event.Action,
					"registration_id", event.RegistrationID,
					"error", err,
				)
			}
		}
	}
}
