package ports

import (
	"context"

	"ipx/pkg/platform/audit"
)

// AuditPublisher emits audit events. Emission is best effort from the
// workflow's point of view.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
