package audit

import (
	"context"
	"time"

	id "ipx/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or financial significance:
	// a registration opened, ownership attested by upload, an instrument minted.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers access violations and authentication failures.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine workflow steps useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID             string
	Category       EventCategory
	Timestamp      time.Time
	Principal      id.PrincipalID
	RegistrationID string
	Action         string
	// Subject names the asset involved, e.g. "github:ada/engine".
	Subject   string
	Decision  string
	Reason    string
	RequestID string
	ClientIP  string
	// UserAgent is the parsed client family, e.g. "Firefox 128 (Linux)".
	UserAgent string
}

type AuditEvent string

const (
	// Registration lifecycle
	EventRegistrationStarted   AuditEvent = "registration_started"
	EventRegistrationDiscarded AuditEvent = "registration_discarded"
	EventAssetSelected         AuditEvent = "asset_selected"

	// Verification
	EventVerificationStarted   AuditEvent = "verification_started"
	EventVerificationCompleted AuditEvent = "verification_completed"
	EventVerificationDiscarded AuditEvent = "verification_discarded"
	EventManualProofAttached   AuditEvent = "manual_proof_attached"

	// Submission
	EventSubmissionSucceeded AuditEvent = "submission_succeeded"
	EventSubmissionFailed    AuditEvent = "submission_failed"

	// Access
	EventAccessDenied AuditEvent = "access_denied"
	EventAuthFailed   AuditEvent = "auth_failed"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventRegistrationStarted:   CategoryCompliance,
	EventRegistrationDiscarded: CategoryCompliance,
	EventManualProofAttached:   CategoryCompliance,
	EventSubmissionSucceeded:   CategoryCompliance,

	EventAccessDenied: CategorySecurity,
	EventAuthFailed:   CategorySecurity,

	EventAssetSelected:         CategoryOperations,
	EventVerificationStarted:   CategoryOperations,
	EventVerificationCompleted: CategoryOperations,
	EventVerificationDiscarded: CategoryOperations,
	EventSubmissionFailed:      CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can be queried.
type Lister interface {
	ListByPrincipal(ctx context.Context, principal id.PrincipalID) ([]Event, error)
	ListByRegistration(ctx context.Context, registrationID string) ([]Event, error)
}
