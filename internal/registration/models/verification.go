package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// VerificationKind names the variant held by a VerificationState.
type VerificationKind string

const (
	VerificationUnstarted         VerificationKind = "unstarted"
	VerificationInProgress        VerificationKind = "in_progress"
	VerificationVerified          VerificationKind = "verified"
	VerificationFailed            VerificationKind = "failed"
	VerificationAlreadyRegistered VerificationKind = "already_registered"
	VerificationManualOverride    VerificationKind = "manual_override"
)

func (k VerificationKind) IsValid() bool {
	switch k {
	case VerificationUnstarted, VerificationInProgress, VerificationVerified,
		VerificationFailed, VerificationAlreadyRegistered, VerificationManualOverride:
		return true
	}
	return false
}

// IsTerminal reports whether the kind is an outcome of a finished attempt.
func (k VerificationKind) IsTerminal() bool {
	switch k {
	case VerificationVerified, VerificationFailed, VerificationAlreadyRegistered, VerificationManualOverride:
		return true
	}
	return false
}

// Failure reasons produced by the workflow itself.
const (
	ReasonTimeout     = "timeout"
	ReasonUnavailable = "verification service unavailable"
	ReasonUnknown     = "unknown"
)

// VerificationState is a closed tagged union: exactly one kind holds, and a
// reason exists only for the failed kind. Values are built through the
// constructors below; the zero value is Unstarted.
//
// Attempt identifies the verification attempt the state belongs to, so a
// result that arrives for an older attempt can be recognized and dropped.
type VerificationState struct {
	kind      VerificationKind
	reason    string
	attempt   uint64
	startedAt time.Time
}

func Unstarted() VerificationState {
	return VerificationState{kind: VerificationUnstarted}
}

func InProgress(attempt uint64, startedAt time.Time) VerificationState {
	return VerificationState{kind: VerificationInProgress, attempt: attempt, startedAt: startedAt}
}

func Verified(attempt uint64) VerificationState {
	return VerificationState{kind: VerificationVerified, attempt: attempt}
}

// Failed carries a short diagnostic. An empty reason becomes ReasonUnknown.
func Failed(attempt uint64, reason string) VerificationState {
	if reason == "" {
		reason = ReasonUnknown
	}
	return VerificationState{kind: VerificationFailed, reason: reason, attempt: attempt}
}

func AlreadyRegistered(attempt uint64) VerificationState {
	return VerificationState{kind: VerificationAlreadyRegistered, attempt: attempt}
}

func ManualOverride(attempt uint64) VerificationState {
	return VerificationState{kind: VerificationManualOverride, attempt: attempt}
}

func (v VerificationState) Kind() VerificationKind {
	if v.kind == "" {
		return VerificationUnstarted
	}
	return v.kind
}

func (v VerificationState) Is(kind VerificationKind) bool { return v.Kind() == kind }
func (v VerificationState) Reason() string                { return v.reason }
func (v VerificationState) Attempt() uint64               { return v.attempt }
func (v VerificationState) StartedAt() time.Time          { return v.startedAt }
func (v VerificationState) IsTerminal() bool              { return v.Kind().IsTerminal() }

// IsOwnershipEstablished reports whether the state satisfies the ownership
// requirement for submission.
func (v VerificationState) IsOwnershipEstablished() bool {
	return v.Is(VerificationVerified) || v.Is(VerificationManualOverride)
}

func (v VerificationState) String() string {
	if v.Is(VerificationFailed) {
		return fmt.Sprintf("failed(%s)", v.reason)
	}
	return string(v.Kind())
}

type verificationStateJSON struct {
	Kind      VerificationKind `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	Attempt   uint64           `json:"attempt,omitempty"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
}

func (v VerificationState) MarshalJSON() ([]byte, error) {
	out := verificationStateJSON{Kind: v.Kind(), Reason: v.reason, Attempt: v.attempt}
	if !v.startedAt.IsZero() {
		started := v.startedAt
		out.StartedAt = &started
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the state through the constructors so persisted
// records cannot smuggle in an illegal combination.
func (v *VerificationState) UnmarshalJSON(b []byte) error {
	var in verificationStateJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "", VerificationUnstarted:
		*v = Unstarted()
	case VerificationInProgress:
		var started time.Time
		if in.StartedAt != nil {
			started = *in.StartedAt
		}
		*v = InProgress(in.Attempt, started)
	case VerificationVerified:
		*v = Verified(in.Attempt)
	case VerificationFailed:
		*v = Failed(in.Attempt, in.Reason)
	case VerificationAlreadyRegistered:
		*v = AlreadyRegistered(in.Attempt)
	case VerificationManualOverride:
		*v = ManualOverride(in.Attempt)
	default:
		return fmt.Errorf("unknown verification status %q", in.Kind)
	}
	return nil
}

// AssetMetadata is the descriptive data a successful verification supplies.
type AssetMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// VerificationOutcome is a classified result for one attempt.
type VerificationOutcome struct {
	Attempt  uint64
	Kind     VerificationKind
	Reason   string
	Metadata *AssetMetadata
}

// State converts the outcome to the state it produces. Only verified, failed
// and already-registered are valid outcome kinds; anything else becomes a failure.
func (o VerificationOutcome) State() VerificationState {
	switch o.Kind {
	case VerificationVerified:
		return Verified(o.Attempt)
	case VerificationAlreadyRegistered:
		return AlreadyRegistered(o.Attempt)
	default:
		return Failed(o.Attempt, o.Reason)
	}
}
