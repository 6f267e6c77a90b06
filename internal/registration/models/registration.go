package models

import (
	"fmt"
	"strings"
	"time"

	"ipx/internal/catalog"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
)

// Gate messages shared by the aggregate and the submission gate.
const (
	MsgSelectAssetType   = "select an asset type."
	MsgEnterReference    = "enter asset reference."
	MsgAlreadyRegistered = "asset already registered."
)

// Submission records a successful mint.
type Submission struct {
	InstrumentID id.InstrumentID `json:"instrument_id"`
	SubmittedAt  time.Time       `json:"submitted_at"`
}

// Registration is the aggregate root for one registration attempt: a form,
// the verification state scoped to the form's (asset type, reference) pair,
// and the submission bookkeeping.
//
// Invariants:
//   - Owner is set at construction and never changes
//   - Verification is Unstarted whenever AssetType or AssetReference changed
//     since the last attempt began
//   - ManualProof is only present while Verification is ManualOverride
//   - At most one verification attempt and one submission are outstanding
//   - Once Submission is set the registration is consumed and rejects edits
type Registration struct {
	ID              id.RegistrationID `json:"id"`
	Owner           id.PrincipalID    `json:"owner"`
	Form            Form              `json:"form"`
	Verification    VerificationState `json:"verification"`
	Attempts        uint64            `json:"attempts"`
	SubmittingUntil *time.Time        `json:"submitting_until,omitempty"`
	Submission      *Submission       `json:"submission,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func NewRegistration(regID id.RegistrationID, owner id.PrincipalID, now time.Time) (*Registration, error) {
	if regID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "registration id is required")
	}
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "owner principal is required")
	}
	return &Registration{
		ID:           regID,
		Owner:        owner,
		Form:         NewForm(),
		Verification: Unstarted(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (r *Registration) IsOwnedBy(p id.PrincipalID) bool { return r.Owner == p }

func (r *Registration) IsSubmitted() bool { return r.Submission != nil }

// IsSubmitting reports whether a submission claimed the registration and its
// lease has not run out.
func (r *Registration) IsSubmitting(now time.Time) bool {
	return r.SubmittingUntil != nil && now.Before(*r.SubmittingUntil)
}

// CanEdit checks that the form may still change.
func (r *Registration) CanEdit(now time.Time) error {
	if r.IsSubmitted() {
		return dErrors.New(dErrors.CodeConflict, "registration already submitted")
	}
	if r.IsSubmitting(now) {
		return dErrors.New(dErrors.CodeConflict, "submission in progress")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Form edits
// -----------------------------------------------------------------------------

// FormPatch is a partial form update. Nil fields are left untouched.
type FormPatch struct {
	AssetType           *catalog.AssetTypeID
	AssetReference      *string
	Title               *string
	Description         *string
	RevenueConnected    *bool
	RevenueSharePercent *int
	BondTermMonths      *int
	PayoutStyle         *PayoutStyle
	TermsAccepted       *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p FormPatch) IsEmpty() bool {
	return p.AssetType == nil && p.AssetReference == nil && p.Title == nil &&
		p.Description == nil && p.RevenueConnected == nil && p.RevenueSharePercent == nil &&
		p.BondTermMonths == nil && p.PayoutStyle == nil && p.TermsAccepted == nil
}

// Validate checks field-local rules. Catalog membership of AssetType is the
// caller's concern.
func (p FormPatch) Validate() error {
	if p.AssetType != nil && *p.AssetType == "" {
		return dErrors.New(dErrors.CodeValidation, "asset type cannot be cleared")
	}
	if p.AssetReference != nil && len(strings.TrimSpace(*p.AssetReference)) > MaxReferenceLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("asset reference must be %d characters or less", MaxReferenceLength))
	}
	if p.Title != nil && len([]rune(*p.Title)) > MaxTitleLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	if p.Description != nil && len([]rune(*p.Description)) > MaxDescriptionLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}
	if p.BondTermMonths != nil && !IsValidBondTerm(*p.BondTermMonths) {
		return dErrors.New(dErrors.CodeValidation, "bond term must be one of 3, 6, 12, 18 or 24 months")
	}
	if p.PayoutStyle != nil && !p.PayoutStyle.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "payout style must be linear, performance or cliff")
	}
	return nil
}

// PatchResult describes what an applied patch changed.
type PatchResult struct {
	AssetTypeChanged bool
	ReferenceChanged bool
	// VerificationReset is set when the change discarded a verification state
	// other than Unstarted.
	VerificationReset bool
	PreviousState     VerificationState
}

// CanApplyPatch validates the patch against the current form without mutating it.
func (r *Registration) CanApplyPatch(p FormPatch, now time.Time) error {
	if err := r.CanEdit(now); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if p.AssetReference != nil && strings.TrimSpace(*p.AssetReference) != "" {
		hasType := r.Form.HasAssetType() || p.AssetType != nil
		if !hasType {
			return dErrors.New(dErrors.CodeValidation, "select an asset type before entering a reference")
		}
	}
	return nil
}

// ApplyPatch applies a validated patch. Any actual change of asset type or
// reference resets verification and drops the manual proof, because both are
// scoped to the (asset type, reference) pair. Setting a field to its current
// value is not a change.
func (r *Registration) ApplyPatch(p FormPatch, now time.Time) PatchResult {
	result := PatchResult{PreviousState: r.Verification}

	if p.AssetType != nil && *p.AssetType != r.Form.AssetType {
		r.Form.AssetType = *p.AssetType
		result.AssetTypeChanged = true
	}
	if p.AssetReference != nil {
		ref := strings.TrimSpace(*p.AssetReference)
		if ref != r.Form.AssetReference {
			r.Form.AssetReference = ref
			result.ReferenceChanged = true
		}
	}
	if p.Title != nil {
		r.Form.Title = *p.Title
	}
	if p.Description != nil {
		r.Form.Description = *p.Description
	}
	if p.RevenueConnected != nil {
		r.Form.RevenueConnected = *p.RevenueConnected
	}
	if p.RevenueSharePercent != nil {
		r.Form.RevenueSharePercent = ClampRevenueShare(*p.RevenueSharePercent)
	}
	if p.BondTermMonths != nil {
		r.Form.BondTermMonths = *p.BondTermMonths
	}
	if p.PayoutStyle != nil {
		r.Form.PayoutStyle = *p.PayoutStyle
	}
	if p.TermsAccepted != nil {
		r.Form.TermsAccepted = *p.TermsAccepted
	}

	if result.AssetTypeChanged || result.ReferenceChanged {
		result.VerificationReset = !r.Verification.Is(VerificationUnstarted)
		r.resetVerification()
	}
	r.UpdatedAt = now
	return result
}

// Patch validates and applies a patch in one call.
func (r *Registration) Patch(p FormPatch, now time.Time) (PatchResult, error) {
	if err := r.CanApplyPatch(p, now); err != nil {
		return PatchResult{}, err
	}
	return r.ApplyPatch(p, now), nil
}

func (r *Registration) resetVerification() {
	r.Verification = Unstarted()
	r.Form.ManualProof = nil
}

// -----------------------------------------------------------------------------
// Verification lifecycle
// -----------------------------------------------------------------------------

// CanBeginVerification checks the preconditions for a new attempt. An attempt
// still InProgress blocks a new one until busyLease has elapsed since it began.
func (r *Registration) CanBeginVerification(now time.Time, busyLease time.Duration) error {
	if err := r.CanEdit(now); err != nil {
		return err
	}
	if !r.Form.HasAssetType() {
		return dErrors.New(dErrors.CodeValidationIncomplete, MsgSelectAssetType)
	}
	if !r.Form.HasReference() {
		return dErrors.New(dErrors.CodeValidationIncomplete, MsgEnterReference)
	}
	switch r.Verification.Kind() {
	case VerificationInProgress:
		if now.Sub(r.Verification.StartedAt()) < busyLease {
			return dErrors.New(dErrors.CodeConflict, "verification already in progress")
		}
	case VerificationAlreadyRegistered:
		return dErrors.New(dErrors.CodeAlreadyRegistered, MsgAlreadyRegistered)
	}
	return nil
}

// ApplyBeginVerification starts a new attempt and returns its number. A
// previously attached manual proof belongs to the superseded attempt and is dropped.
func (r *Registration) ApplyBeginVerification(now time.Time) uint64 {
	r.Attempts++
	r.Verification = InProgress(r.Attempts, now)
	r.Form.ManualProof = nil
	r.UpdatedAt = now
	return r.Attempts
}

// BeginVerification validates and starts an attempt in one call.
func (r *Registration) BeginVerification(now time.Time, busyLease time.Duration) (uint64, error) {
	if err := r.CanBeginVerification(now, busyLease); err != nil {
		return 0, err
	}
	return r.ApplyBeginVerification(now), nil
}

// ApplyVerificationOutcome applies a result if it belongs to the attempt still
// in progress and reports whether it did. Results for superseded attempts, or
// arriving after the pair changed, are discarded.
//
// A verified outcome overwrites title and description with the metadata the
// verification service supplied.
func (r *Registration) ApplyVerificationOutcome(o VerificationOutcome, now time.Time) bool {
	if !r.Verification.Is(VerificationInProgress) || r.Verification.Attempt() != o.Attempt {
		return false
	}
	r.Verification = o.State()
	if r.Verification.Is(VerificationVerified) && o.Metadata != nil {
		r.Form.Title = truncateRunes(o.Metadata.Title, MaxTitleLength)
		r.Form.Description = truncateRunes(o.Metadata.Description, MaxDescriptionLength)
	}
	r.UpdatedAt = now
	return true
}

// CanAttachManualProof allows the fallback only after a failed attempt. An
// already-registered asset cannot be rescued by manual proof.
func (r *Registration) CanAttachManualProof(now time.Time) error {
	if err := r.CanEdit(now); err != nil {
		return err
	}
	switch r.Verification.Kind() {
	case VerificationFailed:
		return nil
	case VerificationAlreadyRegistered:
		return dErrors.New(dErrors.CodeAlreadyRegistered, "asset already registered; manual proof cannot be used")
	default:
		return dErrors.New(dErrors.CodeConflict, "manual proof is only accepted after a failed verification")
	}
}

// ApplyManualProof records the proof and moves to ManualOverride. Proof content
// is not inspected.
func (r *Registration) ApplyManualProof(ref ProofRef, now time.Time) {
	r.Form.ManualProof = &ref
	r.Verification = ManualOverride(r.Verification.Attempt())
	r.UpdatedAt = now
}

// -----------------------------------------------------------------------------
// Submission lifecycle
// -----------------------------------------------------------------------------

// CanBeginSubmission rejects a consumed registration and a concurrent submit.
// Gate evaluation is separate.
func (r *Registration) CanBeginSubmission(now time.Time) error {
	if r.IsSubmitted() {
		return dErrors.New(dErrors.CodeConflict, "registration already submitted")
	}
	if r.IsSubmitting(now) {
		return dErrors.New(dErrors.CodeConflict, "submission already in progress")
	}
	return nil
}

// CanDiscard rejects discarding a consumed registration or one whose
// submission claim is still held.
func (r *Registration) CanDiscard(now time.Time) error {
	if r.IsSubmitted() {
		return dErrors.New(dErrors.CodeConflict, "registration already submitted")
	}
	if r.IsSubmitting(now) {
		return dErrors.New(dErrors.CodeConflict, "submission in progress")
	}
	return nil
}

// ApplyBeginSubmission claims the registration for one submission until now+lease.
func (r *Registration) ApplyBeginSubmission(now time.Time, lease time.Duration) {
	until := now.Add(lease)
	r.SubmittingUntil = &until
	r.UpdatedAt = now
}

// ApplySubmissionFailed releases the claim and leaves the form untouched.
func (r *Registration) ApplySubmissionFailed(now time.Time) {
	r.SubmittingUntil = nil
	r.UpdatedAt = now
}

// ApplySubmissionSucceeded consumes the registration.
func (r *Registration) ApplySubmissionSucceeded(sub Submission) {
	r.SubmittingUntil = nil
	r.Submission = &sub
	r.UpdatedAt = sub.SubmittedAt
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Clone returns a deep copy safe to mutate independently.
func (r *Registration) Clone() *Registration {
	if r == nil {
		return nil
	}
	c := *r
	if r.Form.ManualProof != nil {
		proof := *r.Form.ManualProof
		c.Form.ManualProof = &proof
	}
	if r.SubmittingUntil != nil {
		until := *r.SubmittingUntil
		c.SubmittingUntil = &until
	}
	if r.Submission != nil {
		sub := *r.Submission
		c.Submission = &sub
	}
	return &c
}
