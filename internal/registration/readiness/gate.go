// Package readiness decides whether a registration may be submitted.
package readiness

import (
	"ipx/internal/registration/models"
	dErrors "ipx/pkg/domain-errors"
)

// Blocked-submission reasons, surfaced to the user verbatim.
const (
	ReasonSelectAssetType      = models.MsgSelectAssetType
	ReasonEnterReference       = models.MsgEnterReference
	ReasonOwnershipNotVerified = "ownership not yet validated."
	ReasonVerificationRunning  = "ownership validation in progress."
	ReasonManualProofRequired  = "validation failed; manual proof required."
	ReasonAlreadyRegistered    = models.MsgAlreadyRegistered
	ReasonAcceptTerms          = "must accept terms."
)

// Decision is the gate verdict. When blocked, Reason and Code identify the
// single condition that blocks.
type Decision struct {
	Allowed bool
	Reason  string
	Code    dErrors.Code
}

// Err converts a blocked decision into the matching domain error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return dErrors.New(d.Code, d.Reason)
}

func blocked(code dErrors.Code, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// CanSubmit evaluates the gate. This is pure domain logic with no I/O.
// Rule priority (first match wins):
//  1. Asset type selected
//  2. Asset reference entered
//  3. Ownership verification started (and finished)
//  4. A failed verification without manual proof needs the fallback
//  5. Already-registered assets are terminal for this attempt
//  6. Terms accepted
//  7. Verified or manual override with terms accepted is allowed
func CanSubmit(form models.Form, v models.VerificationState) Decision {
	// Rule 1: asset type
	if !form.HasAssetType() {
		return blocked(dErrors.CodeValidationIncomplete, ReasonSelectAssetType)
	}

	// Rule 2: asset reference
	if !form.HasReference() {
		return blocked(dErrors.CodeValidationIncomplete, ReasonEnterReference)
	}

	// Rule 3: verification must have been attempted
	switch v.Kind() {
	case models.VerificationUnstarted:
		return blocked(dErrors.CodeOwnershipUnverified, ReasonOwnershipNotVerified)
	case models.VerificationInProgress:
		return blocked(dErrors.CodeOwnershipUnverified, ReasonVerificationRunning)
	}

	// Rule 4: failed needs the manual fallback
	if v.Is(models.VerificationFailed) && !form.HasManualProof() {
		return blocked(dErrors.CodeOwnershipUnverified, ReasonManualProofRequired)
	}

	// Rule 5: already registered
	if v.Is(models.VerificationAlreadyRegistered) {
		return blocked(dErrors.CodeAlreadyRegistered, ReasonAlreadyRegistered)
	}

	// Rule 6: terms
	if !form.TermsAccepted {
		return blocked(dErrors.CodeValidationIncomplete, ReasonAcceptTerms)
	}

	// Rule 7: ownership established
	if !v.IsOwnershipEstablished() {
		return blocked(dErrors.CodeOwnershipUnverified, ReasonOwnershipNotVerified)
	}
	return Decision{Allowed: true}
}
