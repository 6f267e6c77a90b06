package readiness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"ipx/internal/catalog"
	"ipx/internal/registration/models"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
)

func readyForm() models.Form {
	f := models.NewForm()
	f.AssetType = catalog.AssetGitHub
	f.AssetReference = "https://github.com/ada/engine"
	f.TermsAccepted = true
	return f
}

func TestCanSubmit_PriorityOrder(t *testing.T) {
	proof := &models.ProofRef{Ref: "bafk"}

	tests := []struct {
		name   string
		form   func() models.Form
		state  models.VerificationState
		reason string
		code   dErrors.Code
	}{
		{
			name:   "asset type unset wins over everything",
			form:   func() models.Form { f := models.NewForm(); f.AssetReference = "x"; return f },
			state:  models.AlreadyRegistered(1),
			reason: ReasonSelectAssetType,
			code:   dErrors.CodeValidationIncomplete,
		},
		{
			name:   "selected type without reference",
			form:   func() models.Form { f := readyForm(); f.AssetReference = ""; return f },
			state:  models.Unstarted(),
			reason: ReasonEnterReference,
			code:   dErrors.CodeValidationIncomplete,
		},
		{
			name:   "unstarted",
			form:   readyForm,
			state:  models.Unstarted(),
			reason: ReasonOwnershipNotVerified,
			code:   dErrors.CodeOwnershipUnverified,
		},
		{
			name:   "in progress",
			form:   readyForm,
			state:  models.InProgress(1, time.Now()),
			reason: ReasonVerificationRunning,
			code:   dErrors.CodeOwnershipUnverified,
		},
		{
			name:   "failed without proof",
			form:   func() models.Form { f := readyForm(); f.TermsAccepted = false; return f },
			state:  models.Failed(1, "not found"),
			reason: ReasonManualProofRequired,
			code:   dErrors.CodeOwnershipUnverified,
		},
		{
			name:   "already registered even with terms accepted",
			form:   readyForm,
			state:  models.AlreadyRegistered(1),
			reason: ReasonAlreadyRegistered,
			code:   dErrors.CodeAlreadyRegistered,
		},
		{
			name:   "already registered masks unaccepted terms",
			form:   func() models.Form { f := readyForm(); f.TermsAccepted = false; return f },
			state:  models.AlreadyRegistered(1),
			reason: ReasonAlreadyRegistered,
			code:   dErrors.CodeAlreadyRegistered,
		},
		{
			name:   "verified without terms",
			form:   func() models.Form { f := readyForm(); f.TermsAccepted = false; return f },
			state:  models.Verified(1),
			reason: ReasonAcceptTerms,
			code:   dErrors.CodeValidationIncomplete,
		},
		{
			name:   "failed with proof but no override is still blocked",
			form:   func() models.Form { f := readyForm(); f.ManualProof = proof; return f },
			state:  models.Failed(1, "not found"),
			reason: ReasonOwnershipNotVerified,
			code:   dErrors.CodeOwnershipUnverified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanSubmit(tt.form(), tt.state)
			assert.False(t, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.code, d.Code)
			assert.True(t, dErrors.HasCode(d.Err(), tt.code))
		})
	}

	t.Run("verified with terms is allowed", func(t *testing.T) {
		d := CanSubmit(readyForm(), models.Verified(1))
		assert.True(t, d.Allowed)
		assert.Empty(t, d.Reason)
		assert.NoError(t, d.Err())
	})

	t.Run("manual override with terms is allowed", func(t *testing.T) {
		f := readyForm()
		f.ManualProof = proof
		assert.True(t, CanSubmit(f, models.ManualOverride(1)).Allowed)
	})
}

// The scenarios below walk the aggregate rather than building states by hand.
func TestCanSubmit_Scenarios(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assetType := catalog.AssetSpotify

	newReg := func(t *testing.T) *models.Registration {
		reg, err := models.NewRegistration(id.NewRegistrationID(), "alice", now)
		assert.NoError(t, err)
		return reg
	}

	t.Run("selected type with empty reference", func(t *testing.T) {
		reg := newReg(t)
		_, err := reg.Patch(models.FormPatch{AssetType: &assetType}, now)
		assert.NoError(t, err)

		d := CanSubmit(reg.Form, reg.Verification)
		assert.False(t, d.Allowed)
		assert.Equal(t, "enter asset reference.", d.Reason)
	})

	t.Run("already registered stays blocked after accepting terms", func(t *testing.T) {
		reg := newReg(t)
		ref, accepted := "spotify:artist:1", true
		_, err := reg.Patch(models.FormPatch{AssetType: &assetType, AssetReference: &ref}, now)
		assert.NoError(t, err)
		attempt, err := reg.BeginVerification(now, time.Minute)
		assert.NoError(t, err)
		reg.ApplyVerificationOutcome(models.VerificationOutcome{Attempt: attempt, Kind: models.VerificationAlreadyRegistered}, now)
		_, err = reg.Patch(models.FormPatch{TermsAccepted: &accepted}, now)
		assert.NoError(t, err)

		d := CanSubmit(reg.Form, reg.Verification)
		assert.False(t, d.Allowed)
		assert.Equal(t, "asset already registered.", d.Reason)
	})

	t.Run("failed then manual proof then terms is allowed", func(t *testing.T) {
		reg := newReg(t)
		ref, accepted := "spotify:artist:1", true
		_, err := reg.Patch(models.FormPatch{AssetType: &assetType, AssetReference: &ref}, now)
		assert.NoError(t, err)
		attempt, err := reg.BeginVerification(now, time.Minute)
		assert.NoError(t, err)
		reg.ApplyVerificationOutcome(models.VerificationOutcome{Attempt: attempt, Kind: models.VerificationFailed, Reason: "not found"}, now)

		assert.NoError(t, reg.CanAttachManualProof(now))
		reg.ApplyManualProof(models.ProofRef{Ref: "bafk", ContentType: "application/pdf"}, now)
		assert.True(t, reg.Verification.Is(models.VerificationManualOverride))

		_, err = reg.Patch(models.FormPatch{TermsAccepted: &accepted}, now)
		assert.NoError(t, err)
		assert.True(t, CanSubmit(reg.Form, reg.Verification).Allowed)
	})
}

func drawState(t *rapid.T) models.VerificationState {
	switch rapid.IntRange(0, 5).Draw(t, "kind") {
	case 0:
		return models.Unstarted()
	case 1:
		return models.InProgress(1, time.Unix(0, 0))
	case 2:
		return models.Verified(1)
	case 3:
		return models.Failed(1, rapid.SampledFrom([]string{"timeout", "not found", ""}).Draw(t, "reason"))
	case 4:
		return models.AlreadyRegistered(1)
	default:
		return models.ManualOverride(1)
	}
}

// TestCanSubmit_IffProperty: allowed exactly when the type is set, the
// reference is non-empty, ownership is established and terms are accepted.
// Blocked decisions always carry exactly one non-empty reason.
func TestCanSubmit_IffProperty(t *testing.T) {
	ids := []catalog.AssetTypeID{""}
	for _, d := range catalog.Default().List() {
		ids = append(ids, d.ID)
	}

	rapid.Check(t, func(t *rapid.T) {
		form := models.NewForm()
		form.AssetType = rapid.SampledFrom(ids).Draw(t, "assetType")
		form.AssetReference = rapid.SampledFrom([]string{"", "@ada", "https://example.com/x"}).Draw(t, "reference")
		form.TermsAccepted = rapid.Bool().Draw(t, "terms")
		form.RevenueConnected = rapid.Bool().Draw(t, "revenueConnected")
		form.RevenueSharePercent = models.ClampRevenueShare(rapid.IntRange(-10, 200).Draw(t, "share"))
		if rapid.Bool().Draw(t, "proof") {
			form.ManualProof = &models.ProofRef{Ref: "bafk"}
		}
		state := drawState(t)

		d := CanSubmit(form, state)

		want := form.AssetType != "" &&
			form.AssetReference != "" &&
			(state.Is(models.VerificationVerified) || state.Is(models.VerificationManualOverride)) &&
			form.TermsAccepted &&
			!state.Is(models.VerificationAlreadyRegistered)

		if d.Allowed != want {
			t.Fatalf("CanSubmit = %v, want %v (form=%+v state=%s)", d.Allowed, want, form, state)
		}
		if !d.Allowed && d.Reason == "" {
			t.Fatalf("blocked without a reason (form=%+v state=%s)", form, state)
		}
		if d.Allowed && d.Reason != "" {
			t.Fatalf("allowed with reason %q", d.Reason)
		}
	})
}
