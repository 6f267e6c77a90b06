package service

import (
	"context"
	"errors"
	"fmt"

	"ipx/internal/registration/models"
	"ipx/internal/registration/params"
	"ipx/internal/registration/readiness"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
	"ipx/pkg/platform/audit"
	"ipx/pkg/requestcontext"
)

// View is a registration plus everything derived from it at read time.
type View struct {
	Registration *models.Registration
	Fee          string
	TermWindow   params.TermWindow
	Readiness    readiness.Decision
	Submitting   bool
}

func (s *Service) view(ctx context.Context, reg *models.Registration) *View {
	now := requestcontext.Now(ctx)
	return &View{
		Registration: reg,
		Fee:          params.FormatFee(params.EstimatedFee(reg.Form)),
		TermWindow:   params.EstimatedTermWindow(reg.Form, now, s.location),
		Readiness:    readiness.CanSubmit(reg.Form, reg.Verification),
		Submitting:   reg.IsSubmitting(now),
	}
}

// Start opens an empty registration owned by principal.
func (s *Service) Start(ctx context.Context, principal id.PrincipalID) (*View, error) {
	if principal.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	reg, err := models.NewRegistration(id.NewRegistrationID(), principal, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, reg); err != nil {
		return nil, s.translateStoreErr(err, "failed to create registration")
	}

	s.logger.InfoContext(ctx, "registration started",
		"registration_id", reg.ID,
		"principal", principal,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.EventRegistrationStarted, reg, nil)
	s.metrics.IncrementRegistrationsStarted()
	return s.view(ctx, reg), nil
}

// Get returns the registration with fee, term window and gate readiness.
func (s *Service) Get(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) (*View, error) {
	reg, err := s.load(ctx, principal, regID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, reg), nil
}

// UpdateForm applies a partial form update. Changing the asset type or the
// reference resets verification and drops any manual proof.
func (s *Service) UpdateForm(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID, patch models.FormPatch) (*View, error) {
	if patch.AssetType != nil && *patch.AssetType != "" {
		if _, ok := s.catalog.Lookup(*patch.AssetType); !ok {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown asset type %q", *patch.AssetType))
		}
	}

	var result models.PatchResult
	reg, err := s.mutate(ctx, principal, regID, func(r *models.Registration) error {
		res, err := r.Patch(patch, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AssetTypeChanged {
		s.emit(ctx, audit.EventAssetSelected, reg, nil)
	}
	if result.VerificationReset {
		s.logger.InfoContext(ctx, "verification reset by asset change",
			"registration_id", reg.ID,
			"previous_state", result.PreviousState.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return s.view(ctx, reg), nil
}

// Discard deletes a registration the principal no longer wants. The checks
// run inside the store's delete, so a submission claimed concurrently wins
// and the discard fails with conflict.
func (s *Service) Discard(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) error {
	if principal.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	var discarded *models.Registration
	err := s.store.Delete(ctx, regID, func(r *models.Registration) error {
		if !r.IsOwnedBy(principal) {
			discarded = r
			return errNotOwner
		}
		if err := r.CanDiscard(requestcontext.Now(ctx)); err != nil {
			return err
		}
		discarded = r
		return nil
	})
	if errors.Is(err, errNotOwner) {
		return s.denied(ctx, discarded, principal)
	}
	if err != nil {
		return s.translateStoreErr(err, "failed to discard registration")
	}

	s.logger.InfoContext(ctx, "registration discarded",
		"registration_id", regID,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.EventRegistrationDiscarded, discarded, nil)
	s.metrics.IncrementRegistrationsDiscarded()
	return nil
}
