package service

import (
	"context"

	"ipx/internal/registration/models"
	"ipx/internal/registration/ports"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
	"ipx/pkg/platform/audit"
	"ipx/pkg/requestcontext"
)

// AttachManualProof stores an uploaded proof and moves a failed verification
// to manual override. The proof content is not inspected.
func (s *Service) AttachManualProof(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID, upload ports.ProofUpload) (*View, error) {
	// Reject before reading the upload when the state cannot accept it.
	current, err := s.load(ctx, principal, regID)
	if err != nil {
		return nil, err
	}
	if err := current.CanAttachManualProof(requestcontext.Now(ctx)); err != nil {
		return nil, err
	}

	stored, err := s.proofs.Store(ctx, upload)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store manual proof")
	}

	// The state may have moved while the upload was stored.
	reg, err := s.mutate(ctx, principal, regID, func(r *models.Registration) error {
		now := requestcontext.Now(ctx)
		if err := r.CanAttachManualProof(now); err != nil {
			return err
		}
		r.ApplyManualProof(models.ProofRef{
			Ref:         stored.Ref,
			FileName:    stored.FileName,
			ContentType: stored.ContentType,
			Size:        stored.Size,
			UploadedAt:  stored.StoredAt,
		}, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "manual proof attached",
		"registration_id", reg.ID,
		"proof_ref", stored.Ref,
		"content_type", stored.ContentType,
		"size", stored.Size,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.EventManualProofAttached, reg, func(e *audit.Event) {
		e.Decision = string(models.VerificationManualOverride)
		e.Reason = stored.Ref
	})
	s.metrics.IncrementManualProofs()
	return s.view(ctx, reg), nil
}
