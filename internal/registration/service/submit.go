package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ipx/internal/platform/tracing"
	"ipx/internal/registration/models"
	"ipx/internal/registration/params"
	"ipx/internal/registration/ports"
	"ipx/internal/registration/readiness"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
	"ipx/pkg/platform/audit"
	"ipx/pkg/platform/sentinel"
	"ipx/pkg/requestcontext"
)

// Submit re-checks the gate, claims the registration and mints an instrument
// from a frozen snapshot. On failure the claim is released and the form is
// left as it was, so the owner can retry.
func (s *Service) Submit(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) (*models.Submission, error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanSubmit, trace.WithAttributes(
		attribute.String(tracing.AttrRegistration, regID.String()),
	))
	defer span.End()

	snapshot, err := s.claim(ctx, principal, regID)
	if err != nil {
		if code := dErrors.CodeOf(err); code == dErrors.CodeValidationIncomplete ||
			code == dErrors.CodeOwnershipUnverified || code == dErrors.CodeAlreadyRegistered {
			s.metrics.IncrementSubmissionBlocked(string(code))
		}
		span.SetStatus(codes.Error, dErrors.MessageOf(err))
		return nil, err
	}

	req, err := s.mintRequest(ctx, snapshot)
	if err != nil {
		s.release(ctx, snapshot)
		return nil, err
	}

	start := time.Now()
	receipt, mintErr := s.mint(ctx, req)
	s.metrics.ObserveSubmission(mintErr == nil, time.Since(start))
	if mintErr != nil {
		span.RecordError(mintErr)
		span.SetStatus(codes.Error, "mint failed")
		return nil, s.submissionFailed(ctx, snapshot, mintErr)
	}
	span.SetAttributes(attribute.String(tracing.AttrInstrumentID, string(receipt.InstrumentID)))

	submittedAt := receipt.MintedAt
	if submittedAt.IsZero() {
		submittedAt = requestcontext.Now(ctx)
	}
	sub := models.Submission{InstrumentID: receipt.InstrumentID, SubmittedAt: submittedAt}
	reg, err := s.store.Update(context.WithoutCancel(ctx), regID, func(r *models.Registration) error {
		r.ApplySubmissionSucceeded(sub)
		return nil
	})
	if err != nil {
		// The instrument exists; a retry of the same attempt replays the
		// receipt through the ledger's idempotency key.
		s.logger.ErrorContext(ctx, "minted instrument could not be recorded",
			"registration_id", regID,
			"instrument_id", receipt.InstrumentID,
			"error", err,
		)
		return nil, s.translateStoreErr(err, "failed to record submission")
	}

	if inv, ok := s.verifier.(ports.VerificationInvalidator); ok {
		inv.Invalidate(ports.VerificationRequest{
			AssetType: snapshot.Form.AssetType,
			Reference: snapshot.Form.AssetReference,
			Principal: snapshot.Owner,
		})
	}

	s.logger.InfoContext(ctx, "registration submitted",
		"registration_id", regID,
		"instrument_id", receipt.InstrumentID,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.EventSubmissionSucceeded, reg, func(e *audit.Event) {
		e.Decision = "minted"
		e.Reason = string(receipt.InstrumentID)
	})
	return &sub, nil
}

// claim evaluates the gate and marks the registration as submitting in one
// atomic update. It returns the snapshot the mint is built from.
func (s *Service) claim(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) (*models.Registration, error) {
	return s.mutate(ctx, principal, regID, func(r *models.Registration) error {
		now := requestcontext.Now(ctx)
		if err := r.CanBeginSubmission(now); err != nil {
			return err
		}
		if err := readiness.CanSubmit(r.Form, r.Verification).Err(); err != nil {
			return err
		}
		r.ApplyBeginSubmission(now, s.submissionLease)
		return nil
	})
}

func (s *Service) mintRequest(ctx context.Context, snap *models.Registration) (ports.MintRequest, error) {
	desc, ok := s.catalog.Lookup(snap.Form.AssetType)
	if !ok {
		return ports.MintRequest{}, dErrors.New(dErrors.CodeInvariantViolation, "registration references an unknown asset type")
	}
	window := params.EstimatedTermWindow(snap.Form, requestcontext.Now(ctx), s.location)
	req := ports.MintRequest{
		RegistrationID:      snap.ID,
		Attempt:             snap.Verification.Attempt(),
		Owner:               snap.Owner,
		AssetType:           desc.ID,
		RoutingKey:          desc.RoutingKey,
		Reference:           snap.Form.AssetReference,
		Title:               snap.Form.Title,
		Description:         snap.Form.Description,
		RevenueConnected:    snap.Form.RevenueConnected,
		RevenueSharePercent: snap.Form.RevenueSharePercent,
		BondTermMonths:      snap.Form.BondTermMonths,
		PayoutStyle:         snap.Form.PayoutStyle.String(),
		ManualOverride:      snap.Verification.Is(models.VerificationManualOverride),
		Fee:                 params.FormatFee(params.EstimatedFee(snap.Form)),
		TermStart:           window.Start,
		TermEnd:             window.End,
	}
	if snap.Form.ManualProof != nil {
		req.ManualProofRef = snap.Form.ManualProof.Ref
	}
	return req, nil
}

func (s *Service) mint(ctx context.Context, req ports.MintRequest) (*ports.MintReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.submissionTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, tracing.SpanLedgerMint, trace.WithAttributes(
		attribute.String(tracing.AttrRoutingKey, string(req.RoutingKey)),
	))
	defer span.End()

	receipt, err := s.ledger.Mint(ctx, req)
	if err == nil && (receipt == nil || receipt.InstrumentID == "") {
		err = errors.New("ledger returned no instrument id")
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return receipt, nil
}

// release drops the submission claim without touching the form.
func (s *Service) release(ctx context.Context, snap *models.Registration) {
	_, err := s.store.Update(context.WithoutCancel(ctx), snap.ID, func(r *models.Registration) error {
		if r.IsSubmitted() {
			return nil
		}
		r.ApplySubmissionFailed(s.clock())
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to release submission claim",
			"registration_id", snap.ID,
			"error", err,
		)
	}
}

func (s *Service) submissionFailed(ctx context.Context, snap *models.Registration, mintErr error) error {
	s.release(ctx, snap)

	reason := "ledger unavailable"
	switch {
	case errors.Is(mintErr, context.DeadlineExceeded):
		reason = "ledger timeout"
	case errors.Is(mintErr, sentinel.ErrConflict):
		reason = "asset already minted"
	case errors.Is(mintErr, sentinel.ErrUnavailable):
	default:
		reason = "ledger rejected the registration"
	}
	s.logger.WarnContext(ctx, "submission failed",
		"registration_id", snap.ID,
		"reason", reason,
		"error", mintErr,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.EventSubmissionFailed, snap, func(e *audit.Event) {
		e.Decision = "failed"
		e.Reason = reason
	})
	return dErrors.Wrap(mintErr, dErrors.CodeSubmissionFailed, "submission failed: "+reason)
}
