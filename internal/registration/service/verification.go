package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ipx/internal/platform/tracing"
	"ipx/internal/registration/models"
	"ipx/internal/registration/ports"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
	"ipx/pkg/platform/audit"
	"ipx/pkg/platform/sentinel"
	"ipx/pkg/requestcontext"
)

const (
	modeAsync = "async"
	modeSync  = "sync"
)

// attempt is the frozen input of one verification attempt.
type attempt struct {
	regID     id.RegistrationID
	owner     id.PrincipalID
	number    uint64
	request   ports.VerificationRequest
	requestID string
}

// BeginVerification starts an attempt and returns immediately with the
// registration in progress. The result is applied in the background.
func (s *Service) BeginVerification(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) (*View, error) {
	reg, att, err := s.begin(ctx, principal, regID, modeAsync)
	if err != nil {
		return nil, err
	}

	bg := detach(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.run(bg, att)
	}()
	return s.view(ctx, reg), nil
}

// Verify starts an attempt and waits for its result.
func (s *Service) Verify(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) (*View, error) {
	_, att, err := s.begin(ctx, principal, regID, modeSync)
	if err != nil {
		return nil, err
	}
	s.run(ctx, att)
	return s.Get(ctx, principal, regID)
}

func (s *Service) begin(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID, mode string) (*models.Registration, attempt, error) {
	var att attempt
	reg, err := s.mutate(ctx, principal, regID, func(r *models.Registration) error {
		n, err := r.BeginVerification(requestcontext.Now(ctx), s.busyLease)
		if err != nil {
			return err
		}
		att = attempt{
			regID:  r.ID,
			owner:  r.Owner,
			number: n,
			request: ports.VerificationRequest{
				AssetType: r.Form.AssetType,
				Reference: r.Form.AssetReference,
				Principal: r.Owner,
			},
			requestID: requestcontext.RequestID(ctx),
		}
		return nil
	})
	if err != nil {
		return nil, attempt{}, err
	}

	s.logger.InfoContext(ctx, "verification started",
		"registration_id", regID,
		"attempt", att.number,
		"asset_type", att.request.AssetType,
		"mode", mode,
		"request_id", att.requestID,
	)
	s.emit(ctx, audit.EventVerificationStarted, reg, nil)
	s.metrics.IncrementVerificationsStarted(mode)
	return reg, att, nil
}

// detach keeps the request's identity and client metadata for a background
// run but drops its cancellation and request clock.
func detach(ctx context.Context) context.Context {
	bg := context.Background()
	bg = requestcontext.WithRequestID(bg, requestcontext.RequestID(ctx))
	bg = requestcontext.WithPrincipal(bg, requestcontext.Principal(ctx))
	bg = requestcontext.WithClientMetadata(bg, requestcontext.ClientIP(ctx), requestcontext.UserAgent(ctx), requestcontext.Client(ctx))
	return trace.ContextWithSpanContext(bg, trace.SpanContextFromContext(ctx))
}

// run performs one attempt within the verification timeout and applies its
// outcome.
func (s *Service) run(ctx context.Context, att attempt) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanAttempt, trace.WithAttributes(
		attribute.String(tracing.AttrRegistration, att.regID.String()),
		attribute.String(tracing.AttrAssetType, string(att.request.AssetType)),
		attribute.Int64(tracing.AttrAttempt, int64(att.number)),
	))
	defer span.End()

	outcome := s.check(ctx, att)
	span.SetAttributes(attribute.String(tracing.AttrOutcome, string(outcome.Kind)))
	if outcome.Kind == models.VerificationFailed {
		span.SetStatus(codes.Error, outcome.Reason)
	}
	s.apply(ctx, att, outcome)
}

// check asks the verifier and classifies every failure into an outcome.
func (s *Service) check(ctx context.Context, att attempt) models.VerificationOutcome {
	callCtx, cancel := context.WithTimeout(ctx, s.verificationTimeout)
	defer cancel()

	outcome := models.VerificationOutcome{Attempt: att.number}
	res, err := s.verifier.Verify(callCtx, att.request)
	switch {
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		outcome.Kind, outcome.Reason = models.VerificationFailed, models.ReasonTimeout
	case err != nil:
		outcome.Kind = models.VerificationFailed
		outcome.Reason = models.ReasonUnavailable
		if dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeValidationIncomplete) {
			outcome.Reason = dErrors.MessageOf(err)
		}
		s.logger.WarnContext(ctx, "verification request failed",
			"registration_id", att.regID,
			"attempt", att.number,
			"error", err,
		)
	case res == nil:
		outcome.Kind, outcome.Reason = models.VerificationFailed, models.ReasonUnknown
	default:
		switch res.Verdict {
		case ports.VerdictVerified:
			outcome.Kind = models.VerificationVerified
			outcome.Metadata = &models.AssetMetadata{Title: res.Title, Description: res.Description}
		case ports.VerdictAlreadyRegistered:
			outcome.Kind = models.VerificationAlreadyRegistered
		default:
			outcome.Kind, outcome.Reason = models.VerificationFailed, res.Reason
		}
	}
	return outcome
}

var errStaleResult = errors.New("verification result is stale")

// apply stores the outcome if its attempt is still the current one.
func (s *Service) apply(ctx context.Context, att attempt, outcome models.VerificationOutcome) {
	ctx = context.WithoutCancel(ctx)
	reg, err := s.store.Update(ctx, att.regID, func(r *models.Registration) error {
		if !r.ApplyVerificationOutcome(outcome, s.clock()) {
			return errStaleResult
		}
		return nil
	})

	switch {
	case errors.Is(err, errStaleResult), errors.Is(err, sentinel.ErrNotFound):
		s.metrics.IncrementStaleResults()
		s.logger.InfoContext(ctx, "stale verification result discarded",
			"registration_id", att.regID,
			"attempt", att.number,
			"outcome", outcome.Kind,
			"request_id", att.requestID,
		)
		s.emit(ctx, audit.EventVerificationDiscarded, nil, func(e *audit.Event) {
			e.Principal = att.owner
			e.RegistrationID = att.regID.String()
			e.Decision = string(outcome.Kind)
			e.Reason = "superseded"
		})
		return
	case err != nil:
		s.logger.ErrorContext(ctx, "failed to apply verification outcome",
			"registration_id", att.regID,
			"attempt", att.number,
			"error", err,
		)
		return
	}

	s.metrics.IncrementVerificationOutcome(string(outcome.Kind))
	s.logger.InfoContext(ctx, "verification completed",
		"registration_id", att.regID,
		"attempt", att.number,
		"state", reg.Verification.String(),
		"request_id", att.requestID,
	)
	s.emit(ctx, audit.EventVerificationCompleted, reg, func(e *audit.Event) {
		e.Decision = string(reg.Verification.Kind())
		e.Reason = reg.Verification.Reason()
	})
}
