// Package service runs the registration workflow: it owns the registration
// lifecycle, drives ownership verification attempts and submits ready
// registrations to the ledger. Domain rules live on models.Registration and in
// readiness; this package orchestrates persistence, collaborators and the
// audit trail around them.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"ipx/internal/catalog"
	"ipx/internal/platform/tracing"
	"ipx/internal/registration/metrics"
	"ipx/internal/registration/models"
	"ipx/internal/registration/ports"
	"ipx/internal/registration/store"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
	"ipx/pkg/platform/audit"
	"ipx/pkg/platform/sentinel"
	"ipx/pkg/requestcontext"
)

const (
	defaultVerificationTimeout = 10 * time.Second
	defaultSubmissionTimeout   = 30 * time.Second
	defaultSubmissionLease     = 2 * time.Minute
)

// Store persists registrations.
type Store interface {
	Create(ctx context.Context, reg *models.Registration) error
	Get(ctx context.Context, regID id.RegistrationID) (*models.Registration, error)
	Update(ctx context.Context, regID id.RegistrationID, fn store.UpdateFunc) (*models.Registration, error)
	Delete(ctx context.Context, regID id.RegistrationID, guard store.UpdateFunc) error
}

type Service struct {
	store    Store
	catalog  *catalog.Catalog
	verifier ports.VerificationPort
	ledger   ports.LedgerPort
	proofs   ports.ProofStore

	auditPublisher ports.AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer

	verificationTimeout time.Duration
	busyLease           time.Duration
	submissionTimeout   time.Duration
	submissionLease     time.Duration
	location            *time.Location
	clock               func() time.Time

	inflight sync.WaitGroup
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithVerificationTimeout bounds one verification attempt. An attempt still
// in progress after twice this long may be superseded by a new one.
func WithVerificationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.verificationTimeout = d
		}
	}
}

// WithSubmissionTimeout bounds one ledger mint call.
func WithSubmissionTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.submissionTimeout = d
		}
	}
}

// WithSubmissionLease sets how long a submit claims a registration. A claim
// left behind by a crashed process expires after the lease.
func WithSubmissionLease(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.submissionLease = d
		}
	}
}

// WithLocation sets the calendar used for term windows.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock replaces the clock used by background verification runs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

func New(st Store, c *catalog.Catalog, verifier ports.VerificationPort, ledger ports.LedgerPort, proofs ports.ProofStore, opts ...Option) (*Service, error) {
	if st == nil || c == nil || verifier == nil || ledger == nil || proofs == nil {
		return nil, errors.New("store, catalog, verifier, ledger and proof store are required")
	}
	s := &Service{
		store:               st,
		catalog:             c,
		verifier:            verifier,
		ledger:              ledger,
		proofs:              proofs,
		logger:              slog.Default(),
		tracer:              tracing.Noop(),
		verificationTimeout: defaultVerificationTimeout,
		submissionTimeout:   defaultSubmissionTimeout,
		submissionLease:     defaultSubmissionLease,
		location:            time.UTC,
		clock:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.busyLease == 0 {
		s.busyLease = 2 * s.verificationTimeout
	}
	return s, nil
}

// Wait blocks until background verification attempts finish or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Catalog exposes the asset catalog the service routes against.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// -----------------------------------------------------------------------------
// Persistence helpers
// -----------------------------------------------------------------------------

// load fetches a registration and enforces ownership.
func (s *Service) load(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) (*models.Registration, error) {
	if principal.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	reg, err := s.store.Get(ctx, regID)
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to load registration")
	}
	if !reg.IsOwnedBy(principal) {
		return nil, s.denied(ctx, reg, principal)
	}
	return reg, nil
}

// mutate runs fn under the store's atomic update after the ownership check.
func (s *Service) mutate(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID, fn store.UpdateFunc) (*models.Registration, error) {
	if principal.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	var foreign *models.Registration
	reg, err := s.store.Update(ctx, regID, func(r *models.Registration) error {
		if !r.IsOwnedBy(principal) {
			foreign = r.Clone()
			return errNotOwner
		}
		return fn(r)
	})
	if errors.Is(err, errNotOwner) {
		return nil, s.denied(ctx, foreign, principal)
	}
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to update registration")
	}
	return reg, nil
}

var errNotOwner = errors.New("registration not owned by principal")

func (s *Service) denied(ctx context.Context, reg *models.Registration, principal id.PrincipalID) error {
	s.logger.WarnContext(ctx, "registration access denied",
		"registration_id", reg.ID,
		"principal", principal,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.EventAccessDenied, reg, func(e *audit.Event) {
		e.Principal = principal
		e.Decision = "denied"
	})
	return dErrors.New(dErrors.CodeForbidden, "registration belongs to another principal")
}

// translateStoreErr keeps domain errors and maps infrastructure sentinels.
func (s *Service) translateStoreErr(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "registration not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "registration is being modified, retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// -----------------------------------------------------------------------------
// Audit
// -----------------------------------------------------------------------------

func subjectOf(form models.Form) string {
	if !form.HasAssetType() {
		return ""
	}
	if !form.HasReference() {
		return string(form.AssetType)
	}
	return string(form.AssetType) + ":" + form.AssetReference
}

// emit publishes an audit event carrying the request's client metadata.
// Failures are logged and never fail the workflow step.
func (s *Service) emit(ctx context.Context, action audit.AuditEvent, reg *models.Registration, decorate func(*audit.Event)) {
	if s.auditPublisher == nil {
		return
	}
	event := audit.Event{
		Action:    string(action),
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.Client(ctx),
	}
	if reg != nil {
		event.Principal = reg.Owner
		event.RegistrationID = reg.ID.String()
		event.Subject = subjectOf(reg.Form)
	}
	if decorate != nil {
		decorate(&event)
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", action,
			"registration_id", event.RegistrationID,
			"error", err,
		)
	}
}
