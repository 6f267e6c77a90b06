package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"ipx/internal/catalog"
	"ipx/internal/registration/metrics"
	"ipx/internal/registration/models"
	"ipx/internal/registration/ports"
	"ipx/internal/registration/ports/mocks"
	"ipx/internal/registration/readiness"
	"ipx/internal/registration/store"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
	"ipx/pkg/platform/audit"
	"ipx/pkg/platform/sentinel"
	"ipx/pkg/requestcontext"
)

const (
	alice   = id.PrincipalID("alice")
	mallory = id.PrincipalID("mallory")
)

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *store.InMemoryStore
	verifier  *mocks.MockVerificationPort
	ledger    *mocks.MockLedgerPort
	proofs    *mocks.MockProofStore
	publisher *mocks.MockAuditPublisher
	metrics   *metrics.Metrics
	service   *Service

	mu     sync.Mutex
	events []audit.Event
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemoryStore()
	s.verifier = mocks.NewMockVerificationPort(s.ctrl)
	s.ledger = mocks.NewMockLedgerPort(s.ctrl)
	s.proofs = mocks.NewMockProofStore(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.events = nil

	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, e)
		return nil
	}).AnyTimes()

	s.service = s.newService()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithAuditPublisher(s.publisher),
		WithMetrics(s.metrics),
		WithVerificationTimeout(200 * time.Millisecond),
	}
	svc, err := New(s.store, catalog.Default(), s.verifier, s.ledger, s.proofs, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

// started opens a registration for alice with a GitHub reference entered.
func (s *ServiceSuite) started(ctx context.Context) id.RegistrationID {
	view, err := s.service.Start(ctx, alice)
	s.Require().NoError(err)
	regID := view.Registration.ID
	_, err = s.service.UpdateForm(ctx, alice, regID, models.FormPatch{
		AssetType:      ptr(catalog.AssetGitHub),
		AssetReference: ptr("ada/engine"),
	})
	s.Require().NoError(err)
	return regID
}

func (s *ServiceSuite) expectVerdict(verdict ports.VerificationVerdict, reason string) {
	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(&ports.VerificationResult{
		Verdict:     verdict,
		Reason:      reason,
		Title:       "engine",
		Description: "a fast engine",
	}, nil)
}

// verified drives a registration to Verified with terms accepted.
func (s *ServiceSuite) verified(ctx context.Context) id.RegistrationID {
	regID := s.started(ctx)
	s.expectVerdict(ports.VerdictVerified, "")
	_, err := s.service.Verify(ctx, alice, regID)
	s.Require().NoError(err)
	_, err = s.service.UpdateForm(ctx, alice, regID, models.FormPatch{TermsAccepted: ptr(true)})
	s.Require().NoError(err)
	return regID
}

// =============================================================================
// Sessions
// =============================================================================

func (s *ServiceSuite) TestStart() {
	ctx := context.Background()

	s.Run("anonymous principal is unauthorized", func() {
		_, err := s.service.Start(ctx, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("new registration carries defaults", func() {
		view, err := s.service.Start(ctx, alice)
		s.Require().NoError(err)
		reg := view.Registration
		s.Equal(alice, reg.Owner)
		s.True(reg.Verification.Is(models.VerificationUnstarted))
		s.Equal(20, reg.Form.RevenueSharePercent)
		s.Equal(12, reg.Form.BondTermMonths)
		s.Equal(models.PayoutLinear, reg.Form.PayoutStyle)
		s.Equal("0.20", view.Fee)
		s.False(view.Readiness.Allowed)
		s.Equal(readiness.ReasonSelectAssetType, view.Readiness.Reason)
		s.Contains(s.actions(), string(audit.EventRegistrationStarted))
	})
}

func (s *ServiceSuite) TestOwnership() {
	ctx := context.Background()
	view, err := s.service.Start(ctx, alice)
	s.Require().NoError(err)
	regID := view.Registration.ID

	s.Run("other principal is forbidden", func() {
		_, err := s.service.Get(ctx, mallory, regID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		_, err = s.service.UpdateForm(ctx, mallory, regID, models.FormPatch{Title: ptr("mine")})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Contains(s.actions(), string(audit.EventAccessDenied))
	})

	s.Run("unknown registration is not found", func() {
		_, err := s.service.Get(ctx, alice, id.NewRegistrationID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestViewComputesTermWindowAtReadTime() {
	now := time.Date(2024, 1, 31, 15, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	view, err := s.service.Start(ctx, alice)
	s.Require().NoError(err)

	view, err = s.service.UpdateForm(ctx, alice, view.Registration.ID, models.FormPatch{BondTermMonths: ptr(3)})
	s.Require().NoError(err)
	s.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), view.TermWindow.Start)
	s.Equal(time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), view.TermWindow.End)

	later := requestcontext.WithTime(context.Background(), now.AddDate(0, 0, 1))
	view, err = s.service.Get(later, alice, view.Registration.ID)
	s.Require().NoError(err)
	s.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), view.TermWindow.Start)
}

func (s *ServiceSuite) TestDiscard() {
	ctx := context.Background()
	regID := s.started(ctx)

	s.True(dErrors.HasCode(s.service.Discard(ctx, mallory, regID), dErrors.CodeForbidden))
	s.Require().NoError(s.service.Discard(ctx, alice, regID))

	_, err := s.service.Get(ctx, alice, regID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Contains(s.actions(), string(audit.EventRegistrationDiscarded))
}

// deleteHookStore runs beforeDelete between the service's call and the
// store's delete, widening the window a concurrent writer could use.
type deleteHookStore struct {
	*store.InMemoryStore
	beforeDelete func()
}

func (d *deleteHookStore) Delete(ctx context.Context, regID id.RegistrationID, guard store.UpdateFunc) error {
	if d.beforeDelete != nil {
		d.beforeDelete()
	}
	return d.InMemoryStore.Delete(ctx, regID, guard)
}

func (s *ServiceSuite) TestDiscardLosesToConcurrentSubmit() {
	ctx := context.Background()
	hooked := &deleteHookStore{InMemoryStore: s.store}
	svc, err := New(hooked, catalog.Default(), s.verifier, s.ledger, s.proofs,
		WithAuditPublisher(s.publisher),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.service = svc
	regID := s.verified(ctx)

	s.ledger.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(&ports.MintReceipt{InstrumentID: "ipx-9"}, nil)
	var submitErr error
	hooked.beforeDelete = func() {
		hooked.beforeDelete = nil
		_, submitErr = svc.Submit(ctx, alice, regID)
	}

	err = svc.Discard(ctx, alice, regID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)
	s.Require().NoError(submitErr)

	view, err := svc.Get(ctx, alice, regID)
	s.Require().NoError(err)
	s.Require().NotNil(view.Registration.Submission)
	s.Equal(id.InstrumentID("ipx-9"), view.Registration.Submission.InstrumentID)
	s.NotContains(s.actions(), string(audit.EventRegistrationDiscarded))
}

func (s *ServiceSuite) TestDiscardRejectedWhileMinting() {
	ctx := context.Background()
	regID := s.verified(ctx)
	s.ledger.EXPECT().Mint(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, ports.MintRequest) (*ports.MintReceipt, error) {
			err := s.service.Discard(ctx, alice, regID)
			s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)
			return &ports.MintReceipt{InstrumentID: "ipx-1"}, nil
		})

	_, err := s.service.Submit(ctx, alice, regID)
	s.Require().NoError(err)

	s.Run("submitted registrations cannot be discarded", func() {
		err := s.service.Discard(ctx, alice, regID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		_, err = s.service.Get(ctx, alice, regID)
		s.NoError(err)
	})
}

// =============================================================================
// Form edits
// =============================================================================

func (s *ServiceSuite) TestUpdateForm() {
	ctx := context.Background()

	s.Run("unknown asset type is rejected", func() {
		view, err := s.service.Start(ctx, alice)
		s.Require().NoError(err)
		_, err = s.service.UpdateForm(ctx, alice, view.Registration.ID, models.FormPatch{AssetType: ptr(catalog.AssetTypeID("myspace"))})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("reference without asset type is rejected", func() {
		view, err := s.service.Start(ctx, alice)
		s.Require().NoError(err)
		_, err = s.service.UpdateForm(ctx, alice, view.Registration.ID, models.FormPatch{AssetReference: ptr("ada/engine")})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("share is clamped and other costs more", func() {
		view, err := s.service.Start(ctx, alice)
		s.Require().NoError(err)
		view, err = s.service.UpdateForm(ctx, alice, view.Registration.ID, models.FormPatch{
			AssetType:           ptr(catalog.AssetOther),
			RevenueSharePercent: ptr(150),
		})
		s.Require().NoError(err)
		s.Equal(90, view.Registration.Form.RevenueSharePercent)
		s.Equal("0.30", view.Fee)
	})

	s.Run("changing the reference resets a verified registration", func() {
		regID := s.verified(ctx)
		view, err := s.service.UpdateForm(ctx, alice, regID, models.FormPatch{AssetReference: ptr("ada/other")})
		s.Require().NoError(err)
		s.True(view.Registration.Verification.Is(models.VerificationUnstarted))
		s.Equal(readiness.ReasonOwnershipNotVerified, view.Readiness.Reason)
	})
}

// =============================================================================
// Verification
// =============================================================================

func (s *ServiceSuite) TestVerifyOutcomes() {
	ctx := context.Background()

	s.Run("verified overwrites title and description", func() {
		regID := s.started(ctx)
		s.expectVerdict(ports.VerdictVerified, "")
		view, err := s.service.Verify(ctx, alice, regID)
		s.Require().NoError(err)
		s.True(view.Registration.Verification.Is(models.VerificationVerified))
		s.Equal("engine", view.Registration.Form.Title)
		s.Equal("a fast engine", view.Registration.Form.Description)
	})

	s.Run("already registered", func() {
		regID := s.started(ctx)
		s.expectVerdict(ports.VerdictAlreadyRegistered, "")
		view, err := s.service.Verify(ctx, alice, regID)
		s.Require().NoError(err)
		s.True(view.Registration.Verification.Is(models.VerificationAlreadyRegistered))
		s.Equal(dErrors.CodeAlreadyRegistered, view.Readiness.Code)
	})

	s.Run("failed keeps the backend reason", func() {
		regID := s.started(ctx)
		s.expectVerdict(ports.VerdictFailed, "not the owner")
		view, err := s.service.Verify(ctx, alice, regID)
		s.Require().NoError(err)
		s.Equal("not the owner", view.Registration.Verification.Reason())
		s.Equal(readiness.ReasonManualProofRequired, view.Readiness.Reason)
	})

	s.Run("verifier error is classified as unavailable", func() {
		regID := s.started(ctx)
		s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))
		view, err := s.service.Verify(ctx, alice, regID)
		s.Require().NoError(err)
		s.Equal(models.ReasonUnavailable, view.Registration.Verification.Reason())
	})

	s.Run("slow verifier times out", func() {
		regID := s.started(ctx)
		s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ ports.VerificationRequest) (*ports.VerificationResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})
		view, err := s.service.Verify(ctx, alice, regID)
		s.Require().NoError(err)
		s.True(view.Registration.Verification.Is(models.VerificationFailed))
		s.Equal(models.ReasonTimeout, view.Registration.Verification.Reason())
	})
}

func (s *ServiceSuite) TestBeginVerificationPreconditions() {
	ctx := context.Background()
	view, err := s.service.Start(ctx, alice)
	s.Require().NoError(err)

	_, err = s.service.BeginVerification(ctx, alice, view.Registration.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeValidationIncomplete))

	reg, err := s.service.Get(ctx, alice, view.Registration.ID)
	s.Require().NoError(err)
	s.True(reg.Registration.Verification.Is(models.VerificationUnstarted), "no transition without a reference")
}

func (s *ServiceSuite) TestBeginVerificationRunsInBackground() {
	ctx := context.Background()
	regID := s.started(ctx)
	s.expectVerdict(ports.VerdictVerified, "")

	view, err := s.service.BeginVerification(ctx, alice, regID)
	s.Require().NoError(err)
	s.True(view.Registration.Verification.Is(models.VerificationInProgress))

	s.Require().NoError(s.service.Wait(ctx))
	got, err := s.service.Get(ctx, alice, regID)
	s.Require().NoError(err)
	s.True(got.Registration.Verification.Is(models.VerificationVerified))
	s.Contains(s.actions(), string(audit.EventVerificationCompleted))
}

func (s *ServiceSuite) TestConcurrentBeginIsRejected() {
	ctx := context.Background()
	regID := s.started(ctx)
	release := make(chan struct{})
	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, ports.VerificationRequest) (*ports.VerificationResult, error) {
			<-release
			return &ports.VerificationResult{Verdict: ports.VerdictVerified}, nil
		})
	svc := s.newService(WithVerificationTimeout(5 * time.Second))

	_, err := svc.BeginVerification(ctx, alice, regID)
	s.Require().NoError(err)
	_, err = svc.BeginVerification(ctx, alice, regID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	close(release)
	s.Require().NoError(svc.Wait(ctx))
}

func (s *ServiceSuite) TestStaleResultIsDiscarded() {
	ctx := context.Background()
	regID := s.started(ctx)
	release := make(chan struct{})
	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, ports.VerificationRequest) (*ports.VerificationResult, error) {
			<-release
			return &ports.VerificationResult{Verdict: ports.VerdictVerified, Title: "stale"}, nil
		})
	svc := s.newService(WithVerificationTimeout(5 * time.Second))

	_, err := svc.BeginVerification(ctx, alice, regID)
	s.Require().NoError(err)
	_, err = svc.UpdateForm(ctx, alice, regID, models.FormPatch{AssetReference: ptr("ada/other")})
	s.Require().NoError(err)

	close(release)
	s.Require().NoError(svc.Wait(ctx))

	view, err := svc.Get(ctx, alice, regID)
	s.Require().NoError(err)
	s.True(view.Registration.Verification.Is(models.VerificationUnstarted))
	s.NotEqual("stale", view.Registration.Form.Title)
	s.InDelta(1, promtestutil.ToFloat64(s.metrics.StaleResults), 0)
	s.Contains(s.actions(), string(audit.EventVerificationDiscarded))
}

func (s *ServiceSuite) TestAlreadyRegisteredBlocksNewAttempt() {
	ctx := context.Background()
	regID := s.started(ctx)
	s.expectVerdict(ports.VerdictAlreadyRegistered, "")
	_, err := s.service.Verify(ctx, alice, regID)
	s.Require().NoError(err)

	_, err = s.service.BeginVerification(ctx, alice, regID)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRegistered))
}

// =============================================================================
// Manual proof
// =============================================================================

func upload() ports.ProofUpload {
	return ports.ProofUpload{FileName: "deed.pdf", ContentType: "application/pdf", Body: strings.NewReader("%PDF")}
}

func (s *ServiceSuite) expectProofStored() {
	s.proofs.EXPECT().Store(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, u ports.ProofUpload) (*ports.StoredProof, error) {
			body, err := io.ReadAll(u.Body)
			if err != nil {
				return nil, err
			}
			return &ports.StoredProof{
				Ref:         "bafkreiproof",
				FileName:    u.FileName,
				ContentType: u.ContentType,
				Size:        int64(len(body)),
				StoredAt:    time.Now(),
			}, nil
		})
}

func (s *ServiceSuite) TestManualProof() {
	ctx := context.Background()

	s.Run("rejected before any verification", func() {
		regID := s.started(ctx)
		_, err := s.service.AttachManualProof(ctx, alice, regID, upload())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejected for an already registered asset", func() {
		regID := s.started(ctx)
		s.expectVerdict(ports.VerdictAlreadyRegistered, "")
		_, err := s.service.Verify(ctx, alice, regID)
		s.Require().NoError(err)

		_, err = s.service.AttachManualProof(ctx, alice, regID, upload())
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRegistered))
	})

	s.Run("failed verification falls back to manual override", func() {
		regID := s.started(ctx)
		s.expectVerdict(ports.VerdictFailed, "not the owner")
		_, err := s.service.Verify(ctx, alice, regID)
		s.Require().NoError(err)
		s.expectProofStored()

		view, err := s.service.AttachManualProof(ctx, alice, regID, upload())
		s.Require().NoError(err)
		s.True(view.Registration.Verification.Is(models.VerificationManualOverride))
		s.Require().NotNil(view.Registration.Form.ManualProof)
		s.Equal("bafkreiproof", view.Registration.Form.ManualProof.Ref)
		s.Equal(int64(4), view.Registration.Form.ManualProof.Size)
		s.Contains(s.actions(), string(audit.EventManualProofAttached))
	})

	s.Run("invalid upload keeps the failed state", func() {
		regID := s.started(ctx)
		s.expectVerdict(ports.VerdictFailed, "")
		_, err := s.service.Verify(ctx, alice, regID)
		s.Require().NoError(err)
		s.proofs.EXPECT().Store(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeValidation, "proof must be an image or a PDF"))

		_, err = s.service.AttachManualProof(ctx, alice, regID, upload())
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		view, err := s.service.Get(ctx, alice, regID)
		s.Require().NoError(err)
		s.True(view.Registration.Verification.Is(models.VerificationFailed))
	})
}

// =============================================================================
// Submission
// =============================================================================

func (s *ServiceSuite) TestSubmitBlockedByGate() {
	ctx := context.Background()

	s.Run("unverified", func() {
		regID := s.started(ctx)
		_, err := s.service.Submit(ctx, alice, regID)
		s.True(dErrors.HasCode(err, dErrors.CodeOwnershipUnverified))
		s.Equal(readiness.ReasonOwnershipNotVerified, dErrors.MessageOf(err))
	})

	s.Run("terms not accepted", func() {
		regID := s.started(ctx)
		s.expectVerdict(ports.VerdictVerified, "")
		_, err := s.service.Verify(ctx, alice, regID)
		s.Require().NoError(err)

		_, err = s.service.Submit(ctx, alice, regID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidationIncomplete))
		s.Equal(readiness.ReasonAcceptTerms, dErrors.MessageOf(err))
	})
}

func (s *ServiceSuite) TestSubmitMintsSnapshot() {
	now := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	regID := s.verified(ctx)

	var got ports.MintRequest
	s.ledger.EXPECT().Mint(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.MintRequest) (*ports.MintReceipt, error) {
			got = req
			return &ports.MintReceipt{InstrumentID: "ipx-7", MintedAt: now}, nil
		})

	sub, err := s.service.Submit(ctx, alice, regID)
	s.Require().NoError(err)
	s.Equal(id.InstrumentID("ipx-7"), sub.InstrumentID)

	s.Equal(regID, got.RegistrationID)
	s.Equal(uint64(1), got.Attempt)
	s.Equal(alice, got.Owner)
	s.Equal(catalog.RouteGitHub, got.RoutingKey)
	s.Equal("ada/engine", got.Reference)
	s.Equal("engine", got.Title)
	s.Equal("0.20", got.Fee)
	s.False(got.ManualOverride)
	s.Equal(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), got.TermEnd)

	s.Run("consumed registration rejects further changes", func() {
		_, err := s.service.Submit(ctx, alice, regID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		_, err = s.service.UpdateForm(ctx, alice, regID, models.FormPatch{Title: ptr("late")})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	view, err := s.service.Get(ctx, alice, regID)
	s.Require().NoError(err)
	s.Require().NotNil(view.Registration.Submission)
	s.Contains(s.actions(), string(audit.EventSubmissionSucceeded))
}

func (s *ServiceSuite) TestSubmitFailureKeepsForm() {
	ctx := context.Background()
	regID := s.verified(ctx)
	s.ledger.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrUnavailable)

	_, err := s.service.Submit(ctx, alice, regID)
	s.True(dErrors.HasCode(err, dErrors.CodeSubmissionFailed))

	view, err := s.service.Get(ctx, alice, regID)
	s.Require().NoError(err)
	s.False(view.Submitting, "claim is released")
	s.Nil(view.Registration.Submission)
	s.True(view.Readiness.Allowed)
	s.Contains(s.actions(), string(audit.EventSubmissionFailed))

	s.ledger.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(&ports.MintReceipt{InstrumentID: "ipx-1"}, nil)
	_, err = s.service.Submit(ctx, alice, regID)
	s.NoError(err, "retry is allowed")
}

func (s *ServiceSuite) TestConcurrentSubmitIsRejected() {
	ctx := context.Background()
	regID := s.verified(ctx)
	entered := make(chan struct{})
	release := make(chan struct{})
	s.ledger.EXPECT().Mint(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, ports.MintRequest) (*ports.MintReceipt, error) {
			close(entered)
			<-release
			return &ports.MintReceipt{InstrumentID: "ipx-1"}, nil
		})

	done := make(chan error, 1)
	go func() {
		_, err := s.service.Submit(ctx, alice, regID)
		done <- err
	}()
	<-entered

	_, err := s.service.Submit(ctx, alice, regID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	_, err = s.service.UpdateForm(ctx, alice, regID, models.FormPatch{Title: ptr("mid-flight")})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	close(release)
	s.NoError(<-done)
}

func (s *ServiceSuite) TestManualOverrideSubmission() {
	ctx := context.Background()
	regID := s.started(ctx)
	s.expectVerdict(ports.VerdictFailed, "")
	_, err := s.service.Verify(ctx, alice, regID)
	s.Require().NoError(err)
	s.expectProofStored()
	_, err = s.service.AttachManualProof(ctx, alice, regID, upload())
	s.Require().NoError(err)
	_, err = s.service.UpdateForm(ctx, alice, regID, models.FormPatch{TermsAccepted: ptr(true)})
	s.Require().NoError(err)

	s.ledger.EXPECT().Mint(gomock.Any(), gomock.Cond(func(req ports.MintRequest) bool {
		return req.ManualOverride && req.ManualProofRef == "bafkreiproof"
	})).Return(&ports.MintReceipt{InstrumentID: "ipx-2"}, nil)

	sub, err := s.service.Submit(ctx, alice, regID)
	s.Require().NoError(err)
	s.Equal(id.InstrumentID("ipx-2"), sub.InstrumentID)
}

type cachingVerifier struct {
	*mocks.MockVerificationPort
	invalidator *mocks.MockVerificationInvalidator
}

func (c cachingVerifier) Invalidate(req ports.VerificationRequest) { c.invalidator.Invalidate(req) }

func (s *ServiceSuite) TestSubmitInvalidatesCachedVerification() {
	ctx := context.Background()
	invalidator := mocks.NewMockVerificationInvalidator(s.ctrl)
	svc, err := New(s.store, catalog.Default(), cachingVerifier{s.verifier, invalidator}, s.ledger, s.proofs)
	s.Require().NoError(err)

	view, err := svc.Start(ctx, alice)
	s.Require().NoError(err)
	regID := view.Registration.ID
	_, err = svc.UpdateForm(ctx, alice, regID, models.FormPatch{
		AssetType:      ptr(catalog.AssetGitHub),
		AssetReference: ptr("ada/engine"),
		TermsAccepted:  ptr(true),
	})
	s.Require().NoError(err)
	s.expectVerdict(ports.VerdictVerified, "")
	_, err = svc.Verify(ctx, alice, regID)
	s.Require().NoError(err)

	s.ledger.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(&ports.MintReceipt{InstrumentID: "ipx-3"}, nil)
	invalidator.EXPECT().Invalidate(ports.VerificationRequest{
		AssetType: catalog.AssetGitHub,
		Reference: "ada/engine",
		Principal: alice,
	})
	_, err = svc.Submit(ctx, alice, regID)
	s.Require().NoError(err)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, catalog.Default(), nil, nil, nil)
	require.Error(t, err)
}

func TestWaitHonoursContext(t *testing.T) {
	svc := &Service{}
	svc.inflight.Add(1)
	defer svc.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Wait(ctx), context.DeadlineExceeded)
}
