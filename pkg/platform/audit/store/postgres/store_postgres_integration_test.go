//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "ipx/pkg/platform/audit"
	"ipx/pkg/platform/audit/store/memory"
	"ipx/pkg/platform/audit/store/postgres"
	txcontext "ipx/pkg/platform/tx"
	"ipx/pkg/testutil/containers"
)

type AuditPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestAuditPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditPostgresSuite))
}

func (s *AuditPostgresSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *AuditPostgresSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_outbox", "audit_events"))
}

func event(action audit.AuditEvent, regID string) audit.Event {
	return audit.Event{
		Principal:      "alice",
		RegistrationID: regID,
		Action:         string(action),
		Subject:        "github:ada/engine",
		Decision:       "granted",
		RequestID:      "req-1",
		ClientIP:       "203.0.113.7",
		UserAgent:      "Firefox/Linux",
	}
}

func (s *AuditPostgresSuite) pendingOutbox() int {
	var n int
	err := s.postgres.DB.QueryRow(`SELECT COUNT(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&n)
	s.Require().NoError(err)
	return n
}

// =============================================================================
// Store
// =============================================================================

func (s *AuditPostgresSuite) TestAppendWritesEventAndOutbox() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, event(audit.EventRegistrationStarted, "reg-1")))

	events, err := s.store.ListByRegistration(ctx, "reg-1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.CategoryCompliance, events[0].Category)
	s.Equal("203.0.113.7", events[0].ClientIP)
	s.Equal(1, s.pendingOutbox())
}

func (s *AuditPostgresSuite) TestAppendJoinsCallerTransaction() {
	ctx := context.Background()
	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Append(txcontext.WithTx(ctx, tx), event(audit.EventSubmissionSucceeded, "reg-2")))
	s.Require().NoError(tx.Rollback())

	events, err := s.store.ListByRegistration(ctx, "reg-2")
	s.Require().NoError(err)
	s.Empty(events)
	s.Equal(0, s.pendingOutbox())
}

func (s *AuditPostgresSuite) TestListByPrincipalInTimeOrder() {
	ctx := context.Background()
	first := event(audit.EventRegistrationStarted, "reg-3")
	first.Timestamp = time.Now().Add(-time.Minute)
	second := event(audit.EventAssetSelected, "reg-3")
	second.Timestamp = time.Now()
	s.Require().NoError(s.store.Append(ctx, first))
	s.Require().NoError(s.store.Append(ctx, second))

	events, err := s.store.ListByPrincipal(ctx, "alice")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(string(audit.EventRegistrationStarted), events[0].Action)
	s.Equal(string(audit.EventAssetSelected), events[1].Action)
}

// =============================================================================
// Relay
// =============================================================================

type flakySink struct {
	failAfter int
	appended  int
}

func (f *flakySink) Append(context.Context, audit.Event) error {
	if f.appended >= f.failAfter {
		return errors.New("sink down")
	}
	f.appended++
	return nil
}

func (s *AuditPostgresSuite) TestRelayForwardsAndMarksPublished() {
	ctx := context.Background()
	for _, action := range []audit.AuditEvent{audit.EventRegistrationStarted, audit.EventAssetSelected} {
		s.Require().NoError(s.store.Append(ctx, event(action, "reg-4")))
	}

	sink := memory.NewInMemoryStore()
	relay := postgres.NewRelay(s.postgres.DB, sink, time.Second, nil)
	n, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(0, s.pendingOutbox())

	forwarded, err := sink.ListByRegistration(ctx, "reg-4")
	s.Require().NoError(err)
	s.Len(forwarded, 2)

	n, err = relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *AuditPostgresSuite) TestRelayStopsAtSinkFailure() {
	ctx := context.Background()
	for range 3 {
		s.Require().NoError(s.store.Append(ctx, event(audit.EventVerificationStarted, "reg-5")))
	}

	relay := postgres.NewRelay(s.postgres.DB, &flakySink{failAfter: 1}, time.Second, nil)
	n, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(2, s.pendingOutbox())
}
