package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"ipx/internal/catalog"
	"ipx/internal/registration/models"
	"ipx/internal/registration/store"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
	"ipx/pkg/platform/sentinel"
)

// contractSuite exercises the behaviour every Store backend must share.
// Backend suites embed it and set newStore.
type contractSuite struct {
	suite.Suite
	newStore func() store.Store
	store    store.Store
}

func (s *contractSuite) SetupTest() {
	s.store = s.newStore()
}

func newRegistration(owner id.PrincipalID) *models.Registration {
	reg, err := models.NewRegistration(id.NewRegistrationID(), owner, time.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		panic(err)
	}
	return reg
}

func (s *contractSuite) TestCreateAndGet() {
	ctx := context.Background()
	reg := newRegistration("alice")
	s.Require().NoError(s.store.Create(ctx, reg))

	got, err := s.store.Get(ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(reg.ID, got.ID)
	s.Equal(id.PrincipalID("alice"), got.Owner)
	s.True(got.Verification.Is(models.VerificationUnstarted))
	s.Equal(models.DefaultRevenueShare, got.Form.RevenueSharePercent)
}

func (s *contractSuite) TestCreateTwiceConflicts() {
	ctx := context.Background()
	reg := newRegistration("alice")
	s.Require().NoError(s.store.Create(ctx, reg))
	err := s.store.Create(ctx, reg)
	s.ErrorIs(err, store.ErrExists)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *contractSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), id.NewRegistrationID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *contractSuite) TestUpdatePersistsMutation() {
	ctx := context.Background()
	reg := newRegistration("alice")
	s.Require().NoError(s.store.Create(ctx, reg))

	assetType := catalog.AssetGitHub
	ref := "ada/engine"
	now := time.Now()
	updated, err := s.store.Update(ctx, reg.ID, func(r *models.Registration) error {
		_, err := r.Patch(models.FormPatch{AssetType: &assetType, AssetReference: &ref}, now)
		if err != nil {
			return err
		}
		r.ApplyBeginVerification(now)
		return nil
	})
	s.Require().NoError(err)
	s.Equal(ref, updated.Form.AssetReference)

	got, err := s.store.Get(ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(catalog.AssetGitHub, got.Form.AssetType)
	s.True(got.Verification.Is(models.VerificationInProgress))
	s.Equal(uint64(1), got.Verification.Attempt())
}

func (s *contractSuite) TestUpdateErrorLeavesRecordUntouched() {
	ctx := context.Background()
	reg := newRegistration("alice")
	s.Require().NoError(s.store.Create(ctx, reg))

	title := "changed"
	_, err := s.store.Update(ctx, reg.ID, func(r *models.Registration) error {
		r.Form.Title = title
		return dErrors.New(dErrors.CodeConflict, "nope")
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	got, err := s.store.Get(ctx, reg.ID)
	s.Require().NoError(err)
	s.Empty(got.Form.Title)
}

func (s *contractSuite) TestUpdateMissing() {
	_, err := s.store.Update(context.Background(), id.NewRegistrationID(), func(*models.Registration) error {
		return errors.New("must not be called")
	})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *contractSuite) TestReturnedRecordsAreDetached() {
	ctx := context.Background()
	reg := newRegistration("alice")
	s.Require().NoError(s.store.Create(ctx, reg))

	got, err := s.store.Get(ctx, reg.ID)
	s.Require().NoError(err)
	got.Form.Title = "local only"

	again, err := s.store.Get(ctx, reg.ID)
	s.Require().NoError(err)
	s.Empty(again.Form.Title)
}

func (s *contractSuite) TestConcurrentUpdatesAreSerialized() {
	ctx := context.Background()
	reg := newRegistration("alice")
	s.Require().NoError(s.store.Create(ctx, reg))

	const workers = 10
	var wg sync.WaitGroup
	var failed atomic.Int32
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Update(ctx, reg.ID, func(r *models.Registration) error {
				r.Attempts++
				return nil
			})
			if err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	got, err := s.store.Get(ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(uint64(workers-failed.Load()), got.Attempts, "every successful update must be counted")
}

func (s *contractSuite) TestSingleSubmissionClaim() {
	ctx := context.Background()
	reg := newRegistration("alice")
	s.Require().NoError(s.store.Create(ctx, reg))

	var wg sync.WaitGroup
	var claimed atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Update(ctx, reg.ID, func(r *models.Registration) error {
				now := time.Now()
				if err := r.CanBeginSubmission(now); err != nil {
					return err
				}
				r.ApplyBeginSubmission(now, time.Minute)
				return nil
			})
			if err == nil {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), claimed.Load())
}

func (s *contractSuite) TestDelete() {
	ctx := context.Background()
	reg := newRegistration("alice")
	s.Require().NoError(s.store.Create(ctx, reg))
	s.Require().NoError(s.store.Delete(ctx, reg.ID, nil))

	_, err := s.store.Get(ctx, reg.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, reg.ID, nil), sentinel.ErrNotFound)
}

func (s *contractSuite) TestDeleteGuard() {
	ctx := context.Background()
	reg := newRegistration("alice")
	s.Require().NoError(s.store.Create(ctx, reg))

	s.Run("held submission claim blocks the delete", func() {
		err := s.store.Delete(ctx, reg.ID, func(r *models.Registration) error {
			return r.CanDiscard(time.Now())
		})
		s.Require().NoError(err)
		s.Require().NoError(s.store.Create(ctx, reg))

		_, err = s.store.Update(ctx, reg.ID, func(r *models.Registration) error {
			r.ApplyBeginSubmission(time.Now(), time.Minute)
			return nil
		})
		s.Require().NoError(err)

		err = s.store.Delete(ctx, reg.ID, func(r *models.Registration) error {
			return r.CanDiscard(time.Now())
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		_, err = s.store.Get(ctx, reg.ID)
		s.NoError(err)
	})

	s.Run("guard sees the latest state", func() {
		_, err := s.store.Update(ctx, reg.ID, func(r *models.Registration) error {
			r.ApplySubmissionSucceeded(models.Submission{InstrumentID: "ipx-1", SubmittedAt: time.Now()})
			return nil
		})
		s.Require().NoError(err)

		var seen bool
		err = s.store.Delete(ctx, reg.ID, func(r *models.Registration) error {
			seen = r.IsSubmitted()
			return r.CanDiscard(time.Now())
		})
		s.True(seen)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *contractSuite) TestPing() {
	s.NoError(s.store.Ping(context.Background()))
}
