// Package store persists registrations. Every backend offers the same atomic
// read-modify-write through Update, which is what serializes concurrent
// workflow operations on one registration.
package store

import (
	"context"
	"fmt"

	"ipx/internal/registration/models"
	id "ipx/pkg/domain"
	"ipx/pkg/platform/sentinel"
)

var (
	ErrNotFound = fmt.Errorf("registration %w", sentinel.ErrNotFound)
	ErrExists   = fmt.Errorf("registration already exists: %w", sentinel.ErrConflict)
	// ErrContention is returned when an optimistic update kept losing races.
	ErrContention = fmt.Errorf("registration update contention: %w", sentinel.ErrConflict)
)

// UpdateFunc mutates a private copy of a registration. Returning an error
// aborts the update and nothing is written.
type UpdateFunc func(reg *models.Registration) error

type Store interface {
	Create(ctx context.Context, reg *models.Registration) error
	Get(ctx context.Context, regID id.RegistrationID) (*models.Registration, error)
	Update(ctx context.Context, regID id.RegistrationID, fn UpdateFunc) (*models.Registration, error)
	// Delete removes a registration after guard accepts it, atomically with
	// respect to Update. A nil guard deletes unconditionally.
	Delete(ctx context.Context, regID id.RegistrationID, guard UpdateFunc) error
	Ping(ctx context.Context) error
}
