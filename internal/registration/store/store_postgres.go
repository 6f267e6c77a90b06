package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ipx/internal/registration/models"
	id "ipx/pkg/domain"
)

// Schema creates the registrations table.
const Schema = `
CREATE TABLE IF NOT EXISTS registrations (
	id          UUID PRIMARY KEY,
	owner       TEXT NOT NULL,
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS registrations_owner_idx ON registrations (owner);
`

const uniqueViolation = "23505"

// PostgresStore keeps the registration aggregate as JSONB. Update holds a
// row lock (SELECT ... FOR UPDATE) for the read-modify-write.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema applies Schema.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply registration schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, reg *models.Registration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO registrations (id, owner, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(reg.ID), string(reg.Owner), data, reg.CreatedAt, reg.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrExists
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select registration: %w", err)
	}
	var reg models.Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registration: %w", err)
	}
	return &reg, nil
}

func (s *PostgresStore) get(ctx context.Context, q queryer, regID id.RegistrationID, lock bool) (*models.Registration, error) {
	query := `SELECT data FROM registrations WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	return scanRegistration(q.QueryRow(ctx, query, uuid.UUID(regID)))
}

func (s *PostgresStore) Get(ctx context.Context, regID id.RegistrationID) (*models.Registration, error) {
	return s.get(ctx, s.pool, regID, false)
}

func (s *PostgresStore) Update(ctx context.Context, regID id.RegistrationID, fn UpdateFunc) (*models.Registration, error) {
	var updated *models.Registration
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		reg, err := s.get(ctx, tx, regID, true)
		if err != nil {
			return err
		}
		if err := fn(reg); err != nil {
			return err
		}
		data, err := json.Marshal(reg)
		if err != nil {
			return fmt.Errorf("encode registration: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE registrations SET data = $2, updated_at = $3 WHERE id = $1`,
			uuid.UUID(regID), data, reg.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update registration: %w", err)
		}
		updated = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) Delete(ctx context.Context, regID id.RegistrationID, guard UpdateFunc) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		reg, err := s.get(ctx, tx, regID, true)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(reg); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM registrations WHERE id = $1`, uuid.UUID(regID)); err != nil {
			return fmt.Errorf("delete registration: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
