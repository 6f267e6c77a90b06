package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "ipx/pkg/platform/audit"
)

const defaultRelayBatch = 100

// Relay forwards pending outbox rows to a sink and marks them published.
// Rows are claimed with FOR UPDATE SKIP LOCKED so several relays can run.
type Relay struct {
	db       *sql.DB
	sink     audit.Store
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewRelay(db *sql.DB, sink audit.Store, interval time.Duration, logger *slog.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{db: db, sink: sink, interval: interval, batch: defaultRelayBatch, logger: logger}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := r.RelayOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "audit outbox relay failed", "error", err)
			} else if n > 0 {
				r.logger.DebugContext(ctx, "audit outbox relayed", "count", n)
			}
		}
	}
}

// RelayOnce forwards one batch. A row the sink rejects stays pending and
// stops the batch so ordering is preserved.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin relay tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batch)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}
	type pending struct {
		id      uuid.UUID
		payload []byte
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}

	relayed := 0
	for _, p := range batch {
		var payload Payload
		if err := json.Unmarshal(p.payload, &payload); err != nil {
			return relayed, fmt.Errorf("decode outbox payload %s: %w", p.id, err)
		}
		event, err := payload.Event()
		if err != nil {
			return relayed, err
		}
		if err := r.sink.Append(ctx, event); err != nil {
			break
		}
		if _, err := tx.ExecContext(ctx, `UPDATE audit_outbox SET published_at = $1 WHERE id = $2`, time.Now(), p.id); err != nil {
			return relayed, fmt.Errorf("mark outbox row: %w", err)
		}
		relayed++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit relay tx: %w", err)
	}
	return relayed, nil
}
