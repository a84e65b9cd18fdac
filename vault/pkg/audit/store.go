// Package audit persists treasury events to Postgres as an append-only
// audit trail. The store implements vault.Sink so it can be wired directly
// into the treasury's event fan-out.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aspis-finance/treasury/api/metrics"
	"github.com/aspis-finance/treasury/utils/pkg/retry"
	"github.com/aspis-finance/treasury/vault/pkg/vault"
)

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Retry  retry.Config // zero value means retry.DefaultConfig()
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Append writes one event, retrying transient Postgres failures.
func (s *Store) Append(ctx context.Context, ev vault.Event) error {
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		_, err := s.cfg.Pool.Exec(ctx, `
			INSERT INTO events (kind, pool_id, actor, amount, token_id, proposal_id, recipient, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, string(ev.Kind), ev.PoolID, string(ev.Actor), int64(ev.Amount), ev.TokenID, ev.ProposalID, nullableAddress(ev.Recipient), ev.At)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// Emit implements vault.Sink. The treasury has already committed the state
// change by the time Emit runs, so a write failure is logged, not propagated.
func (s *Store) Emit(ctx context.Context, ev vault.Event) {
	if err := s.Append(ctx, ev); err != nil {
		metrics.AuditWriteErrorsTotal.Inc()
		s.log.Error("audit: failed to persist event", "kind", ev.Kind, "pool", ev.PoolID, "error", err)
	}
}

// Record is an audit row: an Event plus its storage sequence number.
type Record struct {
	Seq        int64       `json:"seq"`
	Event      vault.Event `json:"event"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Recent returns the newest events first. poolID narrows the feed to one
// pool when non-nil.
func (s *Store) Recent(ctx context.Context, poolID *string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, kind, pool_id, actor, amount, token_id, proposal_id, COALESCE(recipient, ''), occurred_at, recorded_at
		FROM events
	`
	args := []any{}
	if poolID != nil {
		query += ` WHERE pool_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`
		args = append(args, *poolID, limit, offset)
	} else {
		query += ` ORDER BY id DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := s.cfg.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			kind      string
			actor     string
			amount    int64
			recipient string
		)
		if err := rows.Scan(&rec.Seq, &kind, &rec.Event.PoolID, &actor, &amount, &rec.Event.TokenID, &rec.Event.ProposalID, &recipient, &rec.Event.At, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		rec.Event.Kind = vault.EventKind(kind)
		rec.Event.Actor = vault.Address(actor)
		rec.Event.Amount = uint64(amount)
		rec.Event.Recipient = vault.Address(recipient)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit events: %w", err)
	}
	return out, nil
}

// Count returns the total number of recorded events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.cfg.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}

func nullableAddress(a vault.Address) *string {
	if a.IsZero() {
		return nil
	}
	s := string(a)
	return &s
}
