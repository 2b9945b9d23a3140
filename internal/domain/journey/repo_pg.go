package journey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGRepository keeps the state as a jsonb row in journey_state, keyed by the
// storage key. The table is created by migration 001.
type PGRepository struct {
	db  queryable
	key string
}

// NewPGRepository accepts a *pgxpool.Pool or anything else that can run
// single-row queries.
func NewPGRepository(db queryable, key string) *PGRepository {
	return &PGRepository{db: db, key: key}
}

func (r *PGRepository) Load(ctx context.Context) (JourneyState, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT state FROM journey_state WHERE storage_key = $1`, r.key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return JourneyState{}, ErrNotFound
	}
	if err != nil {
		return JourneyState{}, fmt.Errorf("select journey state: %w", err)
	}
	return decodeState(raw)
}

func (r *PGRepository) Save(ctx context.Context, s JourneyState) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode journey state: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO journey_state (storage_key, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (storage_key) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`,
		r.key, raw)
	if err != nil {
		return fmt.Errorf("upsert journey state: %w", err)
	}
	return nil
}

func (r *PGRepository) Clear(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM journey_state WHERE storage_key = $1`, r.key); err != nil {
		return fmt.Errorf("delete journey state: %w", err)
	}
	return nil
}
