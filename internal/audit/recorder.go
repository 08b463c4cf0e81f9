// Package audit records every state transition the engine applies. Writes
// are fire-and-forget: a failed audit write is logged, never propagated into
// the booking path.
package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type Recorder interface {
	Record(ctx context.Context, actor, action string, entityID uuid.UUID, metadata map[string]any)
}

// PgRecorder appends to the audit_log table.
type PgRecorder struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPgRecorder(pool *pgxpool.Pool, log zerolog.Logger) *PgRecorder {
	return &PgRecorder{pool: pool, log: log}
}

func (r *PgRecorder) Record(ctx context.Context, actor, action string, entityID uuid.UUID, metadata map[string]any) {
	payload, err := json.Marshal(metadata)
	if err != nil {
		r.log.Error().Err(err).Str("action", action).Msg("marshal audit metadata")
		payload = nil
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor, action, entity_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, actor, action, entityID, payload)
	if err != nil {
		r.log.Error().Err(err).
			Str("actor", actor).
			Str("action", action).
			Str("entity_id", entityID.String()).
			Msg("insert audit record")
	}
}

// Noop discards audit records.
type Noop struct{}

func (Noop) Record(context.Context, string, string, uuid.UUID, map[string]any) {}
