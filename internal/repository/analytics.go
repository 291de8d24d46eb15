package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botfleet/webhook-router/internal/domain"
)

// AnalyticsRepo appends events for the analytics collaborator. Writes are
// best effort at the call site; the repo itself just reports the error.
type AnalyticsRepo struct {
	db *pgxpool.Pool
}

func NewAnalyticsRepo(db *pgxpool.Pool) *AnalyticsRepo { return &AnalyticsRepo{db: db} }

func (r *AnalyticsRepo) Append(ctx context.Context, ev domain.AnalyticsEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO analytics_events (bot_id, user_id, kind, state_key, payload, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, ev.BotID, ev.UserID, ev.Kind, nullIfEmpty(ev.StateKey), nullIfEmpty(ev.Payload), ev.OccurredAt)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
