package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botfleet/webhook-router/internal/domain"
	apperrors "github.com/botfleet/webhook-router/internal/errors"
)

// BroadcastRepo manages campaign rows. Status transitions are conditional
// updates so concurrent runners and a cancelling operator never race past
// each other.
type BroadcastRepo struct {
	db *pgxpool.Pool
}

func NewBroadcastRepo(db *pgxpool.Pool) *BroadcastRepo { return &BroadcastRepo{db: db} }

func (r *BroadcastRepo) Get(ctx context.Context, id string) (*domain.Broadcast, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, bot_id, message, COALESCE(parse_mode,''), COALESCE(media_url,''), COALESCE(media_kind,''),
		       status, total_recipients, sent_count, failed_count, created_at, updated_at
		FROM broadcasts WHERE id = $1
	`, id)

	var b domain.Broadcast
	err := row.Scan(&b.ID, &b.BotID, &b.Message, &b.ParseMode, &b.MediaURL, &b.MediaKind,
		&b.Status, &b.TotalRecipients, &b.SentCount, &b.FailedCount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("broadcast "+id)
		}
		return nil, err
	}
	return &b, nil
}

// MarkProcessing moves a scheduled campaign into processing, or confirms a
// campaign already processing (a resumed run). Cancelled and completed
// campaigns are left alone and reported as not started.
func (r *BroadcastRepo) MarkProcessing(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE broadcasts SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status IN ('scheduled', 'processing')
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// MarkCompleted finishes a processing campaign. A cancelled campaign keeps
// its cancelled status.
func (r *BroadcastRepo) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE broadcasts SET status = 'completed', updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`, id, now)
	return err
}

func (r *BroadcastRepo) MarkFailed(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE broadcasts SET status = 'failed', updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`, id, now)
	return err
}

// IncrementCounters adds per-batch sent/failed tallies to the campaign row.
func (r *BroadcastRepo) IncrementCounters(ctx context.Context, id string, sent, failed int64) error {
	if sent == 0 && failed == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE broadcasts
		SET sent_count = sent_count + $2, failed_count = failed_count + $3, updated_at = now()
		WHERE id = $1
	`, id, sent, failed)
	return err
}
