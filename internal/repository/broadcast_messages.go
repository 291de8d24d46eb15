package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botfleet/webhook-router/internal/domain"
)

// BroadcastMessageRepo manages per-recipient delivery rows. Claiming uses
// FOR UPDATE SKIP LOCKED inside a single conditional UPDATE so two runners
// working the same campaign never pick the same row.
type BroadcastMessageRepo struct {
	db *pgxpool.Pool
}

func NewBroadcastMessageRepo(db *pgxpool.Pool) *BroadcastMessageRepo {
	return &BroadcastMessageRepo{db: db}
}

// Claim atomically moves up to limit pending rows into sending, stamped with
// the claiming run's id and lease start. Returns the claimed rows oldest
// first.
func (r *BroadcastMessageRepo) Claim(ctx context.Context, broadcastID, runID string, limit int, now time.Time) ([]domain.BroadcastMessage, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE broadcast_messages
		SET status = 'sending', claimed_by = $2, claimed_at = $4
		WHERE id IN (
			SELECT id FROM broadcast_messages
			WHERE broadcast_id = $1 AND status = 'pending'
			ORDER BY id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		RETURNING id, broadcast_id, recipient_id, status
	`, broadcastID, runID, limit, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BroadcastMessage
	for rows.Next() {
		var m domain.BroadcastMessage
		if err := rows.Scan(&m.ID, &m.BroadcastID, &m.RecipientID, &m.Status); err != nil {
			return nil, err
		}
		m.ClaimedBy = runID
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReclaimStale returns sending rows whose lease expired back to pending so a
// later run can retry them. Rows claimed by the current run are left alone.
func (r *BroadcastMessageRepo) ReclaimStale(ctx context.Context, broadcastID, runID string, lease time.Duration, now time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE broadcast_messages
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL
		WHERE broadcast_id = $1 AND status = 'sending' AND claimed_by <> $2 AND claimed_at < $3
	`, broadcastID, runID, now.Add(-lease))
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// MarkSent records a successful delivery with the provider's message id.
func (r *BroadcastMessageRepo) MarkSent(ctx context.Context, id int64, providerMsgID string, now time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE broadcast_messages
		SET status = 'sent', provider_msg_id = $2, sent_at = $3, error = NULL
		WHERE id = $1
	`, id, providerMsgID, now)
	return err
}

// MarkFailed records a terminal delivery failure for one recipient.
func (r *BroadcastMessageRepo) MarkFailed(ctx context.Context, id int64, cause string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE broadcast_messages SET status = 'failed', error = $2 WHERE id = $1
	`, id, cause)
	return err
}

// Counts reports how many rows are still pending and sending; a campaign is
// complete when both hit zero.
func (r *BroadcastMessageRepo) Counts(ctx context.Context, broadcastID string) (pending, sending int64, err error) {
	row := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'sending')
		FROM broadcast_messages WHERE broadcast_id = $1
	`, broadcastID)
	err = row.Scan(&pending, &sending)
	return pending, sending, err
}

// MarkClicked flips the engagement flag for a recipient once. Returns whether
// the row changed so the caller can skip double accounting.
func (r *BroadcastMessageRepo) MarkClicked(ctx context.Context, broadcastID string, recipientID int64) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE broadcast_messages SET clicked = TRUE
		WHERE broadcast_id = $1 AND recipient_id = $2 AND clicked = FALSE
	`, broadcastID, recipientID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
