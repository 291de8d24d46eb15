package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botfleet/webhook-router/internal/domain"
)

// UserRepo persists per-(bot, end-user) profiles.
type UserRepo struct {
	db *pgxpool.Pool
}

func NewUserRepo(db *pgxpool.Pool) *UserRepo { return &UserRepo{db: db} }

// Upsert refreshes the profile on every inbound event. Empty fields never
// clobber previously collected values (a later message without a username
// must not erase the one we already have).
func (r *UserRepo) Upsert(ctx context.Context, p domain.UserProfile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_profiles (bot_id, user_id, first_name, last_name, username, phone, email, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (bot_id, user_id) DO UPDATE SET
			first_name = CASE WHEN EXCLUDED.first_name <> '' THEN EXCLUDED.first_name ELSE user_profiles.first_name END,
			last_name  = CASE WHEN EXCLUDED.last_name  <> '' THEN EXCLUDED.last_name  ELSE user_profiles.last_name END,
			username   = CASE WHEN EXCLUDED.username   <> '' THEN EXCLUDED.username   ELSE user_profiles.username END,
			phone      = CASE WHEN EXCLUDED.phone      <> '' THEN EXCLUDED.phone      ELSE user_profiles.phone END,
			email      = CASE WHEN EXCLUDED.email      <> '' THEN EXCLUDED.email      ELSE user_profiles.email END,
			last_seen  = EXCLUDED.last_seen
	`, p.BotID, p.UserID, p.FirstName, p.LastName, p.Username, p.Phone, p.Email, p.LastSeen)
	return err
}

// SetPhone records a collected phone number without touching other fields.
func (r *UserRepo) SetPhone(ctx context.Context, botID string, userID int64, phone string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE user_profiles SET phone = $3, last_seen = $4 WHERE bot_id = $1 AND user_id = $2
	`, botID, userID, phone, time.Now().UTC())
	return err
}

// SetEmail records a collected email address without touching other fields.
func (r *UserRepo) SetEmail(ctx context.Context, botID string, userID int64, email string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE user_profiles SET email = $3, last_seen = $4 WHERE bot_id = $1 AND user_id = $2
	`, botID, userID, email, time.Now().UTC())
	return err
}
