// Package repository holds the pgx-backed persistence for bots, user
// profiles, broadcasts and analytics events. Callers wrap these calls in the
// postgres circuit breaker; the repositories themselves stay breaker-free so
// tests can hit them with a bare pool or a fake.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botfleet/webhook-router/internal/domain"
	apperrors "github.com/botfleet/webhook-router/internal/errors"
)

// BotRepo reads tenant bot records. The router never writes them; that side
// belongs to the tenant-management collaborator.
type BotRepo struct {
	db *pgxpool.Pool
}

func NewBotRepo(db *pgxpool.Pool) *BotRepo { return &BotRepo{db: db} }

// GetByID returns the bot row or a not-found application error.
func (r *BotRepo) GetByID(ctx context.Context, botID string) (*domain.Bot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, token, webhook_secret, COALESCE(definition, ''), definition_version, updated_at
		FROM bots WHERE id = $1
	`, botID)

	var b domain.Bot
	var def string
	err := row.Scan(&b.ID, &b.Token, &b.WebhookSecret, &def, &b.DefinitionVersion, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("bot "+botID)
		}
		return nil, err
	}
	if def != "" {
		b.Definition = []byte(def)
	}
	return &b, nil
}

// LoadDefinition satisfies the schema cache loader contract: raw definition
// JSON plus the version tag. A bot that exists but has not published a
// definition yet returns empty raw, which the cache reports as no-definition.
func (r *BotRepo) LoadDefinition(ctx context.Context, botID string) ([]byte, int64, error) {
	row := r.db.QueryRow(ctx, `
		SELECT COALESCE(definition, ''), definition_version FROM bots WHERE id = $1
	`, botID)

	var def string
	var version int64
	if err := row.Scan(&def, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, apperrors.NewNotFound("bot "+botID)
		}
		return nil, 0, err
	}
	if def == "" {
		return nil, version, nil
	}
	return []byte(def), version, nil
}
