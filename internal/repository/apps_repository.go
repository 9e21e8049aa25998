// Package repository loads apps and their webhooks from Postgres or a YAML file.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/pushgate/webhooks/internal/errors"
	"github.com/pushgate/webhooks/internal/models"
)

const appsSchema = `
	CREATE TABLE IF NOT EXISTS apps (
		id         TEXT PRIMARY KEY,
		key        TEXT NOT NULL UNIQUE,
		secret     TEXT NOT NULL,
		enabled    BOOLEAN NOT NULL DEFAULT TRUE,
		webhooks   JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// AppsRepository reads apps from the apps table. Webhooks are stored as a JSONB array.
type AppsRepository struct {
	db *pgxpool.Pool
}

// NewAppsRepository creates a new apps repository
func NewAppsRepository(db *pgxpool.Pool) *AppsRepository {
	return &AppsRepository{db: db}
}

// EnsureSchema creates the apps table when it does not exist.
func (r *AppsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, appsSchema); err != nil {
		return fmt.Errorf("failed to create apps table: %w", err)
	}

	return nil
}

// FindByKey returns the enabled app with key.
func (r *AppsRepository) FindByKey(ctx context.Context, key string) (*models.App, error) {
	return r.findOne(ctx, "key", key)
}

// FindByID returns the enabled app with id.
func (r *AppsRepository) FindByID(ctx context.Context, id string) (*models.App, error) {
	return r.findOne(ctx, "id", id)
}

// column is never user input.
func (r *AppsRepository) findOne(ctx context.Context, column, value string) (*models.App, error) {
	query := `
		SELECT id, key, secret, enabled, webhooks
		FROM apps
		WHERE ` + column + ` = $1
	`

	var (
		app      models.App
		enabled  bool
		webhooks []byte
	)

	err := r.db.QueryRow(ctx, query, value).Scan(&app.ID, &app.Key, &app.Secret, &enabled, &webhooks)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("app", "app not found")
		}

		return nil, fmt.Errorf("failed to get app: %w", err)
	}

	if !enabled {
		return nil, apperrors.NewNotFoundError("app", "app is disabled")
	}

	app.Enabled = &enabled

	if err := json.Unmarshal(webhooks, &app.Webhooks); err != nil {
		return nil, fmt.Errorf("failed to decode webhooks of app %s: %w", app.ID, err)
	}

	return &app, nil
}

// Upsert validates app and inserts or replaces it.
func (r *AppsRepository) Upsert(ctx context.Context, app *models.App) error {
	if err := app.Validate(); err != nil {
		return apperrors.NewValidationError("app", err.Error())
	}

	webhooks := app.Webhooks
	if webhooks == nil {
		webhooks = []models.WebhookConfig{}
	}

	body, err := json.Marshal(webhooks)
	if err != nil {
		return fmt.Errorf("failed to encode webhooks: %w", err)
	}

	query := `
		INSERT INTO apps (id, key, secret, enabled, webhooks)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key,
			secret = EXCLUDED.secret,
			enabled = EXCLUDED.enabled,
			webhooks = EXCLUDED.webhooks,
			updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, app.ID, app.Key, app.Secret, app.IsEnabled(), body); err != nil {
		return fmt.Errorf("failed to upsert app: %w", err)
	}

	return nil
}
