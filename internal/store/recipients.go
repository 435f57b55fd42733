package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/avandyck/drifthook/internal/task"
)

// RecipientStore reads the platform-owned webhook configuration snapshot.
// The delivery engine never writes here.
type RecipientStore struct {
	db DB
}

func NewRecipientStore(db DB) *RecipientStore {
	return &RecipientStore{db: db}
}

// GetWebhookConfig looks up a recipient's webhook settings at dispatch time.
// An unknown recipient yields a zero (unusable) config rather than an error:
// the dispatcher dead-letters on it the same way as a disabled one.
func (s *RecipientStore) GetWebhookConfig(ctx context.Context, recipientID string) (task.WebhookConfig, error) {
	var (
		cfg    task.WebhookConfig
		url    sql.NullString
		secret sql.NullString
	)
	err := s.db.QueryRow(ctx, `
		SELECT webhook_enabled, webhook_url, webhook_secret, sig_version
		FROM drifthook.recipients
		WHERE id = $1`, recipientID,
	).Scan(&cfg.Enabled, &url, &secret, &cfg.SigVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.WebhookConfig{}, nil
		}
		return task.WebhookConfig{}, fmt.Errorf("select recipient config: %w", err)
	}
	cfg.URL = url.String
	cfg.Secret = secret.String
	return cfg, nil
}
