package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/becomeliminal/memento/core"
)

// SaveIntegration upserts the mail integration for in.UserID. Tokens are
// encrypted when the store has an encryption key.
func (s *Store) SaveIntegration(ctx context.Context, in *core.MailIntegration) error {
	access, err := s.seal(in.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := s.seal(in.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mail_integrations (user_id, email, access_token, refresh_token, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`,
		in.UserID, in.Email, access, refresh, toUnix(in.Expiry), toUnix(in.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert mail integration: %w", err)
	}
	return nil
}

// Integration returns the mail integration for userID, or ErrNotFound.
func (s *Store) Integration(ctx context.Context, userID string) (*core.MailIntegration, error) {
	var (
		in              core.MailIntegration
		access, refresh []byte
		expiry, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, access_token, refresh_token, expiry, updated_at
		FROM mail_integrations WHERE user_id = ?`, userID,
	).Scan(&in.UserID, &in.Email, &access, &refresh, &expiry, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mail integration: %w", err)
	}

	if in.AccessToken, err = s.open(access); err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	if in.RefreshToken, err = s.open(refresh); err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	in.Expiry = fromUnix(expiry)
	in.UpdatedAt = fromUnix(updated)
	return &in, nil
}
