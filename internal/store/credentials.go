package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spigell/hh-autoreply/internal/session"
)

// GetCredential returns session.ErrNotFound when the user has no session.
func (s *Store) GetCredential(ctx context.Context, userID uuid.UUID) (session.Credential, error) {
	var (
		cred    session.Credential
		headers []byte
		cookies []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT user_id, headers, cookies, updated_at
		FROM session_credentials WHERE user_id = $1
	`, userID).Scan(&cred.UserID, &headers, &cookies, &cred.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Credential{}, session.ErrNotFound
	}
	if err != nil {
		return session.Credential{}, fmt.Errorf("query credential: %w", err)
	}

	if err := json.Unmarshal(headers, &cred.Headers); err != nil {
		return session.Credential{}, fmt.Errorf("unmarshal headers: %w", err)
	}
	if err := json.Unmarshal(cookies, &cred.Cookies); err != nil {
		return session.Credential{}, fmt.Errorf("unmarshal cookies: %w", err)
	}
	return cred, nil
}

// SaveCredential upserts the credential.
func (s *Store) SaveCredential(ctx context.Context, cred session.Credential) error {
	if cred.Headers == nil {
		cred.Headers = session.Headers{}
	}
	if cred.Cookies == nil {
		cred.Cookies = session.Cookies{}
	}

	headers, err := json.Marshal(cred.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	cookies, err := json.Marshal(cred.Cookies)
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_credentials (user_id, headers, cookies, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET headers = EXCLUDED.headers, cookies = EXCLUDED.cookies, updated_at = EXCLUDED.updated_at
	`, cred.UserID, headers, cookies, cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}
