package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crosspost/domain/model"
)

// OAuthTokenRepository stores per-account platform tokens in PostgreSQL.
type OAuthTokenRepository struct{ db *sql.DB }

func NewOAuthTokenRepository(db *sql.DB) *OAuthTokenRepository { return &OAuthTokenRepository{db: db} }

// EnsureOAuthTokenSchema creates the oauth_tokens table if it does not exist.
func EnsureOAuthTokenSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ddl := `CREATE TABLE IF NOT EXISTS oauth_tokens (
        id BIGSERIAL PRIMARY KEY,
        user_id TEXT NOT NULL,
        platform TEXT NOT NULL,
        account_id TEXT NOT NULL,
        account_name TEXT,
        access_token TEXT NOT NULL,
        refresh_token TEXT NOT NULL DEFAULT '',
        expires_at TIMESTAMPTZ,
        scopes TEXT NOT NULL DEFAULT '',
        token_type TEXT,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        UNIQUE (user_id, platform, account_id)
    )`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create oauth_tokens: %w", err)
	}
	return nil
}

func (r *OAuthTokenRepository) UpsertToken(ctx context.Context, t *model.OAuthToken) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	q := `INSERT INTO oauth_tokens (user_id, platform, account_id, account_name, access_token, refresh_token, expires_at, scopes, token_type, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		  ON CONFLICT (user_id, platform, account_id) DO UPDATE SET
			account_name=EXCLUDED.account_name,
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			scopes=EXCLUDED.scopes,
			token_type=EXCLUDED.token_type,
			updated_at=EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q, t.UserID, t.Platform, t.AccountID, t.AccountName, t.AccessToken, t.RefreshToken, t.ExpiresAt, t.Scopes, t.TokenType, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert oauth token: %w", err)
	}
	return nil
}

func (r *OAuthTokenRepository) GetToken(ctx context.Context, userID, platform, accountID string) (*model.OAuthToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, user_id, platform, account_id, account_name, access_token, refresh_token, expires_at, scopes, token_type, created_at, updated_at FROM oauth_tokens WHERE user_id=$1 AND platform=$2 AND account_id=$3`, userID, platform, accountID)
	return scanToken(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*model.OAuthToken, error) {
	tok := &model.OAuthToken{}
	var exp sql.NullTime
	var accountName, tokenType sql.NullString
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.Platform, &tok.AccountID, &accountName, &tok.AccessToken, &tok.RefreshToken, &exp, &tok.Scopes, &tokenType, &tok.CreatedAt, &tok.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrTokenNotFound
		}
		return nil, fmt.Errorf("scan oauth token: %w", err)
	}
	if exp.Valid {
		tok.ExpiresAt = &exp.Time
	}
	if accountName.Valid {
		v := accountName.String
		tok.AccountName = &v
	}
	if tokenType.Valid {
		v := tokenType.String
		tok.TokenType = &v
	}
	return tok, nil
}
