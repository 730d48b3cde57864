package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"crosspost/domain/model"
)

type OAuthTokenRepositoryMSSQL struct{ db *sql.DB }

func NewOAuthTokenRepositoryMSSQL(db *sql.DB) *OAuthTokenRepositoryMSSQL {
	return &OAuthTokenRepositoryMSSQL{db: db}
}

// EnsureOAuthTokenSchemaMSSQL creates the oauth_tokens table for SQL Server if it does not exist.
func EnsureOAuthTokenSchemaMSSQL(db *sql.DB) error {
	ddl := `IF NOT EXISTS (SELECT * FROM sys.objects WHERE object_id = OBJECT_ID(N'dbo.oauth_tokens') AND type in (N'U'))
BEGIN
    CREATE TABLE dbo.[oauth_tokens] (
        id BIGINT IDENTITY(1,1) PRIMARY KEY,
        user_id NVARCHAR(128) NOT NULL,
        platform NVARCHAR(64) NOT NULL,
        account_id NVARCHAR(128) NOT NULL,
        account_name NVARCHAR(255) NULL,
        access_token NVARCHAR(MAX) NOT NULL,
        refresh_token NVARCHAR(MAX) NULL,
        expires_at DATETIME2 NULL,
        scopes NVARCHAR(MAX) NOT NULL,
        token_type NVARCHAR(32) NULL,
        created_at DATETIME2 NOT NULL,
        updated_at DATETIME2 NOT NULL
    );
    CREATE UNIQUE INDEX UX_oauth_tokens_user_platform_account ON dbo.[oauth_tokens](user_id, platform, account_id);
END`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create oauth_tokens (mssql): %w", err)
	}
	return nil
}

func (r *OAuthTokenRepositoryMSSQL) UpsertToken(ctx context.Context, t *model.OAuthToken) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	// Normalize nullable values for MSSQL driver
	var exp sql.NullTime
	if t.ExpiresAt != nil {
		exp = sql.NullTime{Time: *t.ExpiresAt, Valid: true}
	}
	var accountName, tokenType sql.NullString
	if t.AccountName != nil {
		accountName = sql.NullString{String: *t.AccountName, Valid: true}
	}
	if t.TokenType != nil {
		tokenType = sql.NullString{String: *t.TokenType, Valid: true}
	}
	q := `MERGE dbo.[oauth_tokens] AS target
USING (VALUES (@p1, @p2, @p3)) AS src(user_id, platform, account_id)
ON target.user_id = src.user_id AND target.platform = src.platform AND target.account_id = src.account_id
WHEN MATCHED THEN UPDATE SET
    account_name=@p4,
    access_token=@p5,
    refresh_token=@p6,
    expires_at=@p7,
    scopes=@p8,
    token_type=@p9,
    updated_at=@p11
WHEN NOT MATCHED THEN
    INSERT (user_id, platform, account_id, account_name, access_token, refresh_token, expires_at, scopes, token_type, created_at, updated_at)
    VALUES (@p1,@p2,@p3,@p4,@p5,@p6,@p7,@p8,@p9,@p10,@p11);`
	_, err := r.db.ExecContext(ctx, q,
		t.UserID, t.Platform, t.AccountID,
		accountName,
		t.AccessToken,
		t.RefreshToken,
		exp,
		t.Scopes,
		tokenType,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("merge oauth token: %w", err)
	}
	return nil
}

func (r *OAuthTokenRepositoryMSSQL) GetToken(ctx context.Context, userID, platform, accountID string) (*model.OAuthToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, user_id, platform, account_id, account_name, access_token, refresh_token, expires_at, scopes, token_type, created_at, updated_at FROM dbo.[oauth_tokens] WHERE user_id=@p1 AND platform=@p2 AND account_id=@p3`, userID, platform, accountID)
	return scanToken(row)
}
