package model

import "time"

// OAuthToken stores platform OAuth credentials per (user, platform, account).
// Its presence is what authorizes a user to publish to a destination.
type OAuthToken struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"user_id"`
	Platform     string     `json:"platform"`
	AccountID    string     `json:"account_id"`
	AccountName  *string    `json:"account_name,omitempty"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scopes       string     `json:"scopes"`
	TokenType    *string    `json:"token_type,omitempty"` // user | page
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Usable reports whether the token can still be presented to the platform.
func (t *OAuthToken) Usable(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt != nil && !t.RefreshTokenAvailable() && now.After(*t.ExpiresAt) {
		return false
	}
	return true
}

func (t *OAuthToken) RefreshTokenAvailable() bool { return t.RefreshToken != "" }
