package youtube

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crosspost/domain/model"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// Connector links the YouTube channels of a Google account.
type Connector struct {
	cfg   Config
	oauth *oauth2.Config
	now   func() time.Time
}

// NewConnector uses the publisher's client credentials. tokenURL overrides the
// Google token endpoint when set.
func NewConnector(cfg Config, redirectURL, tokenURL string) *Connector {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	if tokenURL != "" {
		oc.Endpoint.TokenURL = tokenURL
	}
	return &Connector{cfg: cfg, oauth: oc, now: time.Now}
}

func (c *Connector) Platform() string { return model.PlatformYouTube }

// AuthCodeURL asks for offline access so a refresh token is issued.
func (c *Connector) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (c *Connector) Connect(ctx context.Context, userID, code string) ([]*model.OAuthToken, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange youtube code: %w", err)
	}
	opts := []option.ClientOption{option.WithHTTPClient(c.oauth.Client(ctx, tok))}
	if c.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.cfg.Endpoint))
	}
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	resp, err := service.Channels.List([]string{"id", "snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list youtube channels: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("list youtube channels: account has no channel")
	}

	now := c.now().UTC()
	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		expiresAt = &exp
	}
	tokenType := "user"
	scopes := strings.Join(c.oauth.Scopes, " ")
	out := make([]*model.OAuthToken, 0, len(resp.Items))
	for _, ch := range resp.Items {
		var name *string
		if ch.Snippet != nil {
			title := ch.Snippet.Title
			name = &title
		}
		out = append(out, &model.OAuthToken{
			UserID: userID, Platform: model.PlatformYouTube, AccountID: ch.Id, AccountName: name,
			AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, ExpiresAt: expiresAt,
			Scopes: scopes, TokenType: &tokenType, CreatedAt: now, UpdatedAt: now,
		})
	}
	return out, nil
}
