package graph

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"crosspost/domain/model"

	"golang.org/x/oauth2"
)

var facebookScopes = []string{
	"pages_show_list",
	"pages_read_engagement",
	"pages_manage_posts",
	"instagram_basic",
	"instagram_content_publish",
	"business_management",
}

// Page is a Facebook Page the user manages, with its linked Instagram
// professional account when one exists.
type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	Instagram   *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"instagram_business_account,omitempty"`
}

// Connector links Facebook Pages and their Instagram accounts. One consent
// yields a page token per page, which also authorizes the page's Instagram account.
type Connector struct {
	client *Client
	oauth  *oauth2.Config
	now    func() time.Time
}

func NewConnector(client *Client, dialogURL, clientID, clientSecret, redirectURL string) *Connector {
	if dialogURL == "" {
		dialogURL = "https://www.facebook.com"
	}
	return &Connector{
		client: client,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       facebookScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   fmt.Sprintf("%s/%s/dialog/oauth", dialogURL, client.version),
				TokenURL:  client.endpoint("oauth/access_token"),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		now: time.Now,
	}
}

func (c *Connector) Platform() string { return model.PlatformFacebook }

func (c *Connector) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Connect exchanges code for a long-lived user token and returns one token per
// managed page plus one per linked Instagram account.
func (c *Connector) Connect(ctx context.Context, userID, code string) ([]*model.OAuthToken, error) {
	short, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange facebook code: %w", err)
	}
	long, err := c.longLived(ctx, short.AccessToken)
	if err != nil {
		return nil, err
	}
	pages, err := c.ManagedPages(ctx, long.AccessToken)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	var expiresAt *time.Time
	if long.ExpiresIn > 0 {
		exp := now.Add(time.Duration(long.ExpiresIn) * time.Second)
		expiresAt = &exp
	}
	tokenType := "page"
	out := make([]*model.OAuthToken, 0, len(pages))
	for _, p := range pages {
		name := p.Name
		out = append(out, &model.OAuthToken{
			UserID: userID, Platform: model.PlatformFacebook, AccountID: p.ID, AccountName: &name,
			AccessToken: p.AccessToken, ExpiresAt: expiresAt, Scopes: strings.Join(facebookScopes, ","), TokenType: &tokenType,
			CreatedAt: now, UpdatedAt: now,
		})
		if p.Instagram != nil && p.Instagram.ID != "" {
			username := p.Instagram.Username
			out = append(out, &model.OAuthToken{
				UserID: userID, Platform: model.PlatformInstagram, AccountID: p.Instagram.ID, AccountName: &username,
				AccessToken: p.AccessToken, ExpiresAt: expiresAt, Scopes: strings.Join(facebookScopes, ","), TokenType: &tokenType,
				CreatedAt: now, UpdatedAt: now,
			})
		}
	}
	return out, nil
}

type longLivedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Connector) longLived(ctx context.Context, shortToken string) (*longLivedToken, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", c.oauth.ClientID)
	params.Set("client_secret", c.oauth.ClientSecret)
	params.Set("fb_exchange_token", shortToken)
	var tok longLivedToken
	if err := c.client.get(ctx, model.PlatformFacebook, "oauth/access_token", params, &tok); err != nil {
		return nil, fmt.Errorf("long-lived token exchange: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("long-lived token exchange: empty access token")
	}
	return &tok, nil
}

// ManagedPages lists the pages behind userToken.
func (c *Connector) ManagedPages(ctx context.Context, userToken string) ([]Page, error) {
	params := url.Values{}
	params.Set("fields", "id,name,access_token,instagram_business_account{id,username}")
	params.Set("access_token", userToken)
	var resp struct {
		Data []Page `json:"data"`
	}
	if err := c.client.get(ctx, model.PlatformFacebook, "me/accounts", params, &resp); err != nil {
		return nil, fmt.Errorf("list facebook pages: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("list facebook pages: no pages available")
	}
	return resp.Data, nil
}
