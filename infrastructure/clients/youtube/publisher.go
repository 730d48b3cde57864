package youtube

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const maxTitleLen = 100

// Config represents YouTube publishing configuration
type Config struct {
	ClientID      string
	ClientSecret  string
	PrivacyStatus string
	CategoryID    string
	// Endpoint overrides the API base URL; empty means the public endpoint.
	Endpoint string
}

// Publisher uploads a hosted video to the channel named by the destination,
// using that channel's stored OAuth token.
type Publisher struct {
	cfg        Config
	oauth      *oauth2.Config
	tokens     repository.IOAuthToken
	httpClient *http.Client
}

func NewPublisher(cfg Config, tokens repository.IOAuthToken) *Publisher {
	if cfg.PrivacyStatus == "" {
		cfg.PrivacyStatus = "public"
	}
	return &Publisher{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{youtube.YoutubeUploadScope},
			Endpoint:     google.Endpoint,
		},
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 0},
	}
}

func (p *Publisher) Platform() string { return model.PlatformYouTube }

func (p *Publisher) Publish(ctx context.Context, in repository.PublishInput) (repository.PublishResult, error) {
	stored, err := p.tokens.GetToken(ctx, in.UserID, model.PlatformYouTube, in.Destination.AccountID())
	if err != nil {
		return nil, &model.PublishError{Platform: model.PlatformYouTube, Message: "no stored credentials for " + in.Destination.String(), Err: err}
	}
	if !stored.Usable(time.Now()) {
		return nil, &model.PublishError{Platform: model.PlatformYouTube, Message: "stored credentials expired for " + in.Destination.String()}
	}

	ts := oauth2.ReuseTokenSource(oauthToken(stored), p.oauth.TokenSource(ctx, oauthToken(stored)))
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if p.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.cfg.Endpoint))
	}
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	src, err := p.openSource(ctx, in.VideoURL)
	if err != nil {
		return nil, err
	}
	defer src.Body.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       titleFrom(in.Caption),
			Description: in.Caption,
			CategoryId:  p.cfg.CategoryID,
		},
		Status: &youtube.VideoStatus{PrivacyStatus: p.cfg.PrivacyStatus},
	}
	call := service.Videos.Insert([]string{"snippet", "status"}, video).
		Media(src.Body, googleapi.ContentType(contentType(src))).
		Context(ctx)
	// Google rotates access tokens on refresh; keep the new one even when the
	// upload itself fails.
	defer p.persistRefreshed(ctx, stored, ts)
	resp, err := call.Do()
	if err != nil {
		pe := &model.PublishError{Platform: model.PlatformYouTube, Err: err}
		if gerr, ok := err.(*googleapi.Error); ok {
			pe.StatusCode = gerr.Code
			pe.Message = gerr.Message
		}
		return nil, pe
	}
	return repository.PublishResult{"video_id": resp.Id}, nil
}

// openSource streams the hosted video; the body is handed to the upload as is.
func (p *Publisher) openSource(ctx context.Context, videoURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, &model.PublishError{Platform: model.PlatformYouTube, Message: "bad video url", Err: err}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &model.PublishError{Platform: model.PlatformYouTube, Message: "fetch video", Err: err}
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, &model.PublishError{Platform: model.PlatformYouTube, StatusCode: resp.StatusCode, Message: "fetch video: unexpected status"}
	}
	return resp, nil
}

// persistRefreshed writes back an access token the oauth2 library refreshed.
// The write outlives a cancelled or timed-out publish context.
func (p *Publisher) persistRefreshed(ctx context.Context, stored *model.OAuthToken, ts oauth2.TokenSource) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	current, err := ts.Token()
	if err != nil || current.AccessToken == stored.AccessToken {
		return
	}
	updated := *stored
	updated.AccessToken = current.AccessToken
	if current.RefreshToken != "" {
		updated.RefreshToken = current.RefreshToken
	}
	if !current.Expiry.IsZero() {
		exp := current.Expiry.UTC()
		updated.ExpiresAt = &exp
	}
	if err := p.tokens.UpsertToken(ctx, &updated); err != nil {
		logger.GetLogger().WithField("error", err).WithField("account_id", stored.AccountID).Warn("Failed to persist refreshed YouTube token")
	}
}

func oauthToken(t *model.OAuthToken) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, TokenType: "Bearer"}
	if t.ExpiresAt != nil {
		tok.Expiry = *t.ExpiresAt
	}
	return tok
}

func contentType(resp *http.Response) string {
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "video/") {
		return ct
	}
	return "video/*"
}

// titleFrom uses the caption's first line, capped to YouTube's title limit.
func titleFrom(caption string) string {
	title := strings.TrimSpace(strings.SplitN(caption, "\n", 2)[0])
	if title == "" {
		return "Untitled"
	}
	r := []rune(title)
	if len(r) > maxTitleLen {
		title = string(r[:maxTitleLen])
	}
	return title
}
