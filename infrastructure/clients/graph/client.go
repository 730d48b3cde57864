// Package graph publishes videos through the Facebook Graph API, covering both
// Facebook Pages and Instagram professional accounts.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/google/go-querystring/query"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL       string
	APIVersion    string
	RatePerSecond int
	Timeout       time.Duration
}

// Client is a thin Graph API caller shared by the Facebook and Instagram publishers.
// All requests pass one token bucket.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     repository.IOAuthToken
}

func NewClient(cfg Config, tokens repository.IOAuthToken) *Client {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		version:    cfg.APIVersion,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		tokens:     tokens,
	}
}

type graphError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// accessToken loads the stored token for the destination's account.
func (c *Client) accessToken(ctx context.Context, platform, userID string, key model.DestinationKey) (string, error) {
	tok, err := c.tokens.GetToken(ctx, userID, platform, key.AccountID())
	if err != nil {
		return "", &model.PublishError{Platform: platform, Message: "no stored credentials for " + key.String(), Err: err}
	}
	if !tok.Usable(time.Now()) {
		return "", &model.PublishError{Platform: platform, Message: "stored credentials expired for " + key.String()}
	}
	return tok.AccessToken, nil
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, strings.TrimLeft(path, "/"))
}

// post sends form (a url-tagged struct) and decodes the JSON reply into out.
func (c *Client) post(ctx context.Context, platform, path string, form interface{}, out interface{}) error {
	values, err := query.Values(form)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, platform, out)
}

func (c *Client) get(ctx context.Context, platform, path string, params url.Values, out interface{}) error {
	u := c.endpoint(path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, platform, out)
}

func (c *Client) do(req *http.Request, platform string, out interface{}) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return &model.PublishError{Platform: platform, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &model.PublishError{Platform: platform, Err: redactURL(err)}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &model.PublishError{Platform: platform, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		var ge graphError
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
			msg = ge.Error.Message
		}
		return &model.PublishError{Platform: platform, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &model.PublishError{Platform: platform, StatusCode: resp.StatusCode, Message: "unreadable response", Err: err}
	}
	return nil
}

// redactURL drops the query string from a transport error; Graph GETs carry
// access tokens and app secrets there.
func redactURL(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	clean := *ue
	if i := strings.IndexByte(clean.URL, '?'); i >= 0 {
		clean.URL = clean.URL[:i]
	}
	return &clean
}

type idResponse struct {
	ID string `json:"id"`
}

func requireID(platform string, r idResponse) error {
	if r.ID == "" {
		return &model.PublishError{Platform: platform, Err: errors.New("response carried no id")}
	}
	return nil
}
