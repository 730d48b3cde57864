package graph

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) UpsertToken(ctx context.Context, t *model.OAuthToken) error {
	return m.Called(ctx, t).Error(0)
}

func (m *mockTokens) GetToken(ctx context.Context, userID, platform, accountID string) (*model.OAuthToken, error) {
	args := m.Called(ctx, userID, platform, accountID)
	tok, _ := args.Get(0).(*model.OAuthToken)
	return tok, args.Error(1)
}

func newTestClient(t *testing.T, h http.Handler, tokens repository.IOAuthToken) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIVersion: "v19.0", RatePerSecond: 100}, tokens)
}

func TestFacebookPublisher_Publish(t *testing.T) {
	tokens := new(mockTokens)
	tokens.On("GetToken", mock.Anything, "u1", "facebook", "555").
		Return(&model.OAuthToken{AccessToken: "page-token"}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/555/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "https://cdn.example.com/v.mp4", r.PostForm.Get("file_url"))
		assert.Equal(t, "hello", r.PostForm.Get("description"))
		assert.Equal(t, "page-token", r.PostForm.Get("access_token"))
		_, _ = w.Write([]byte(`{"id":"vid-1"}`))
	})

	p := NewFacebookPublisher(newTestClient(t, mux, tokens))
	res, err := p.Publish(context.Background(), repository.PublishInput{
		UserID: "u1", VideoURL: "https://cdn.example.com/v.mp4", Caption: "hello", Destination: "facebook:555",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.PublishResult{"video_id": "vid-1"}, res)
	tokens.AssertExpectations(t)
}

func TestFacebookPublisher_GraphError(t *testing.T) {
	tokens := new(mockTokens)
	tokens.On("GetToken", mock.Anything, "u1", "facebook", "555").
		Return(&model.OAuthToken{AccessToken: "page-token"}, nil)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid video file","type":"OAuthException","code":100}}`))
	})

	_, err := NewFacebookPublisher(newTestClient(t, h, tokens)).Publish(context.Background(), repository.PublishInput{
		UserID: "u1", VideoURL: "https://x/v.mp4", Destination: "facebook:555",
	})
	var pe *model.PublishError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, "Invalid video file", pe.Message)
}

func TestFacebookPublisher_MissingToken(t *testing.T) {
	tokens := new(mockTokens)
	tokens.On("GetToken", mock.Anything, "u1", "facebook", "555").Return(nil, model.ErrTokenNotFound)
	var hits int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { atomic.AddInt32(&hits, 1) })

	_, err := NewFacebookPublisher(newTestClient(t, h, tokens)).Publish(context.Background(), repository.PublishInput{
		UserID: "u1", VideoURL: "https://x/v.mp4", Destination: "facebook:555",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTokenNotFound)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestInstagramPublisher_Publish(t *testing.T) {
	tokens := new(mockTokens)
	tokens.On("GetToken", mock.Anything, "u1", "instagram", "1784").
		Return(&model.OAuthToken{AccessToken: "ig-token"}, nil)

	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/1784/media", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "REELS", r.PostForm.Get("media_type"))
		assert.Equal(t, "cap", r.PostForm.Get("caption"))
		_, _ = w.Write([]byte(`{"id":"c-9"}`))
	})
	mux.HandleFunc("/v19.0/c-9", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "status_code,status", r.URL.Query().Get("fields"))
		if atomic.AddInt32(&polls, 1) < 2 {
			_, _ = w.Write([]byte(`{"status_code":"IN_PROGRESS"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status_code":"FINISHED"}`))
	})
	mux.HandleFunc("/v19.0/1784/media_publish", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "c-9", r.PostForm.Get("creation_id"))
		_, _ = w.Write([]byte(`{"id":"m-1"}`))
	})

	p := NewInstagramPublisher(newTestClient(t, mux, tokens), 10*time.Millisecond)
	res, err := p.Publish(context.Background(), repository.PublishInput{
		UserID: "u1", VideoURL: "https://x/v.mp4", Caption: "cap", Destination: "instagram:1784",
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", res["media_id"])
	assert.Equal(t, "c-9", res["container_id"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestInstagramPublisher_ContainerError(t *testing.T) {
	tokens := new(mockTokens)
	tokens.On("GetToken", mock.Anything, "u1", "instagram", "1784").
		Return(&model.OAuthToken{AccessToken: "ig-token"}, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/1784/media", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"c-9"}`))
	})
	mux.HandleFunc("/v19.0/c-9", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status_code":"ERROR","status":"Error: unsupported aspect ratio"}`))
	})

	_, err := NewInstagramPublisher(newTestClient(t, mux, tokens), time.Millisecond).Publish(context.Background(), repository.PublishInput{
		UserID: "u1", VideoURL: "https://x/v.mp4", Destination: "instagram:1784",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported aspect ratio")
}

func TestInstagramPublisher_TimesOutWhileWaiting(t *testing.T) {
	tokens := new(mockTokens)
	tokens.On("GetToken", mock.Anything, "u1", "instagram", "1784").
		Return(&model.OAuthToken{AccessToken: "ig-token"}, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/1784/media", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"c-9"}`))
	})
	mux.HandleFunc("/v19.0/c-9", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status_code":"IN_PROGRESS"}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewInstagramPublisher(newTestClient(t, mux, tokens), 5*time.Millisecond).Publish(ctx, repository.PublishInput{
		UserID: "u1", VideoURL: "https://x/v.mp4", Destination: "instagram:1784",
	})
	require.Error(t, err)
}

func TestConnector_Connect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "the-code", r.PostForm.Get("code"))
			assert.Equal(t, "app-id", r.PostForm.Get("client_id"))
			_, _ = w.Write([]byte(`{"access_token":"short","token_type":"bearer","expires_in":3600}`))
			return
		}
		assert.Equal(t, "fb_exchange_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "short", r.URL.Query().Get("fb_exchange_token"))
		_, _ = w.Write([]byte(`{"access_token":"long","token_type":"bearer","expires_in":5184000}`))
	})
	mux.HandleFunc("/v19.0/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "long", r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(`{"data":[
			{"id":"p1","name":"Shop","access_token":"pt1","instagram_business_account":{"id":"ig1","username":"shop.ig"}},
			{"id":"p2","name":"Blog","access_token":"pt2"}
		]}`))
	})
	client := newTestClient(t, mux, nil)
	conn := NewConnector(client, "https://fb.example", "app-id", "app-secret", "https://app.example/auth/facebook/callback")
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	conn.now = func() time.Time { return now }

	assert.Contains(t, conn.AuthCodeURL("st"), "https://fb.example/v19.0/dialog/oauth?")
	assert.Contains(t, conn.AuthCodeURL("st"), "state=st")

	toks, err := conn.Connect(context.Background(), "u1", "the-code")
	require.NoError(t, err)
	require.Len(t, toks, 3)
	assert.Equal(t, "facebook", toks[0].Platform)
	assert.Equal(t, "p1", toks[0].AccountID)
	assert.Equal(t, "pt1", toks[0].AccessToken)
	assert.Equal(t, "instagram", toks[1].Platform)
	assert.Equal(t, "ig1", toks[1].AccountID)
	assert.Equal(t, "pt1", toks[1].AccessToken)
	assert.Equal(t, "p2", toks[2].AccountID)
	require.NotNil(t, toks[0].ExpiresAt)
	assert.Equal(t, now.Add(5184000*time.Second), *toks[0].ExpiresAt)
	for _, tok := range toks {
		assert.Equal(t, "u1", tok.UserID)
	}
}

func TestConnector_NoPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":60}`))
	})
	mux.HandleFunc("/v19.0/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	conn := NewConnector(newTestClient(t, mux, nil), "", "id", "secret", "")
	_, err := conn.Connect(context.Background(), "u1", "code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pages available")
}

func TestClient_TransportErrorsOmitTokens(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	client := NewClient(Config{BaseURL: base, APIVersion: "v19.0", RatePerSecond: 100}, new(mockTokens))

	err := NewInstagramPublisher(client, time.Millisecond).waitFinished(context.Background(), "17890000", "SECRET-PAGE-TOKEN")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-PAGE-TOKEN")
	assert.Contains(t, err.Error(), "/v19.0/17890000")
	var pubErr *model.PublishError
	require.True(t, errors.As(err, &pubErr))

	_, err = NewConnector(client, "", "app", "APP-SECRET", "https://cb").ManagedPages(context.Background(), "SECRET-USER-TOKEN")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-USER-TOKEN")
}

func TestRedactURL(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, redactURL(plain))

	err := redactURL(&url.Error{Op: "Get", URL: "https://graph.example/v19.0/me?access_token=abc", Err: plain})
	assert.Equal(t, `Get "https://graph.example/v19.0/me": boom`, err.Error())
	assert.ErrorIs(t, err, plain)
}
