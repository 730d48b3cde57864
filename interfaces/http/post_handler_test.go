package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crosspost/domain/model"
	"crosspost/usecase"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDispatch struct {
	mock.Mock
}

func (m *MockDispatch) Dispatch(ctx context.Context, in usecase.DispatchInput) (*usecase.DispatchResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*usecase.DispatchResult)
	return res, args.Error(1)
}

type MockQuery struct {
	mock.Mock
}

func (m *MockQuery) Get(ctx context.Context, userID, requestID string) (*model.UploadRequest, error) {
	args := m.Called(ctx, userID, requestID)
	rec, _ := args.Get(0).(*model.UploadRequest)
	return rec, args.Error(1)
}

func (m *MockQuery) List(ctx context.Context, userID string, status model.Status, limit int) ([]*model.UploadRequest, error) {
	args := m.Called(ctx, userID, status, limit)
	recs, _ := args.Get(0).([]*model.UploadRequest)
	return recs, args.Error(1)
}

func (m *MockQuery) Logs(ctx context.Context, userID, requestID string) ([]model.DestinationLog, error) {
	args := m.Called(ctx, userID, requestID)
	logs, _ := args.Get(0).([]model.DestinationLog)
	return logs, args.Error(1)
}

func (m *MockQuery) DestinationLogs(ctx context.Context, userID, requestID string, key model.DestinationKey) ([]model.LogEntry, error) {
	args := m.Called(ctx, userID, requestID, key)
	logs, _ := args.Get(0).([]model.LogEntry)
	return logs, args.Error(1)
}

func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	}
}

func postRouter(d *MockDispatch, q *MockQuery) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewPostHandler(d, q)
	api := r.Group("/api", withUser("u1"))
	api.POST("/posts", h.Create)
	api.GET("/posts", h.List)
	api.GET("/posts/:requestId", h.Get)
	api.GET("/posts/:requestId/logs", h.Logs)
	api.GET("/posts/:requestId/destinations/:destination/logs", h.DestinationLogs)
	return r
}

func serve(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPostHandler_CreateAccepted(t *testing.T) {
	d := new(MockDispatch)
	d.On("Dispatch", mock.Anything, usecase.DispatchInput{
		UserID: "u1", VideoURL: "https://x/v.mp4", Caption: "hi", Destinations: []string{"facebook:1"},
	}).Return(&usecase.DispatchResult{RequestID: "r1", Status: model.StatusQueued, NotEnqueued: []model.DestinationKey{}}, nil)

	w := serve(postRouter(d, new(MockQuery)), http.MethodPost, "/api/posts",
		`{"video_url":"https://x/v.mp4","caption":"hi","destinations":["facebook:1"]}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/api/posts/r1", w.Header().Get("Location"))
	assert.JSONEq(t, `{"request_id":"r1","status":"queued","not_enqueued":[]}`, w.Body.String())
	d.AssertExpectations(t)
}

func TestPostHandler_CreateErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &model.ValidationError{Field: "video_url", Reason: "must be an absolute URL"}, http.StatusBadRequest},
		{"infrastructure", &model.InfrastructureError{Op: "create upload request", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := new(MockDispatch)
			d.On("Dispatch", mock.Anything, mock.Anything).Return(nil, tt.err)
			w := serve(postRouter(d, new(MockQuery)), http.MethodPost, "/api/posts", `{"video_url":"x"}`)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestPostHandler_CreateBadJSON(t *testing.T) {
	d := new(MockDispatch)
	w := serve(postRouter(d, new(MockQuery)), http.MethodPost, "/api/posts", `{"destinations":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestPostHandler_Get(t *testing.T) {
	q := new(MockQuery)
	rec := &model.UploadRequest{RequestID: "r1", UserID: "u1", Status: model.StatusProcessing, Destinations: map[model.DestinationKey]*model.DestinationState{}}
	q.On("Get", mock.Anything, "u1", "r1").Return(rec, nil)
	q.On("Get", mock.Anything, "u1", "nope").Return(nil, model.ErrRecordNotFound)
	r := postRouter(new(MockDispatch), q)

	w := serve(r, http.MethodGet, "/api/posts/r1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got model.UploadRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.StatusProcessing, got.Status)

	w = serve(r, http.MethodGet, "/api/posts/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostHandler_List(t *testing.T) {
	q := new(MockQuery)
	q.On("List", mock.Anything, "u1", model.StatusFailed, 5).Return([]*model.UploadRequest{{RequestID: "r9"}}, nil)
	q.On("List", mock.Anything, "u1", model.Status("bogus"), 0).Return(nil, &model.ValidationError{Field: "status", Reason: "unknown"})
	r := postRouter(new(MockDispatch), q)

	w := serve(r, http.MethodGet, "/api/posts?status=failed&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"request_id":"r9"`)

	w = serve(r, http.MethodGet, "/api/posts?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/api/posts?limit=many", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostHandler_Logs(t *testing.T) {
	q := new(MockQuery)
	entry := model.LogEntry{Level: model.LevelInfo, Message: "attempt 1 started"}
	q.On("Logs", mock.Anything, "u1", "r1").Return([]model.DestinationLog{{Destination: "facebook:1", LogEntry: entry}}, nil)
	q.On("DestinationLogs", mock.Anything, "u1", "r1", model.DestinationKey("facebook:1")).Return([]model.LogEntry{entry}, nil)
	q.On("DestinationLogs", mock.Anything, "u1", "r1", model.DestinationKey("youtube:2")).Return(nil, model.ErrDestinationNotFound)
	r := postRouter(new(MockDispatch), q)

	w := serve(r, http.MethodGet, "/api/posts/r1/logs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"destination":"facebook:1"`)
	assert.Contains(t, w.Body.String(), `"message":"attempt 1 started"`)

	w = serve(r, http.MethodGet, "/api/posts/r1/destinations/facebook:1/logs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"level":"INFO"`)

	w = serve(r, http.MethodGet, "/api/posts/r1/destinations/youtube:2/logs", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodGet, "/api/posts/r1/destinations/bad/logs", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
