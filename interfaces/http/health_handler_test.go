package http

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewHealthHandler(map[string]Check{
		"records": func(context.Context) error { return nil },
	})
	broken := NewHealthHandler(map[string]Check{
		"records": func(context.Context) error { return nil },
		"queue":   func(context.Context) error { return errors.New("connection refused") },
	})
	r := gin.New()
	r.GET("/healthz", healthy.Healthz)
	r.GET("/readyz", healthy.Readyz)
	r.GET("/broken/readyz", broken.Readyz)

	w := serve(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"records":"ok"}}`, w.Body.String())

	w = serve(r, http.MethodGet, "/broken/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"records":"ok","queue":"connection refused"}}`, w.Body.String())
}
