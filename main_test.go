package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hn-digest/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAPIKeyMiddleware(t *testing.T) {
	router := gin.New()
	router.POST("/x", apiKeyAuthMiddleware(&config.Config{APISecretKey: "secret"}), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("X-API-KEY", "secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestAPIKeyMiddlewareDisabledWithoutSecret(t *testing.T) {
	router := gin.New()
	router.POST("/x", apiKeyAuthMiddleware(&config.Config{}), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestTriggerRejectsConcurrentRunOfSameKind(t *testing.T) {
	tr := newTrigger(context.Background(), zaptest.NewLogger(t))
	release := make(chan struct{})
	started := make(chan struct{})

	require.True(t, tr.start("harvest", func(context.Context) (any, error) {
		close(started)
		<-release
		return 1, nil
	}))
	<-started
	assert.False(t, tr.start("harvest", func(context.Context) (any, error) { return nil, nil }))
	assert.True(t, tr.start("reprocess", func(context.Context) (any, error) { return nil, nil }))

	close(release)
	tr.wait()
	assert.Eventually(t, func() bool {
		return tr.start("harvest", func(context.Context) (any, error) { return nil, nil })
	}, time.Second, 10*time.Millisecond)
	tr.wait()
}

func TestLiveness(t *testing.T) {
	router := gin.New()
	setupHealthRoutes(router, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
