package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-fulfillment/config"
	"order-fulfillment/events"
	"order-fulfillment/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func memoryConfig() *config.Config {
	return &config.Config{
		StorageDriver:     config.StorageMemory,
		EventBroker:       config.BrokerNone,
		JWTSecret:         "container-secret",
		JWTTTL:            time.Hour,
		CacheTTL:          time.Minute,
		LowStockThreshold: 10,
		AdminEmail:        "root@example.com",
		AdminPassword:     "changeme",
	}
}

func TestContainerWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown(ctx) })

	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Rabbit)
	assert.IsType(t, events.Noop{}, c.Publisher)
	require.NoError(t, c.StartConsumers(ctx))

	admin, err := c.Store.Repositories().Users.FindByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, []models.Role{models.RoleAdmin}, admin.Roles)

	handler := c.Handler()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"root@example.com","password":"changeme"}`))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data.Token)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "order_fulfillment_http_requests_total")
}

func TestContainerWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()

	ctx := context.Background()
	c, err := NewContainer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown(ctx) })
	require.NotNil(t, c.Redis)

	handler := c.Handler()
	for range authRateLimit {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestContainerFailsWhenRedisIsUnreachable(t *testing.T) {
	cfg := memoryConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := NewContainer(context.Background(), cfg)
	assert.Error(t, err)
}
