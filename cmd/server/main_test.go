package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/cache"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/internal/worker"
	"github.com/kiranshivaraju/tryon/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	store.NopStore
	pingErr error
}

func (s *testStore) Ping(_ context.Context) error { return s.pingErr }

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *testCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *testCache) Ping(_ context.Context) error                                     { return c.pingErr }
func (c *testCache) SetTaskStatus(_ context.Context, _ uuid.UUID, _ models.TaskRecord, _ time.Duration) error {
	return nil
}
func (c *testCache) GetTaskStatus(_ context.Context, _ uuid.UUID) (models.TaskRecord, bool, error) {
	return models.TaskRecord{}, false, nil
}
func (c *testCache) DeleteTaskStatus(_ context.Context, _ uuid.UUID) error { return nil }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*testCache)(nil)

type testPool struct {
	stats worker.Stats
}

func (p testPool) Stats() worker.Stats { return p.stats }

// ─── health handler tests ───────────────────────────────────────────────────

func serveHealth(t *testing.T, s store.Store, c cache.Cache) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	h := healthHandler(s, c, testPool{stats: worker.Stats{Workers: 4, Queued: 1, InFlight: 2}})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealthHandler_AllOK(t *testing.T) {
	w, body := serveHealth(t, &testStore{}, &testCache{})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	services := body["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])

	workers := body["workers"].(map[string]any)
	assert.EqualValues(t, 4, workers["workers"])
	assert.EqualValues(t, 1, workers["queued"])
	assert.EqualValues(t, 2, workers["in_flight"])
}

func TestHealthHandler_NopHistoryIsHealthy(t *testing.T) {
	w, _ := serveHealth(t, store.NopStore{}, &testCache{})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	w, body := serveHealth(t, &testStore{pingErr: errors.New("connection refused")}, &testCache{})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])
	services := body["services"].(map[string]any)
	assert.Equal(t, "degraded", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	w, body := serveHealth(t, &testStore{}, &testCache{pingErr: errors.New("redis down")})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	services := body["services"].(map[string]any)
	assert.Equal(t, "degraded", services["cache"])
}

func TestHealthHandler_BothDegraded(t *testing.T) {
	w, _ := serveHealth(t,
		&testStore{pingErr: errors.New("db down")},
		&testCache{pingErr: errors.New("redis down")},
	)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─── run() startup failure tests ────────────────────────────────────────────

func TestRun_FailsOnInvalidConfig(t *testing.T) {
	t.Setenv("GATEWAY_PROVIDER", "replicate")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnUnreachableRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1/0")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

// ─── .env loading ───────────────────────────────────────────────────────────

func TestLoadDotEnv_Missing(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnv_KeepsExistingEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TRYON_TEST_DOTENV_NEW=from-file\nTRYON_TEST_DOTENV_SET=from-file\n"), 0o600))

	t.Setenv("TRYON_TEST_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("TRYON_TEST_DOTENV_NEW") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("TRYON_TEST_DOTENV_NEW"))
	assert.Equal(t, "from-env", os.Getenv("TRYON_TEST_DOTENV_SET"))
}
