package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/cache"
	"github.com/kiranshivaraju/tryon/internal/config"
	"github.com/kiranshivaraju/tryon/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) (*cache.RedisCache, string, int) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return rc, host, port.Int()
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, _, _ := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

func TestNewRedisCacheFromConfig_DiscreteParams(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	_, host, port := setupRedis(t)

	rc, err := cache.NewRedisCacheFromConfig(config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	defer rc.Close()

	assert.NoError(t, rc.Ping(context.Background()))
}

// --- Set / Get roundtrip ---

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, _, _ := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second)
	require.NoError(t, err)

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)
}

func TestGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, _, _ := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestSet_NoTTLPersists(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, _, _ := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "persist:key", []byte("v"), 0))
	time.Sleep(1100 * time.Millisecond)

	_, found, err := rc.Get(ctx, "persist:key")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSet_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, _, _ := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "expiry:key", []byte("temp"), 1*time.Second)
	require.NoError(t, err)

	_, found, err := rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(1500 * time.Millisecond)

	_, found, err = rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Task status ---

func TestSetGetTaskStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, _, _ := setupRedis(t)
	ctx := context.Background()
	taskID := uuid.New()

	require.NoError(t, rc.SetTaskStatus(ctx, taskID, models.ProcessingRecord(), 0))
	rec, found, err := rc.GetTaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.ProcessingRecord(), rec)

	require.NoError(t, rc.SetTaskStatus(ctx, taskID, models.CompletedRecord("/static/results/x.png"), 0))
	rec, found, err = rc.GetTaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "/static/results/x.png", rec.URL)

	raw, found, err := rc.Get(ctx, cache.TaskStatusKey(taskID))
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"status":"Completed","url":"/static/results/x.png"}`, string(raw))
}

func TestGetTaskStatus_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, _, _ := setupRedis(t)

	rec, found, err := rc.GetTaskStatus(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, models.TaskRecord{}, rec)
}

func TestDeleteTaskStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, _, _ := setupRedis(t)
	ctx := context.Background()
	taskID := uuid.New()

	require.NoError(t, rc.SetTaskStatus(ctx, taskID, models.ProcessingRecord(), 0))
	require.NoError(t, rc.DeleteTaskStatus(ctx, taskID))

	_, found, err := rc.GetTaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetTaskStatus_Corrupt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, _, _ := setupRedis(t)
	ctx := context.Background()
	taskID := uuid.New()

	require.NoError(t, rc.Set(ctx, cache.TaskStatusKey(taskID), []byte("not-json"), 0))
	_, _, err := rc.GetTaskStatus(ctx, taskID)
	assert.ErrorIs(t, err, cache.ErrCorruptRecord)
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, _, _ := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("10.0.0." + uuid.NewString()[:4])

	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)
}

// --- Encoding ---

func TestEncodeRecord_Shapes(t *testing.T) {
	data, err := cache.EncodeRecord(models.ProcessingRecord())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Processing"}`, string(data))

	data, err = cache.EncodeRecord(models.ErrorRecord("InferenceTimeout"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Error","error":"InferenceTimeout"}`, string(data))
}

func TestEncodeRecord_RejectsInvalidShape(t *testing.T) {
	_, err := cache.EncodeRecord(models.TaskRecord{Status: models.TaskStatusCompleted})
	assert.Error(t, err)

	_, err = cache.EncodeRecord(models.TaskRecord{Status: "Pending"})
	assert.Error(t, err)
}

func TestDecodeRecord_MissingStatus(t *testing.T) {
	_, err := cache.DecodeRecord([]byte(`{"url":"/x"}`))
	assert.ErrorIs(t, err, cache.ErrCorruptRecord)
}

// --- Cache Key Builders ---

func TestTaskStatusKey(t *testing.T) {
	taskID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t, "task:22222222-2222-2222-2222-222222222222", cache.TaskStatusKey(taskID))
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:upload:192.0.2.1", cache.RateLimitKey("192.0.2.1"))
}
