package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
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

	return rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

// --- Set / Get roundtrip ---

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
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
	rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestSet_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "expiry:key", []byte("temp"), 1*time.Second)
	require.NoError(t, err)

	// Immediately should exist
	_, found, err := rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.True(t, found)

	// Wait for TTL to expire
	time.Sleep(1500 * time.Millisecond)

	_, found, err = rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Job Status ---

func TestSetGetJobStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	err := rc.SetJobStatus(ctx, jobID, "RUNNING", 10*time.Second)
	require.NoError(t, err)

	status, found, err := rc.GetJobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "RUNNING", status)
}

func TestGetJobStatus_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	status, found, err := rc.GetJobStatus(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "", status)
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:test:" + uuid.NewString()[:8]

	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)
}

func TestIncrWithExpiry_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:expiry:" + uuid.NewString()[:8]

	_, err := rc.IncrWithExpiry(ctx, key, 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	// After expiry, should start from 1 again
	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

// --- Analysis Status ---

func TestSetGetAnalysisStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, rc.SetAnalysisStatus(ctx, id, "SUBMITTED", 10*time.Second))

	status, found, err := rc.GetAnalysisStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "SUBMITTED", status)

	// Job and analysis ids live in separate key spaces.
	_, found, err = rc.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Locks ---

func TestAcquireLock_Exclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "lock:" + uuid.NewString()[:8]

	token, ok, err := rc.AcquireLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = rc.AcquireLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while the lease is held")

	require.NoError(t, rc.ReleaseLock(ctx, key, token))

	_, ok, err = rc.AcquireLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseLock_WrongToken(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "lock:" + uuid.NewString()[:8]

	_, ok, err := rc.AcquireLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	err = rc.ReleaseLock(ctx, key, "not-the-token")
	assert.ErrorIs(t, err, cache.ErrLockNotHeld)

	_, ok, err = rc.AcquireLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lease must survive a release with the wrong token")
}

func TestRenewLock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "lock:" + uuid.NewString()[:8]

	token, ok, err := rc.AcquireLock(ctx, key, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, rc.RenewLock(ctx, key, token, 10*time.Second))
	assert.ErrorIs(t, rc.RenewLock(ctx, key, "not-the-token", 10*time.Second), cache.ErrLockNotHeld)

	time.Sleep(1500 * time.Millisecond)

	_, ok, err = rc.AcquireLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "renewed lease must outlive its original ttl")

	require.NoError(t, rc.ReleaseLock(ctx, key, token))
	assert.ErrorIs(t, rc.RenewLock(ctx, key, token, 10*time.Second), cache.ErrLockNotHeld)
}

func TestAcquireLock_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "lock:" + uuid.NewString()[:8]

	token, ok, err := rc.AcquireLock(ctx, key, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(1500 * time.Millisecond)

	_, ok, err = rc.AcquireLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, rc.ReleaseLock(ctx, key, token), cache.ErrLockNotHeld)
}

// --- Cache Key Builders ---

func TestJobStatusKey(t *testing.T) {
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	key := cache.JobStatusKey(jobID)
	assert.Equal(t, "job:22222222-2222-2222-2222-222222222222", key)
}

func TestAnalysisStatusKey(t *testing.T) {
	jobID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	key := cache.AnalysisStatusKey(jobID)
	assert.Equal(t, "analysis:33333333-3333-3333-3333-333333333333", key)
}

func TestRateLimitKey(t *testing.T) {
	key := cache.RateLimitKey("ena_abcd1234")
	assert.Equal(t, "ratelimit:ena_abcd1234", key)
}

func TestTemplateKey(t *testing.T) {
	assert.Equal(t, "template:default", cache.TemplateKey("default"))
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	id := uuid.New()

	keys := map[string]bool{
		cache.JobStatusKey(id):        true,
		cache.AnalysisStatusKey(id):   true,
		cache.RateLimitKey("ena_pre"): true,
		cache.TemplateKey("default"):  true,
		cache.UploaderLockKey:         true,
	}
	assert.Len(t, keys, 5, "all keys should be unique")
}
