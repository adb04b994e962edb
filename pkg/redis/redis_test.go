package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wonny/stratstats/pkg/config"
)

// setupRedis starts a throwaway redis container
func setupRedis(t *testing.T) *Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := Wrap(goredis.NewClient(&goredis.Options{Addr: endpoint}))
	t.Cleanup(func() {
		_ = client.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client, err := New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(Disabled(), "test")
	cfg := UploadRateLimit("member-1", 3)

	// When Redis is disabled, all requests should be allowed
	allowed, remaining, err := limiter.Allow(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 3, remaining)
	assert.False(t, limiter.Enabled())
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(Disabled(), "test")
	ctx := context.Background()

	var result string
	found, err := cache.Get(ctx, "key", &result)
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, cache.Set(ctx, "key", "v", TTLShort))
	gen, err := cache.Bump(ctx, StrategyGenerationKey(1))
	require.NoError(t, err)
	assert.Zero(t, gen)
}

func TestCacheKeys(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{name: "StrategyGenerationKey", got: StrategyGenerationKey(42), expected: "strategy:42:gen"},
		{name: "MonthlyPageKey", got: MonthlyPageKey(42, 3, 1, 20), expected: "strategy:42:g3:monthly:1:20"},
		{name: "MonthlyKey", got: MonthlyKey(42, 3, "2024-01"), expected: "strategy:42:g3:month:2024-01"},
		{name: "UploadRateLimit", got: UploadRateLimit("m-1", 5).Key, expected: "upload:m-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}

func TestCache_Redis(t *testing.T) {
	client := setupRedis(t)
	cache := NewCache(client, "stats")
	ctx := context.Background()

	type page struct {
		Total int `json:"total"`
	}

	require.NoError(t, cache.Set(ctx, "p1", page{Total: 7}, TTLShort))

	var got page
	found, err := cache.Get(ctx, "p1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, got.Total)

	require.NoError(t, cache.Delete(ctx, "p1"))
	found, err = cache.Get(ctx, "p1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	gen, err := cache.Generation(ctx, StrategyGenerationKey(1))
	require.NoError(t, err)
	assert.Zero(t, gen)

	gen, err = cache.Bump(ctx, StrategyGenerationKey(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestRateLimiter_Redis(t *testing.T) {
	client := setupRedis(t)
	limiter := NewRateLimiter(client, "stats")
	cfg := RateLimitConfig{Key: "upload:test", Limit: 2, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, cfg)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, remaining, err := limiter.Allow(ctx, cfg)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
}
