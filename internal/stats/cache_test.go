package stats

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/pkg/logger"
	"github.com/wonny/stratstats/pkg/redis"
)

// setupMonthlyCache starts a throwaway redis container
func setupMonthlyCache(t *testing.T) *MonthlyCache {
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

	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: endpoint}))
	t.Cleanup(func() {
		_ = client.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return NewMonthlyCache(redis.NewCache(client, "stats-test"), time.Minute, logger.Nop())
}

func monthlyPage(months ...contracts.Month) *contracts.MonthlyPage {
	p := &contracts.MonthlyPage{TotalCount: int64(len(months)), Page: 1, PageSize: 12}
	for _, m := range months {
		p.Items = append(p.Items, &contracts.MonthlyAggregate{StrategyID: 1, AnalysisMonth: m, MonthlyProfitLoss: dec("10")})
	}
	return p
}

func TestMonthlyCache_Disabled(t *testing.T) {
	ctx := context.Background()
	for name, cache := range map[string]*MonthlyCache{
		"nil":      nil,
		"disabled": NewMonthlyCache(redis.NewCache(redis.Disabled(), "stats-test"), 0, logger.Nop()),
	} {
		t.Run(name, func(t *testing.T) {
			_, gen, ok := cache.GetPage(ctx, 1, 1, 12)
			assert.False(t, ok)
			cache.PutPage(ctx, gen, monthlyPage(jan2024))
			cache.Invalidate(ctx, 1)

			_, _, ok = cache.GetPage(ctx, 1, 1, 12)
			assert.False(t, ok)
		})
	}
}

func TestMonthlyCache_PageRoundTrip(t *testing.T) {
	cache := setupMonthlyCache(t)
	ctx := context.Background()

	_, gen, ok := cache.GetPage(ctx, 1, 1, 12)
	require.False(t, ok)
	cache.PutPage(ctx, gen, monthlyPage(feb2024, jan2024))

	got, _, ok := cache.GetPage(ctx, 1, 1, 12)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.TotalCount)
	require.Len(t, got.Items, 2)
	assert.Equal(t, feb2024, got.Items[0].AnalysisMonth)
	assertDec(t, "10", got.Items[0].MonthlyProfitLoss, "monthlyPL")

	// other strategies and page sizes are separate entries
	_, _, ok = cache.GetPage(ctx, 2, 1, 12)
	assert.False(t, ok)
	_, _, ok = cache.GetPage(ctx, 1, 1, 6)
	assert.False(t, ok)

	cache.Invalidate(ctx, 1)
	_, _, ok = cache.GetPage(ctx, 1, 1, 12)
	assert.False(t, ok, "invalidated page must not be served")
}

func TestMonthlyCache_WriteBetweenMissAndFillIsNotCached(t *testing.T) {
	cache := setupMonthlyCache(t)
	ctx := context.Background()

	// reader misses and loads the old page from the store
	_, pageGen, ok := cache.GetPage(ctx, 1, 1, 12)
	require.False(t, ok)
	_, monthGen, ok := cache.GetMonth(ctx, 1, jan2024)
	require.False(t, ok)

	// a write commits before the reader fills the cache
	cache.Invalidate(ctx, 1)

	cache.PutPage(ctx, pageGen, monthlyPage(jan2024))
	cache.PutMonth(ctx, monthGen, &contracts.MonthlyAggregate{StrategyID: 1, AnalysisMonth: jan2024})

	_, _, ok = cache.GetPage(ctx, 1, 1, 12)
	assert.False(t, ok, "page read before the write must not be served after it")
	_, _, ok = cache.GetMonth(ctx, 1, jan2024)
	assert.False(t, ok, "month read before the write must not be served after it")
}

func TestMonthlyCache_ServiceReadsAfterWrite(t *testing.T) {
	cache := setupMonthlyCache(t)
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()

	f.upsert(t, day(2024, 1, 5), "1000", "50")

	page, err := f.svc.GetMonthlyPage(ctx, 1, 1, 12)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assertDec(t, "50", f.month(t, jan2024).CumulativeProfitLoss, "cumPL")

	// served from cache until the next write
	_, _, ok := cache.GetPage(ctx, 1, 1, 12)
	require.True(t, ok)

	f.upsert(t, day(2024, 1, 6), "0", "30")
	f.upsert(t, day(2024, 2, 10), "0", "-20")

	page, err = f.svc.GetMonthlyPage(ctx, 1, 1, 12)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, feb2024, page.Items[0].AnalysisMonth)
	assertDec(t, "80", f.month(t, jan2024).CumulativeProfitLoss, "cumPL")
	assertDec(t, "60", f.month(t, feb2024).CumulativeProfitLoss, "cumPL")
}
