package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crimson-pen/clock"
	"crimson-pen/config"
	"crimson-pen/quota"
)

func TestWaitAndReservePacesCalls(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l := quota.NewGenerationQuotaLimiter(config.QuotaConfig{RequestsPerMinute: 4}, clk)

	for i := 0; i < 3; i++ {
		ok, err := l.WaitAndReserve(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
	}

	assert.Equal(t, []time.Duration{15 * time.Second, 15 * time.Second}, clk.Sleeps())
}

func TestWaitAndReserveDailyLimit(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC))
	l := quota.NewGenerationQuotaLimiter(config.QuotaConfig{RequestsPerDay: 1}, clk)

	ok, err := l.WaitAndReserve(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.WaitAndReserve(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "daily limit reached")

	clk.Set(time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC))
	ok, err = l.WaitAndReserve(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "counter resets on a new day")
}

func TestWaitAndReserveUnlimited(t *testing.T) {
	clk := clock.NewFake(time.Now())
	l := quota.NewGenerationQuotaLimiter(config.QuotaConfig{}, clk)

	for i := 0; i < 10; i++ {
		ok, err := l.WaitAndReserve(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Empty(t, clk.Sleeps())
}

func TestWaitAndReserveCanceled(t *testing.T) {
	clk := clock.NewFake(time.Now())
	l := quota.NewGenerationQuotaLimiter(config.QuotaConfig{RequestsPerMinute: 1}, clk)
	_, err := l.WaitAndReserve(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := l.WaitAndReserve(ctx)

	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDailyLimitResetsAtZoneMidnight(t *testing.T) {
	// 07:30 UTC on Jan 2 is still Jan 1 in Los Angeles
	clk := clock.NewFake(time.Date(2024, 1, 2, 7, 30, 0, 0, time.UTC))
	l := quota.NewGenerationQuotaLimiter(config.QuotaConfig{RequestsPerDay: 1, ResetZone: "America/Los_Angeles"}, clk)

	ok, err := l.WaitAndReserve(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, l.Used())

	clk.Set(time.Date(2024, 1, 2, 7, 59, 0, 0, time.UTC))
	ok, err = l.WaitAndReserve(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "same quota day in the reset zone")

	clk.Set(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	ok, err = l.WaitAndReserve(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "midnight in Los Angeles starts a new quota day")
	assert.Equal(t, 1, l.Used())
}
