package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
	"github.com/rocketscienceinc/tictactoe-wager/testing/suite"
)

var errProviderDown = errors.New("provider down")

func testSettings() entity.Settings {
	return entity.Settings{
		MinBet:                decimal.NewFromInt(1),
		MaxBet:                decimal.NewFromInt(100),
		BotWinProbability:     0.5,
		MaxWinsPerUser:        3,
		PlatformFeePercent:    decimal.NewFromInt(5),
		BotPlatformFeePercent: decimal.NewFromInt(10),
	}
}

func TestSettingsCache_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("Successful refresh replaces values", func(t *testing.T) {
		// Given: a provider with a raised max bet
		clock := clockwork.NewFakeClock()
		provider := &mockSettingsProvider{}
		fresh := testSettings()
		fresh.MaxBet = decimal.NewFromInt(500)
		provider.On("Get", mock.Anything).Return(&fresh, nil).Once()

		cache := NewSettingsCache(suite.NewLogger(), provider, testSettings(), clock)
		require.True(t, cache.FetchedAt().IsZero())

		// When: the cache refreshes
		err := cache.Refresh(ctx)

		// Then: readers see the new values and the fetch time
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(500).Equal(cache.Get().MaxBet))
		assert.Equal(t, clock.Now(), cache.FetchedAt())
		provider.AssertExpectations(t)
	})

	t.Run("Failed refresh keeps last known good", func(t *testing.T) {
		provider := &mockSettingsProvider{}
		provider.On("Get", mock.Anything).Return(nil, errProviderDown).Once()

		cache := NewSettingsCache(suite.NewLogger(), provider, testSettings(), clockwork.NewFakeClock())

		err := cache.Refresh(ctx)

		require.ErrorIs(t, err, errProviderDown)
		assert.Equal(t, apperror.KindExternal, apperror.KindOf(err))
		assert.True(t, decimal.NewFromInt(100).Equal(cache.Get().MaxBet))
	})

	t.Run("Invalid values are rejected", func(t *testing.T) {
		provider := &mockSettingsProvider{}
		broken := testSettings()
		broken.BotWinProbability = 1.5
		provider.On("Get", mock.Anything).Return(&broken, nil).Once()

		cache := NewSettingsCache(suite.NewLogger(), provider, testSettings(), clockwork.NewFakeClock())

		err := cache.Refresh(ctx)

		require.ErrorIs(t, err, ErrInvalidSettings)
		assert.InDelta(t, 0.5, cache.Get().BotWinProbability, 1e-9)
	})
}

func TestSettingsCache_Start(t *testing.T) {
	// Given: a provider that turns maintenance on after the first read
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	provider := &mockSettingsProvider{}
	first := testSettings()
	second := testSettings()
	second.MaintenanceMode = true
	provider.On("Get", mock.Anything).Return(&first, nil).Once()
	provider.On("Get", mock.Anything).Return(&second, nil)

	cache := NewSettingsCache(suite.NewLogger(), provider, testSettings(), clock)

	// When: the refresh job runs on the next tick
	require.NoError(t, cache.Start(ctx, time.Minute))
	defer func() { _ = cache.Stop() }()

	assert.False(t, cache.Get().MaintenanceMode)

	require.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		return cache.Get().MaintenanceMode
	}, 5*time.Second, 10*time.Millisecond)
}
