package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

var ErrInvalidSettings = errors.New("invalid settings")

type SettingsProvider interface {
	Get(ctx context.Context) (*entity.Settings, error)
}

// SettingsCache holds the last successfully fetched settings. Get never does I/O.
type SettingsCache struct {
	logger   *slog.Logger
	provider SettingsProvider
	clock    clockwork.Clock

	mu        sync.RWMutex
	settings  entity.Settings
	fetchedAt time.Time

	scheduler gocron.Scheduler
	stopOnce  sync.Once
}

// NewSettingsCache starts out with fallback until the first successful Refresh.
func NewSettingsCache(logger *slog.Logger, provider SettingsProvider, fallback entity.Settings, clock clockwork.Clock) *SettingsCache {
	return &SettingsCache{
		logger:   logger.With("component", "settings"),
		provider: provider,
		clock:    clock,
		settings: fallback,
	}
}

func (that *SettingsCache) Get() entity.Settings {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.settings
}

// FetchedAt is zero until a refresh succeeds.
func (that *SettingsCache) FetchedAt() time.Time {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.fetchedAt
}

// Refresh reads the provider once. On failure the previous values stay in place.
func (that *SettingsCache) Refresh(ctx context.Context) error {
	log := that.logger.With("method", "Refresh")

	settings, err := that.provider.Get(ctx)
	if err != nil {
		log.Warn("keeping last known settings", "error", err)
		return apperror.External("failed to fetch settings", err)
	}

	if err = validateSettings(settings); err != nil {
		log.Warn("keeping last known settings", "error", err)
		return err
	}

	that.mu.Lock()
	that.settings = *settings
	that.fetchedAt = that.clock.Now()
	that.mu.Unlock()

	log.Debug("settings refreshed", "maintenance", settings.MaintenanceMode)

	return nil
}

func validateSettings(settings *entity.Settings) error {
	switch {
	case settings.MinBet.IsNegative() || settings.MinBet.GreaterThan(settings.MaxBet):
		return fmt.Errorf("%w: bet range [%s, %s]", ErrInvalidSettings, settings.MinBet, settings.MaxBet)
	case settings.BotWinProbability < 0 || settings.BotWinProbability > 1:
		return fmt.Errorf("%w: bot win probability %v", ErrInvalidSettings, settings.BotWinProbability)
	case settings.PlatformFeePercent.IsNegative() || settings.PlatformFeePercent.GreaterThan(hundred):
		return fmt.Errorf("%w: platform fee %s", ErrInvalidSettings, settings.PlatformFeePercent)
	case settings.BotPlatformFeePercent.IsNegative() || settings.BotPlatformFeePercent.GreaterThan(hundred):
		return fmt.Errorf("%w: bot platform fee %s", ErrInvalidSettings, settings.BotPlatformFeePercent)
	case settings.MaxWinsPerUser < 0:
		return fmt.Errorf("%w: max wins per user %d", ErrInvalidSettings, settings.MaxWinsPerUser)
	default:
		return nil
	}
}

// Start refreshes once, then every interval until Stop or ctx is done.
func (that *SettingsCache) Start(ctx context.Context, interval time.Duration) error {
	log := that.logger.With("method", "Start")

	if err := that.Refresh(ctx); err != nil {
		log.Warn("initial settings refresh failed, using defaults", "error", err)
	}

	sched, err := gocron.NewScheduler(gocron.WithClock(that.clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			_ = that.Refresh(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule settings refresh: %w", err)
	}

	that.scheduler = sched
	sched.Start()

	go func() {
		<-ctx.Done()
		_ = that.Stop()
	}()

	return nil
}

// Stop must not race with Start.
func (that *SettingsCache) Stop() error {
	var err error
	that.stopOnce.Do(func() {
		if that.scheduler == nil {
			return
		}

		if shutdownErr := that.scheduler.Shutdown(); shutdownErr != nil {
			err = fmt.Errorf("failed to stop scheduler: %w", shutdownErr)
		}
	})

	return err
}
