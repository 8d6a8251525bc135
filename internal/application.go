package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/rocketscienceinc/tictactoe-wager/internal/config"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
	"github.com/rocketscienceinc/tictactoe-wager/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-wager/internal/repository"
	"github.com/rocketscienceinc/tictactoe-wager/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-wager/internal/service"
	redisfanout "github.com/rocketscienceinc/tictactoe-wager/internal/transport/redis"
	"github.com/rocketscienceinc/tictactoe-wager/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-wager/transport/rest"
	"github.com/rocketscienceinc/tictactoe-wager/transport/websocket"
)

var (
	ErrAddrNotFound   = errors.New("redis address string is empty")
	ErrUnknownStorage = errors.New("unknown match storage")
)

type publisher interface {
	Publish(snapshot *entity.Snapshot)
}

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	sqliteStorage, err := storage.NewSQLiteStorage(conf.SQLiteStoragePath)
	if err != nil {
		return fmt.Errorf("could not open sqlite storage: %w", err)
	}

	defer func() {
		if err = sqliteStorage.Close(); err != nil {
			log.Error("could not close sqlite storage", "error", err)
		}
	}()

	if err = sqliteStorage.Init(ctx); err != nil {
		return fmt.Errorf("could not migrate sqlite storage: %w", err)
	}

	clock := clockwork.NewRealClock()
	defaults := defaultSettings(conf.Game, clock.Now())

	settingsRepo := repository.NewSettingsRepository(sqliteStorage.Connection)
	if err = settingsRepo.Seed(ctx, &defaults); err != nil {
		return fmt.Errorf("could not seed settings: %w", err)
	}

	settingsCache := service.NewSettingsCache(logger, settingsRepo, defaults, clock)
	if err = settingsCache.Start(ctx, conf.Game.SettingsRefreshInterval); err != nil {
		return fmt.Errorf("could not start settings refresh: %w", err)
	}

	defer func() {
		if err = settingsCache.Stop(); err != nil {
			log.Error("could not stop settings refresh", "error", err)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)

	broker := usecase.NewBroker()

	var (
		matchRepo repository.MatchRepository
		snapshots publisher = broker
	)

	switch conf.Storage {
	case config.StorageMemory:
		matchRepo = repository.NewMemoryMatchRepository()
	case config.StorageRedis:
		redisAddrString := conf.Redis.GetRedisAddr()
		if redisAddrString == "" {
			return ErrAddrNotFound
		}

		redisStorage, redisErr := storage.NewRedisStorage(ctx, storage.RedisOptions{
			Addr:        redisAddrString,
			Password:    conf.Redis.Password,
			DB:          conf.Redis.DB,
			DialTimeout: conf.Redis.DialTimeout,
		})
		if redisErr != nil {
			return fmt.Errorf("could not connect to redis storage: %w", redisErr)
		}

		defer func() {
			if err = redisStorage.Close(); err != nil {
				log.Error("could not close redis storage", "error", err)
			}
		}()

		matchRepo = repository.NewMatchRepository(redisStorage.Connection)

		fanout := redisfanout.NewFanout(logger, redisStorage.Connection, broker)
		snapshots = fanout
		group.Go(func() error {
			return fanout.Run(groupCtx)
		})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorage, conf.Storage)
	}

	locks := pkg.NewKeyedMutex()
	ledger := repository.NewLedger(sqliteStorage.Connection, config.Amount(conf.Game.StartingBalance))
	accounts := service.NewAccountService(ledger)
	settlement := service.NewSettlementService(logger, locks, matchRepo, ledger, settingsCache, clock)
	rng := usecase.NewLockedRand(time.Now().UnixNano())

	engine := usecase.NewMatchEngine(
		logger,
		usecase.EngineConfig{
			TurnTimeout:        conf.Game.TurnTimeout,
			HumanTimeoutPolicy: usecase.TimeoutPolicy(conf.Game.HumanTimeoutPolicy),
		},
		locks,
		matchRepo,
		ledger,
		settingsCache,
		service.NewBotService(),
		settlement,
		snapshots,
		clock,
		rng,
	)
	defer engine.Shutdown()

	lobby := usecase.NewLobby(
		logger,
		usecase.LobbyConfig{
			BotJoinMinDelay: conf.Game.BotJoinMinDelay,
			BotJoinMaxDelay: conf.Game.BotJoinMaxDelay,
			BotWinWindow:    conf.Game.BotWinWindow,
			BotNames:        conf.Game.BotNames,
		},
		engine,
		ledger,
		settingsCache,
		usecase.ScaledReduction(conf.Game.CappedWinProbabilityScale),
		clock,
		rng,
	)
	defer lobby.Shutdown()

	if err = lobby.Resume(ctx); err != nil {
		return fmt.Errorf("could not resume lobby: %w", err)
	}

	if err = engine.Resume(ctx); err != nil {
		return fmt.Errorf("could not resume turn timers: %w", err)
	}

	matchSync := usecase.NewSync(logger, matchRepo, settlement, broker, conf.Game.TurnTimeout)

	// run HTTP server
	group.Go(func() error {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		restServer := rest.New(logger, lobby, engine, matchSync, accounts, conf.Game.TurnTimeout)
		if httpErr := restServer.Start(groupCtx, conf.HTTPPort); httpErr != nil {
			return fmt.Errorf("HTTP server error: %w", httpErr)
		}
		return nil
	})

	// run Websocket server
	group.Go(func() error {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, matchSync, engine, conf.Game.TurnTimeout)
		if wsErr := wsServer.Start(groupCtx, conf.SocketPort); wsErr != nil {
			return fmt.Errorf("WebSocket server error: %w", wsErr)
		}
		return nil
	})

	if err = group.Wait(); err != nil {
		return err
	}

	log.Info("Application context canceled, shutting down")

	return nil
}

func defaultSettings(game config.Game, now time.Time) entity.Settings {
	return entity.Settings{
		MinBet:                config.Amount(game.MinBet),
		MaxBet:                config.Amount(game.MaxBet),
		BotWinProbability:     game.BotWinProbability,
		MaxWinsPerUser:        game.MaxWinsPerUser,
		PlatformFeePercent:    config.Amount(game.PlatformFeePercent),
		BotPlatformFeePercent: config.Amount(game.BotPlatformFeePercent),
		UpdatedAt:             now,
	}
}
