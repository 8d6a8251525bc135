package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
	"github.com/rocketscienceinc/tictactoe-wager/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-wager/internal/repository"
	"github.com/rocketscienceinc/tictactoe-wager/internal/service"
	"github.com/rocketscienceinc/tictactoe-wager/testing/suite"
)

const turnTimeout = 15 * time.Second

var (
	alice = &entity.Player{ID: "alice", Username: "alice"}
	bob   = &entity.Player{ID: "bob", Username: "bob"}
	carol = &entity.Player{ID: "carol", Username: "carol"}
)

// mutableSettings lets a test flip settings between calls.
type mutableSettings struct {
	mu       sync.Mutex
	settings entity.Settings
}

func (that *mutableSettings) Get() entity.Settings {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.settings
}

func (that *mutableSettings) Update(fn func(*entity.Settings)) {
	that.mu.Lock()
	defer that.mu.Unlock()

	fn(&that.settings)
}

// flakyMatchRepo fails the next failures calls to Update with an external error.
type flakyMatchRepo struct {
	repository.MatchRepository

	mu       sync.Mutex
	failures int
}

func (that *flakyMatchRepo) Update(ctx context.Context, id string, fn repository.UpdateFunc) (*entity.Match, error) {
	that.mu.Lock()
	fail := that.failures > 0
	if fail {
		that.failures--
	}
	that.mu.Unlock()

	if fail {
		return nil, apperror.External("failed to update match", errors.New("connection refused"))
	}

	return that.MatchRepository.Update(ctx, id, fn)
}

type fixture struct {
	ctx      context.Context
	clock    *clockwork.FakeClock
	matches  repository.MatchRepository
	ledger   repository.Ledger
	settings *mutableSettings
	broker   *Broker
	engine   *MatchEngine
	lobby    *Lobby
	sync     *Sync
	// restart builds a fresh engine over the same stores, as a new process would.
	restart func(t *testing.T) *MatchEngine
}

type fixtureOption func(*EngineConfig)

func withHumanTimeoutPolicy(policy TimeoutPolicy) fixtureOption {
	return func(config *EngineConfig) {
		config.HumanTimeoutPolicy = policy
	}
}

func newFixture(t *testing.T, options ...fixtureOption) *fixture {
	t.Helper()

	ctx, st := suite.NewSQLite(t)
	logger := suite.NewLogger()

	clock := clockwork.NewFakeClock()
	locks := pkg.NewKeyedMutex()
	matches := repository.NewMemoryMatchRepository()
	ledger := repository.NewLedger(st.Connection, decimal.NewFromInt(100))
	settings := &mutableSettings{settings: entity.Settings{
		MinBet:                decimal.NewFromInt(1),
		MaxBet:                decimal.NewFromInt(100),
		BotWinProbability:     1,
		MaxWinsPerUser:        0,
		PlatformFeePercent:    decimal.NewFromInt(5),
		BotPlatformFeePercent: decimal.NewFromInt(10),
	}}
	broker := NewBroker()
	rng := NewLockedRand(1)

	config := EngineConfig{TurnTimeout: turnTimeout, HumanTimeoutPolicy: TimeoutPolicyWait}
	for _, option := range options {
		option(&config)
	}

	settlement := service.NewSettlementService(logger, locks, matches, ledger, settings, clock)
	restart := func(t *testing.T) *MatchEngine {
		engine := NewMatchEngine(
			logger, config, pkg.NewKeyedMutex(), matches, ledger, settings, service.NewBotService(), settlement, broker, clock, rng,
		)
		t.Cleanup(engine.Shutdown)

		return engine
	}

	engine := NewMatchEngine(
		logger, config, locks, matches, ledger, settings, service.NewBotService(), settlement, broker, clock, rng,
	)
	t.Cleanup(engine.Shutdown)

	lobby := NewLobby(logger, LobbyConfig{
		BotJoinMinDelay: 15 * time.Second,
		BotJoinMaxDelay: 60 * time.Second,
		BotWinWindow:    24 * time.Hour,
		BotNames:        []string{"Sam"},
	}, engine, ledger, settings, ScaledReduction(0.5), clock, rng)
	t.Cleanup(lobby.Shutdown)

	return &fixture{
		ctx:      ctx,
		clock:    clock,
		matches:  matches,
		ledger:   ledger,
		settings: settings,
		broker:   broker,
		engine:   engine,
		lobby:    lobby,
		sync:     NewSync(logger, matches, settlement, broker, turnTimeout),
		restart:  restart,
	}
}

func (that *fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()

	balance, err := that.ledger.Balance(that.ctx, userID)
	require.NoError(t, err)

	return balance
}

func (that *fixture) match(t *testing.T, matchID string) *entity.Match {
	t.Helper()

	match, err := that.matches.GetByID(that.ctx, matchID)
	require.NoError(t, err)

	return match
}

// startHumanMatch creates a 10 bet match for alice and seats bob.
func (that *fixture) startHumanMatch(t *testing.T) *entity.Match {
	t.Helper()

	match, err := that.engine.Create(that.ctx, decimal.NewFromInt(10), alice)
	require.NoError(t, err)

	match, err = that.engine.Join(that.ctx, match.ID, bob)
	require.NoError(t, err)

	return match
}

func (that *fixture) play(t *testing.T, matchID string, moves ...int) *entity.Match {
	t.Helper()

	var (
		match *entity.Match
		err   error
	)
	for i, cell := range moves {
		player := alice.ID
		if i%2 == 1 {
			player = bob.ID
		}

		match, err = that.engine.ApplyMove(that.ctx, matchID, player, cell)
		require.NoError(t, err, "move %d on cell %d", i, cell)
	}

	return match
}

func requireDecimal(t *testing.T, expected int64, actual decimal.Decimal) {
	t.Helper()

	require.True(t, decimal.NewFromInt(expected).Equal(actual), "expected %d, got %s", expected, actual)
}
