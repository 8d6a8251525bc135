package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
	"github.com/rocketscienceinc/tictactoe-wager/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-wager/internal/service"
)

type matchEngine interface {
	Create(ctx context.Context, betAmount decimal.Decimal, creator *entity.Player) (*entity.Match, error)
	Join(ctx context.Context, matchID string, opponent *entity.Player, options ...JoinOption) (*entity.Match, error)
	Cancel(ctx context.Context, matchID, requesterID string) (*entity.Match, error)
	ListWaiting(ctx context.Context) ([]*entity.Match, error)
}

type botWinCounter interface {
	CountWinsAgainstBots(ctx context.Context, userID string, since time.Time) (int, error)
}

// WinProbabilityAdjuster lowers the bot's skill for a creator who reached the win cap.
type WinProbabilityAdjuster func(base float64, wins, maxWins int) float64

// ScaledReduction multiplies the base probability by scale.
func ScaledReduction(scale float64) WinProbabilityAdjuster {
	return func(base float64, _, _ int) float64 {
		return clampProbability(base * scale)
	}
}

type LobbyConfig struct {
	BotJoinMinDelay time.Duration
	BotJoinMaxDelay time.Duration
	BotWinWindow    time.Duration
	BotNames        []string
}

// Lobby resolves a waiting match to the first human who joins or, after a random delay, a bot.
type Lobby struct {
	logger *slog.Logger
	config LobbyConfig

	engine   matchEngine
	wins     botWinCounter
	settings settingsReader
	adjuster WinProbabilityAdjuster
	clock    clockwork.Clock
	rng      service.Rand

	timersMu sync.Mutex
	timers   map[string]clockwork.Timer
}

func NewLobby(
	logger *slog.Logger,
	config LobbyConfig,
	engine matchEngine,
	wins botWinCounter,
	settings settingsReader,
	adjuster WinProbabilityAdjuster,
	clock clockwork.Clock,
	rng service.Rand,
) *Lobby {
	if len(config.BotNames) == 0 {
		config.BotNames = []string{"Player O"}
	}

	return &Lobby{
		logger: logger.With("component", "lobby"),
		config: config,

		engine:   engine,
		wins:     wins,
		settings: settings,
		adjuster: adjuster,
		clock:    clock,
		rng:      rng,

		timers: make(map[string]clockwork.Timer),
	}
}

// CreateWaiting creates the match and schedules the bot to join it.
func (that *Lobby) CreateWaiting(ctx context.Context, betAmount decimal.Decimal, creator *entity.Player) (*entity.Match, error) {
	match, err := that.engine.Create(ctx, betAmount, creator)
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	that.scheduleBotJoin(match)

	return match, nil
}

// Join races the scheduled bot. The loser gets apperror.ErrMatchAlreadyFull.
func (that *Lobby) Join(ctx context.Context, matchID string, human *entity.Player) (*entity.Match, error) {
	if human == nil || human.IsBot {
		return nil, apperror.ErrInvalidPlayer
	}

	match, err := that.engine.Join(ctx, matchID, human)
	if err != nil {
		return nil, fmt.Errorf("failed to join match: %w", err)
	}

	that.stopBotJoin(matchID)

	return match, nil
}

func (that *Lobby) Cancel(ctx context.Context, matchID, requesterID string) (*entity.Match, error) {
	match, err := that.engine.Cancel(ctx, matchID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel match: %w", err)
	}

	that.stopBotJoin(matchID)

	return match, nil
}

func (that *Lobby) ListOpen(ctx context.Context) ([]*entity.Match, error) {
	return that.engine.ListWaiting(ctx)
}

// Resume schedules bot joins for matches that were waiting before a restart.
func (that *Lobby) Resume(ctx context.Context) error {
	matches, err := that.engine.ListWaiting(ctx)
	if err != nil {
		return fmt.Errorf("failed to list waiting matches: %w", err)
	}

	for _, match := range matches {
		that.scheduleBotJoin(match)
	}

	that.logger.Info("lobby resumed", "waiting", len(matches))

	return nil
}

// Shutdown stops every pending bot join.
func (that *Lobby) Shutdown() {
	that.timersMu.Lock()
	defer that.timersMu.Unlock()

	for matchID, timer := range that.timers {
		timer.Stop()
		delete(that.timers, matchID)
	}
}

// BotJoinDelay is uniform in [BotJoinMinDelay, BotJoinMaxDelay).
func (that *Lobby) BotJoinDelay() time.Duration {
	spread := that.config.BotJoinMaxDelay - that.config.BotJoinMinDelay
	if spread <= 0 {
		return that.config.BotJoinMinDelay
	}

	return that.config.BotJoinMinDelay + time.Duration(that.rng.Float64()*float64(spread))
}

func (that *Lobby) scheduleBotJoin(match *entity.Match) {
	matchID, creatorID := match.ID, match.Players.X.ID
	delay := that.BotJoinDelay()

	that.timersMu.Lock()
	defer that.timersMu.Unlock()

	if timer, ok := that.timers[matchID]; ok {
		timer.Stop()
	}

	that.timers[matchID] = that.clock.AfterFunc(delay, func() {
		that.joinBot(matchID, creatorID)
	})

	that.logger.Debug("bot join scheduled", "matchID", matchID, "delay", delay.String())
}

func (that *Lobby) stopBotJoin(matchID string) {
	that.timersMu.Lock()
	defer that.timersMu.Unlock()

	if timer, ok := that.timers[matchID]; ok {
		timer.Stop()
		delete(that.timers, matchID)
	}
}

func (that *Lobby) joinBot(matchID, creatorID string) {
	log := that.logger.With("method", "joinBot", "matchID", matchID)

	that.timersMu.Lock()
	delete(that.timers, matchID)
	that.timersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timerOpTimeout)
	defer cancel()

	winProbability := that.BotWinProbability(ctx, creatorID)
	bot := entity.NewBotPlayer(pkg.NewBotID(), that.config.BotNames[that.rng.Intn(len(that.config.BotNames))])

	_, err := that.engine.Join(ctx, matchID, bot, WithWinProbability(winProbability))
	switch {
	case err == nil:
		log.Info("bot joined", "winProbability", winProbability)
	case errors.Is(err, apperror.ErrMatchAlreadyFull), errors.Is(err, apperror.ErrMatchNotJoinable):
		log.Debug("bot lost the join race", "error", err)
	default:
		log.Error("bot failed to join", "error", err)
	}
}

// BotWinProbability is the configured skill, adjusted once the creator's wins against bots reach the cap.
func (that *Lobby) BotWinProbability(ctx context.Context, creatorID string) float64 {
	settings := that.settings.Get()
	base := clampProbability(settings.BotWinProbability)

	if settings.MaxWinsPerUser <= 0 || that.adjuster == nil {
		return base
	}

	since := that.clock.Now().Add(-that.config.BotWinWindow)
	wins, err := that.wins.CountWinsAgainstBots(ctx, creatorID, since)
	if err != nil {
		that.logger.Warn("failed to count wins, using base probability", "userID", creatorID, "error", err)
		return base
	}

	if wins < settings.MaxWinsPerUser {
		return base
	}

	return clampProbability(that.adjuster(base, wins, settings.MaxWinsPerUser))
}
