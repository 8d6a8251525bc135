package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
	"github.com/rocketscienceinc/tictactoe-wager/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-wager/internal/repository"
	"github.com/rocketscienceinc/tictactoe-wager/internal/service"
	"github.com/rocketscienceinc/tictactoe-wager/internal/tictactoe"
)

// TimeoutPolicy decides what a turn timeout does in a match between two humans.
type TimeoutPolicy string

const (
	TimeoutPolicyWait       TimeoutPolicy = "wait"
	TimeoutPolicyRandomMove TimeoutPolicy = "random-move"
)

const timerOpTimeout = 10 * time.Second

var errNothingToDo = errors.New("nothing to do")

type matchRepo interface {
	Create(ctx context.Context, match *entity.Match) error
	GetByID(ctx context.Context, id string) (*entity.Match, error)
	Update(ctx context.Context, id string, fn repository.UpdateFunc) (*entity.Match, error)
	ListWaiting(ctx context.Context) ([]*entity.Match, error)
	ListPlaying(ctx context.Context) ([]*entity.Match, error)
}

type balanceLedger interface {
	ApplyBalanceDelta(ctx context.Context, entry entity.LedgerEntry) error
}

type settingsReader interface {
	Get() entity.Settings
}

type botPlayer interface {
	ChooseMove(board entity.Board, botMark entity.Mark, winProbability float64, rng service.Rand) (int, error)
	RandomMove(board entity.Board, rng service.Rand) (int, error)
}

type settler interface {
	Settle(ctx context.Context, matchID string) (*entity.SettlementRecord, error)
}

type publisher interface {
	Publish(snapshot *entity.Snapshot)
}

type EngineConfig struct {
	TurnTimeout        time.Duration
	HumanTimeoutPolicy TimeoutPolicy
}

type turnTimer struct {
	timer clockwork.Timer
	moves int
}

// MatchEngine owns the match lifecycle. Every mutation of a match runs under its key in locks.
type MatchEngine struct {
	logger *slog.Logger
	config EngineConfig

	locks      *pkg.KeyedMutex
	matches    matchRepo
	ledger     balanceLedger
	settings   settingsReader
	bot        botPlayer
	settlement settler
	publisher  publisher
	clock      clockwork.Clock
	rng        service.Rand

	timersMu sync.Mutex
	timers   map[string]turnTimer
}

func NewMatchEngine(
	logger *slog.Logger,
	config EngineConfig,
	locks *pkg.KeyedMutex,
	matches matchRepo,
	ledger balanceLedger,
	settings settingsReader,
	bot botPlayer,
	settlement settler,
	publisher publisher,
	clock clockwork.Clock,
	rng service.Rand,
) *MatchEngine {
	return &MatchEngine{
		logger: logger.With("component", "engine"),
		config: config,

		locks:      locks,
		matches:    matches,
		ledger:     ledger,
		settings:   settings,
		bot:        bot,
		settlement: settlement,
		publisher:  publisher,
		clock:      clock,
		rng:        rng,

		timers: make(map[string]turnTimer),
	}
}

// NewLockedRand makes a seeded source safe to share between matches.
func NewLockedRand(seed int64) service.Rand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))} //nolint: gosec // it's ok
}

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (that *lockedRand) Intn(n int) int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.rng.Intn(n)
}

func (that *lockedRand) Float64() float64 {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.rng.Float64()
}

// Create debits the creator's stake and stores a waiting match with the creator as X.
func (that *MatchEngine) Create(ctx context.Context, betAmount decimal.Decimal, creator *entity.Player) (*entity.Match, error) {
	log := that.logger.With("method", "Create")

	if creator == nil || creator.ID == "" || creator.IsBot {
		return nil, apperror.ErrInvalidPlayer
	}

	settings := that.settings.Get()
	if settings.MaintenanceMode {
		return nil, apperror.ErrMaintenance
	}

	if !settings.BetAllowed(betAmount) || !betAmount.Equal(betAmount.Round(2)) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", apperror.ErrBetOutOfRange, betAmount, settings.MinBet, settings.MaxBet)
	}

	match := entity.NewMatch(pkg.NewMatchID(), betAmount, creator, that.clock.Now())

	stake := stakeEntry(match, creator)
	if err := that.ledger.ApplyBalanceDelta(ctx, stake); err != nil {
		return nil, fmt.Errorf("failed to take stake: %w", err)
	}

	if err := that.matches.Create(ctx, match); err != nil {
		that.refund(ctx, stake)
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	log.Info("match created", "matchID", match.ID, "creatorID", creator.ID, "bet", betAmount.String())

	that.publish(match)

	return match, nil
}

type joinOptions struct {
	winProbability float64
}

type JoinOption func(*joinOptions)

// WithWinProbability sets the skill of a joining bot.
func WithWinProbability(p float64) JoinOption {
	return func(opts *joinOptions) {
		opts.winProbability = p
	}
}

// Join seats opponent as O. Only one concurrent join can win a match.
func (that *MatchEngine) Join(ctx context.Context, matchID string, opponent *entity.Player, options ...JoinOption) (*entity.Match, error) {
	log := that.logger.With("method", "Join", "matchID", matchID)

	if opponent == nil || opponent.ID == "" {
		return nil, apperror.ErrInvalidPlayer
	}

	opts := joinOptions{winProbability: that.settings.Get().BotWinProbability}
	for _, option := range options {
		option(&opts)
	}

	unlock := that.locks.Lock(matchID)

	match, joined, err := that.checkJoinable(ctx, matchID, opponent)
	if err != nil || joined {
		unlock()
		return match, err
	}

	var stake *entity.LedgerEntry
	if !opponent.IsBot {
		entry := stakeEntry(match, opponent)
		entry.Ref = pkg.NewAttemptRef()
		if err = that.ledger.ApplyBalanceDelta(ctx, entry); err != nil {
			unlock()
			return nil, fmt.Errorf("failed to take stake: %w", err)
		}
		stake = &entry
	}

	updated, err := that.matches.Update(ctx, matchID, func(match *entity.Match) error {
		if match.IsFull() {
			return apperror.ErrMatchAlreadyFull
		}

		if !match.IsWaiting() {
			return apperror.ErrMatchNotJoinable
		}

		match.Bind(opponent, that.clock.Now())
		if opponent.IsBot {
			match.BotWinProbability = clampProbability(opts.winProbability)
		}

		return nil
	})

	unlock()

	if err != nil {
		if stake != nil {
			that.refund(ctx, *stake)
		}

		return nil, fmt.Errorf("failed to join match: %w", err)
	}

	log.Info("match started", "opponentID", opponent.ID, "bot", opponent.IsBot)

	that.armTurnTimer(updated)
	that.publish(updated)

	return updated, nil
}

// checkJoinable reports joined when opponent already holds O, so a repeated join returns the current state.
func (that *MatchEngine) checkJoinable(ctx context.Context, matchID string, opponent *entity.Player) (*entity.Match, bool, error) {
	match, err := that.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get match by id: %w", err)
	}

	switch {
	case match.Players.O != nil && match.Players.O.ID == opponent.ID:
		return match, true, nil
	case match.Players.X != nil && match.Players.X.ID == opponent.ID:
		return nil, false, fmt.Errorf("%w: creator can't join own match", apperror.ErrMatchNotJoinable)
	case match.IsFull():
		return nil, false, apperror.ErrMatchAlreadyFull
	case !match.IsWaiting():
		return nil, false, fmt.Errorf("%w: status %s", apperror.ErrMatchNotJoinable, match.Status)
	default:
		return match, false, nil
	}
}

// ApplyMove plays cell for playerID. In bot matches the bot answers before the lock is released.
func (that *MatchEngine) ApplyMove(ctx context.Context, matchID, playerID string, cell int) (*entity.Match, error) {
	unlock := that.locks.Lock(matchID)

	updated, err := that.matches.Update(ctx, matchID, func(match *entity.Match) error {
		now := that.clock.Now()

		if _, err := tictactoe.ApplyMove(match, playerID, cell, now); err != nil {
			return err
		}

		return that.botReply(match, now)
	})

	unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to make turn: %w", err)
	}

	that.afterMove(ctx, updated)

	return updated, nil
}

// botReply plays the bot's turn when the bot is on move in a live match.
func (that *MatchEngine) botReply(match *entity.Match, now time.Time) error {
	if !match.IsPlaying() {
		return nil
	}

	player := match.PlayerFor(match.CurrentPlayer)
	if player == nil || !player.IsBot {
		return nil
	}

	cell, err := that.bot.ChooseMove(match.Board, match.CurrentPlayer, match.BotWinProbability, that.rng)
	if err != nil {
		return fmt.Errorf("bot failed to choose move: %w", err)
	}

	if _, err = tictactoe.ApplyMove(match, player.ID, cell, now); err != nil {
		return fmt.Errorf("bot failed to make turn: %w", err)
	}

	return nil
}

// afterMove runs outside the match lock: settlement for finished matches, a new timer otherwise.
func (that *MatchEngine) afterMove(ctx context.Context, match *entity.Match) {
	log := that.logger.With("method", "afterMove", "matchID", match.ID)

	if match.IsTerminal() {
		that.stopTurnTimer(match.ID)

		log.Info("match finished", "status", match.Status, "winner", match.Winner)

		if _, err := that.settlement.Settle(ctx, match.ID); err != nil && !errors.Is(err, apperror.ErrAlreadySettled) {
			// observers retry through the snapshot path
			log.Error("failed to settle match", "error", err)
		}
	} else {
		that.armTurnTimer(match)
	}

	that.publish(match)
}

// Cancel closes a waiting match for its creator and returns the stake. Repeating it is safe.
func (that *MatchEngine) Cancel(ctx context.Context, matchID, requesterID string) (*entity.Match, error) {
	log := that.logger.With("method", "Cancel", "matchID", matchID)

	unlock := that.locks.Lock(matchID)

	updated, err := that.matches.Update(ctx, matchID, func(match *entity.Match) error {
		if match.Players.X == nil || match.Players.X.ID != requesterID {
			return apperror.ErrNotCancellable
		}

		if match.IsCancelled() {
			return nil
		}

		if !match.IsWaiting() {
			return fmt.Errorf("%w: status %s", apperror.ErrNotCancellable, match.Status)
		}

		match.Finish(entity.StatusCancelled, entity.EmptyCell, that.clock.Now())

		return nil
	})

	unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to cancel match: %w", err)
	}

	refund := entity.LedgerEntry{
		UserID:  requesterID,
		MatchID: matchID,
		Kind:    entity.LedgerRefund,
		Amount:  updated.BetAmount,
	}
	if err = that.ledger.ApplyBalanceDelta(ctx, refund); err != nil && !errors.Is(err, apperror.ErrDuplicateEntry) {
		log.Error("failed to refund stake", "error", err)
		return nil, fmt.Errorf("failed to refund stake: %w", err)
	}

	log.Info("match cancelled")

	that.publish(updated)

	return updated, nil
}

func (that *MatchEngine) GetByID(ctx context.Context, matchID string) (*entity.Match, error) {
	match, err := that.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match by id: %w", err)
	}

	return match, nil
}

func (that *MatchEngine) ListWaiting(ctx context.Context) ([]*entity.Match, error) {
	matches, err := that.matches.ListWaiting(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting matches: %w", err)
	}

	return matches, nil
}

// Resume re-arms turn timers for matches left playing by a previous process.
// The part of the turn budget that already elapsed is not given back.
func (that *MatchEngine) Resume(ctx context.Context) error {
	log := that.logger.With("method", "Resume")

	matches, err := that.matches.ListPlaying(ctx)
	if err != nil {
		return fmt.Errorf("failed to list playing matches: %w", err)
	}

	now := that.clock.Now()
	for _, match := range matches {
		remaining := that.config.TurnTimeout - now.Sub(match.TurnStartedAt)
		that.armTurnTimerAfter(match, max(remaining, 0))
	}

	if len(matches) > 0 {
		log.Info("resumed turn timers", "count", len(matches))
	}

	return nil
}

func (that *MatchEngine) armTurnTimer(match *entity.Match) {
	that.armTurnTimerAfter(match, that.config.TurnTimeout)
}

func (that *MatchEngine) armTurnTimerAfter(match *entity.Match, delay time.Duration) {
	if that.config.TurnTimeout <= 0 || !match.IsPlaying() {
		return
	}

	matchID, moves := match.ID, match.Moves

	that.timersMu.Lock()
	defer that.timersMu.Unlock()

	if current, ok := that.timers[matchID]; ok {
		if current.moves >= moves {
			return
		}

		current.timer.Stop()
	}

	that.timers[matchID] = turnTimer{
		timer: that.clock.AfterFunc(delay, func() {
			that.onTurnTimeout(matchID, moves)
		}),
		moves: moves,
	}
}

func (that *MatchEngine) stopTurnTimer(matchID string) {
	that.timersMu.Lock()
	defer that.timersMu.Unlock()

	if current, ok := that.timers[matchID]; ok {
		current.timer.Stop()
		delete(that.timers, matchID)
	}
}

func (that *MatchEngine) dropFiredTimer(matchID string, moves int) {
	that.timersMu.Lock()
	defer that.timersMu.Unlock()

	if current, ok := that.timers[matchID]; ok && current.moves == moves {
		delete(that.timers, matchID)
	}
}

// onTurnTimeout forces a random move for the player on turn when the turn it was armed for is still open.
func (that *MatchEngine) onTurnTimeout(matchID string, moves int) {
	log := that.logger.With("method", "onTurnTimeout", "matchID", matchID)

	that.dropFiredTimer(matchID, moves)

	ctx, cancel := context.WithTimeout(context.Background(), timerOpTimeout)
	defer cancel()

	var updated *entity.Match
	err := that.locks.WithLock(matchID, func() error {
		var err error
		updated, err = that.matches.Update(ctx, matchID, func(match *entity.Match) error {
			return that.forceMove(match, moves)
		})

		return err
	})

	if errors.Is(err, errNothingToDo) {
		return
	}

	if err != nil {
		log.Error("failed to handle turn timeout", "error", err)
		return
	}

	log.Info("turn timed out, forced a move", "moves", updated.Moves)

	that.afterMove(ctx, updated)
}

// forceMove plays a random cell for the player on turn if the turn armed at moves is still open.
func (that *MatchEngine) forceMove(match *entity.Match, moves int) error {
	if !match.IsPlaying() || match.Moves != moves {
		return errNothingToDo
	}

	if !match.IsWithBot() && that.config.HumanTimeoutPolicy != TimeoutPolicyRandomMove {
		return errNothingToDo
	}

	cell, err := that.bot.RandomMove(match.Board, that.rng)
	if err != nil {
		return fmt.Errorf("failed to pick forced move: %w", err)
	}

	now := that.clock.Now()
	player := match.PlayerFor(match.CurrentPlayer)
	if _, err = tictactoe.ApplyMove(match, player.ID, cell, now); err != nil {
		return fmt.Errorf("failed to force move: %w", err)
	}

	return that.botReply(match, now)
}

// Shutdown stops every pending turn timer.
func (that *MatchEngine) Shutdown() {
	that.timersMu.Lock()
	defer that.timersMu.Unlock()

	for matchID, current := range that.timers {
		current.timer.Stop()
		delete(that.timers, matchID)
	}
}

func (that *MatchEngine) publish(match *entity.Match) {
	if that.publisher == nil {
		return
	}

	that.publisher.Publish(entity.NewSnapshot(match, that.config.TurnTimeout))
}

func (that *MatchEngine) refund(ctx context.Context, stake entity.LedgerEntry) {
	refund := stake
	refund.Kind = entity.LedgerRefund

	if err := that.ledger.ApplyBalanceDelta(ctx, refund); err != nil && !errors.Is(err, apperror.ErrDuplicateEntry) {
		that.logger.Error("failed to return stake", "matchID", stake.MatchID, "userID", stake.UserID, "error", err)
	}
}

func stakeEntry(match *entity.Match, player *entity.Player) entity.LedgerEntry {
	return entity.LedgerEntry{
		UserID:   player.ID,
		Username: player.Username,
		MatchID:  match.ID,
		Kind:     entity.LedgerStake,
		Amount:   match.BetAmount,
	}
}

func clampProbability(p float64) float64 {
	return max(0, min(1, p))
}
