package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
	"github.com/rocketscienceinc/tictactoe-wager/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-wager/internal/repository"
)

var hundred = decimal.NewFromInt(100)

type matchStore interface {
	GetByID(ctx context.Context, id string) (*entity.Match, error)
	Update(ctx context.Context, id string, fn repository.UpdateFunc) (*entity.Match, error)
}

type settlementLedger interface {
	CommitSettlement(ctx context.Context, record *entity.SettlementRecord) error
}

type SettingsReader interface {
	Get() entity.Settings
}

type SettlementService interface {
	// Settle pays out a terminal match exactly once. Later calls return apperror.ErrAlreadySettled.
	Settle(ctx context.Context, matchID string) (*entity.SettlementRecord, error)
}

type settlementService struct {
	logger *slog.Logger

	locks    *pkg.KeyedMutex
	matches  matchStore
	ledger   settlementLedger
	settings SettingsReader
	clock    clockwork.Clock
}

func NewSettlementService(
	logger *slog.Logger,
	locks *pkg.KeyedMutex,
	matches matchStore,
	ledger settlementLedger,
	settings SettingsReader,
	clock clockwork.Clock,
) SettlementService {
	return &settlementService{
		logger:   logger.With("component", "settlement"),
		locks:    locks,
		matches:  matches,
		ledger:   ledger,
		settings: settings,
		clock:    clock,
	}
}

func (that *settlementService) Settle(ctx context.Context, matchID string) (*entity.SettlementRecord, error) {
	log := that.logger.With("method", "Settle", "matchID", matchID)

	unlock := that.locks.Lock(matchID)
	defer unlock()

	match, err := that.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match by id: %w", err)
	}

	if !match.IsTerminal() {
		return nil, fmt.Errorf("%w: status %s", apperror.ErrMatchNotTerminal, match.Status)
	}

	if match.SettlementApplied {
		return nil, apperror.ErrAlreadySettled
	}

	record := ComputeSettlement(match, that.settings.Get())
	record.CreatedAt = that.clock.Now()

	err = that.ledger.CommitSettlement(ctx, record)
	committedBefore := errors.Is(err, apperror.ErrAlreadySettled)
	if err != nil && !committedBefore {
		log.Error("failed to commit settlement", "error", err)
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	_, err = that.matches.Update(ctx, matchID, func(match *entity.Match) error {
		if match.SettlementApplied {
			return apperror.ErrAlreadySettled
		}

		match.SettlementApplied = true

		return nil
	})
	if err != nil && !errors.Is(err, apperror.ErrAlreadySettled) {
		// the ledger already holds the record, so the next attempt only repairs the flag
		log.Error("failed to mark match settled", "error", err)
		return nil, fmt.Errorf("failed to mark match settled: %w", err)
	}

	if committedBefore {
		log.Info("settlement flag repaired")
		return nil, apperror.ErrAlreadySettled
	}

	record.Applied = true

	log.Info("match settled",
		"outcome", record.Outcome,
		"winnerID", record.WinnerID,
		"paid", record.TotalPaid().String(),
		"fee", record.PlatformFee.String(),
	)

	return record, nil
}

// PlatformFee is percent of pot, rounded to cents.
func PlatformFee(pot, percent decimal.Decimal) decimal.Decimal {
	return pot.Mul(percent).Div(hundred).Round(2)
}

// ComputeSettlement derives payouts for a terminal match. Bots never receive money.
func ComputeSettlement(match *entity.Match, settings entity.Settings) *entity.SettlementRecord {
	record := &entity.SettlementRecord{
		MatchID:     match.ID,
		Outcome:     match.Status,
		Payouts:     make(map[string]decimal.Decimal),
		PlatformFee: decimal.Zero,
		Pot:         match.Pot,
		VsBot:       match.IsWithBot(),
	}

	for _, player := range []*entity.Player{match.Players.X, match.Players.O} {
		if player != nil && !player.IsBot {
			record.Players = append(record.Players, player.ID)
		}
	}

	switch match.Status {
	case entity.StatusCompleted:
		winner := match.PlayerFor(match.Winner)
		if winner == nil {
			return record
		}

		record.WinnerID = winner.ID
		if winner.IsBot {
			return record
		}

		fee := PlatformFee(match.Pot, settings.FeePercent(record.VsBot))
		if fee.GreaterThan(match.Pot) {
			fee = match.Pot
		}

		record.PlatformFee = fee
		record.Payouts[winner.ID] = match.Pot.Sub(fee)
	case entity.StatusDraw:
		for _, playerID := range record.Players {
			record.Payouts[playerID] = match.BetAmount
		}
	}

	return record
}
