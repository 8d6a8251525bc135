package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

type matchReader interface {
	GetByID(ctx context.Context, id string) (*entity.Match, error)
}

// Sync serves full match snapshots to polling clients and push subscribers.
type Sync struct {
	logger *slog.Logger

	matches     matchReader
	settlement  settler
	broker      *Broker
	turnTimeout time.Duration
}

func NewSync(logger *slog.Logger, matches matchReader, settlement settler, broker *Broker, turnTimeout time.Duration) *Sync {
	return &Sync{
		logger: logger.With("component", "sync"),

		matches:     matches,
		settlement:  settlement,
		broker:      broker,
		turnTimeout: turnTimeout,
	}
}

// GetSnapshot returns the whole current record. A finished match that was never settled gets settled here.
func (that *Sync) GetSnapshot(ctx context.Context, matchID string) (*entity.Snapshot, error) {
	log := that.logger.With("method", "GetSnapshot", "matchID", matchID)

	match, err := that.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match by id: %w", err)
	}

	if match.IsTerminal() && !match.SettlementApplied {
		_, err = that.settlement.Settle(ctx, matchID)
		if err != nil && !errors.Is(err, apperror.ErrAlreadySettled) {
			log.Warn("settlement retry failed", "error", err)
		}
	}

	return entity.NewSnapshot(match, that.turnTimeout), nil
}

// Subscribe returns the current snapshot and a subscription for the ones that follow.
func (that *Sync) Subscribe(ctx context.Context, matchID string) (*entity.Snapshot, *Subscription, error) {
	subscription := that.broker.Subscribe(matchID)

	snapshot, err := that.GetSnapshot(ctx, matchID)
	if err != nil {
		subscription.Close()
		return nil, nil, err
	}

	return snapshot, subscription, nil
}
