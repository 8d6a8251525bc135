package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

const (
	matchKeyPrefix   = "match:"
	waitingSetKey    = "matches:waiting"
	playingSetKey    = "matches:playing"
	maxUpdateRetries = 10
)

// UpdateFunc mutates the freshly read match. Returning an error aborts the write.
type UpdateFunc func(match *entity.Match) error

type MatchRepository interface {
	Create(ctx context.Context, match *entity.Match) error
	GetByID(ctx context.Context, id string) (*entity.Match, error)
	// Update is a compare-and-set: fn sees the latest stored record and the write fails if it changed meanwhile.
	Update(ctx context.Context, id string, fn UpdateFunc) (*entity.Match, error)
	ListWaiting(ctx context.Context) ([]*entity.Match, error)
	// ListPlaying returns matches with a live turn, oldest first.
	ListPlaying(ctx context.Context) ([]*entity.Match, error)
}

type dbMatch struct {
	client *redis.Client
}

func NewMatchRepository(client *redis.Client) MatchRepository {
	return &dbMatch{
		client: client,
	}
}

func matchKey(id string) string {
	return matchKeyPrefix + id
}

func (that *dbMatch) Create(ctx context.Context, match *entity.Match) error {
	matchJSON, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("could not marshal match: %w", err)
	}

	created, err := that.client.SetNX(ctx, matchKey(match.ID), matchJSON, 0).Result()
	if err != nil {
		return apperror.External("failed to set match", err)
	}

	if !created {
		return apperror.ErrMatchAlreadyExists
	}

	if match.IsWaiting() {
		if err = that.client.SAdd(ctx, waitingSetKey, match.ID).Err(); err != nil {
			return apperror.External("failed to index waiting match", err)
		}
	}

	return nil
}

func (that *dbMatch) GetByID(ctx context.Context, id string) (*entity.Match, error) {
	response, err := that.client.Get(ctx, matchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrMatchNotFound
	}

	if err != nil {
		return nil, apperror.External("failed to get match by id", err)
	}

	var existingMatch entity.Match
	if err = json.Unmarshal(response, &existingMatch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}

	return &existingMatch, nil
}

func (that *dbMatch) Update(ctx context.Context, id string, fn UpdateFunc) (*entity.Match, error) {
	key := matchKey(id)

	var updated *entity.Match
	txf := func(tx *redis.Tx) error {
		response, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperror.ErrMatchNotFound
		}

		if err != nil {
			return apperror.External("failed to get match by id", err)
		}

		var match entity.Match
		if err = json.Unmarshal(response, &match); err != nil {
			return fmt.Errorf("failed to unmarshal match: %w", err)
		}

		if err = fn(&match); err != nil {
			return err
		}

		matchJSON, err := json.Marshal(&match)
		if err != nil {
			return fmt.Errorf("could not marshal match: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, matchJSON, 0)
			if !match.IsWaiting() {
				pipe.SRem(ctx, waitingSetKey, id)
			}

			if match.IsPlaying() {
				pipe.SAdd(ctx, playingSetKey, id)
			} else {
				pipe.SRem(ctx, playingSetKey, id)
			}

			return nil
		})
		if err != nil {
			return err
		}

		updated = &match

		return nil
	}

	for range maxUpdateRetries {
		err := that.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if err != nil {
			var appErr *apperror.Error
			if errors.As(err, &appErr) {
				return nil, err
			}

			return nil, apperror.External("failed to update match", err)
		}

		return updated, nil
	}

	return nil, apperror.ErrConcurrentUpdate
}

func (that *dbMatch) ListWaiting(ctx context.Context) ([]*entity.Match, error) {
	matches, err := that.listIndexed(ctx, waitingSetKey, (*entity.Match).IsWaiting)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting matches: %w", err)
	}

	return matches, nil
}

func (that *dbMatch) ListPlaying(ctx context.Context) ([]*entity.Match, error) {
	matches, err := that.listIndexed(ctx, playingSetKey, (*entity.Match).IsPlaying)
	if err != nil {
		return nil, fmt.Errorf("failed to list playing matches: %w", err)
	}

	return matches, nil
}

// listIndexed loads every match in the set and skips ones whose record no longer passes keep.
func (that *dbMatch) listIndexed(ctx context.Context, setKey string, keep func(*entity.Match) bool) ([]*entity.Match, error) {
	ids, err := that.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, apperror.External("failed to read match index", err)
	}

	matches := make([]*entity.Match, 0, len(ids))
	for _, id := range ids {
		match, err := that.GetByID(ctx, id)
		if errors.Is(err, apperror.ErrMatchNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if keep(match) {
			matches = append(matches, match)
		}
	}

	sortByCreatedAt(matches)

	return matches, nil
}
