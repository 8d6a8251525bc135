package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

type memoryMatch struct {
	mu      sync.Mutex
	matches map[string]*entity.Match
}

// NewMemoryMatchRepository keeps matches in process memory. Records are cloned on every read and write.
func NewMemoryMatchRepository() MatchRepository {
	return &memoryMatch{
		matches: make(map[string]*entity.Match),
	}
}

func (that *memoryMatch) Create(_ context.Context, match *entity.Match) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.matches[match.ID]; ok {
		return apperror.ErrMatchAlreadyExists
	}

	that.matches[match.ID] = match.Clone()

	return nil
}

func (that *memoryMatch) GetByID(_ context.Context, id string) (*entity.Match, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	match, ok := that.matches[id]
	if !ok {
		return nil, apperror.ErrMatchNotFound
	}

	return match.Clone(), nil
}

func (that *memoryMatch) Update(_ context.Context, id string, fn UpdateFunc) (*entity.Match, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	stored, ok := that.matches[id]
	if !ok {
		return nil, apperror.ErrMatchNotFound
	}

	match := stored.Clone()
	if err := fn(match); err != nil {
		return nil, err
	}

	that.matches[id] = match.Clone()

	return match, nil
}

func (that *memoryMatch) ListWaiting(_ context.Context) ([]*entity.Match, error) {
	return that.list((*entity.Match).IsWaiting), nil
}

func (that *memoryMatch) ListPlaying(_ context.Context) ([]*entity.Match, error) {
	return that.list((*entity.Match).IsPlaying), nil
}

func (that *memoryMatch) list(keep func(*entity.Match) bool) []*entity.Match {
	that.mu.Lock()
	defer that.mu.Unlock()

	matches := make([]*entity.Match, 0)
	for _, match := range that.matches {
		if keep(match) {
			matches = append(matches, match.Clone())
		}
	}

	sortByCreatedAt(matches)

	return matches
}

func sortByCreatedAt(matches []*entity.Match) {
	slices.SortFunc(matches, func(a, b *entity.Match) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
