package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
	"github.com/rocketscienceinc/tictactoe-wager/internal/tictactoe"
)

func TestMatchEngine_Create(t *testing.T) {
	t.Run("Creates a waiting match and takes the stake", func(t *testing.T) {
		f := newFixture(t)

		// When: alice creates a match with a bet of 10
		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)

		// Then: she is X, the match waits and her balance dropped by the bet
		require.NoError(t, err)
		assert.Equal(t, entity.StatusWaiting, match.Status)
		assert.Equal(t, alice.ID, match.Players.X.ID)
		assert.Nil(t, match.Players.O)
		assert.True(t, match.Pot.IsZero())
		requireDecimal(t, 90, f.balance(t, alice.ID))
	})

	t.Run("Bet outside the bounds is rejected", func(t *testing.T) {
		f := newFixture(t)

		for _, bet := range []string{"0.5", "100.01", "5.555"} {
			_, err := f.engine.Create(f.ctx, decimal.RequireFromString(bet), alice)

			require.ErrorIs(t, err, apperror.ErrBetOutOfRange, bet)
			assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
		}

		_, err := f.ledger.Balance(f.ctx, alice.ID)
		require.ErrorIs(t, err, apperror.ErrPlayerNotFound)
	})

	t.Run("Maintenance blocks new matches", func(t *testing.T) {
		f := newFixture(t)
		f.settings.Update(func(settings *entity.Settings) {
			settings.MaintenanceMode = true
		})

		_, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)

		require.ErrorIs(t, err, apperror.ErrMaintenance)
	})

	t.Run("Insufficient balance", func(t *testing.T) {
		f := newFixture(t)
		f.settings.Update(func(settings *entity.Settings) {
			settings.MaxBet = decimal.NewFromInt(1000)
		})
		require.NoError(t, f.ledger.EnsureUser(f.ctx, alice))

		_, err := f.engine.Create(f.ctx, decimal.NewFromInt(500), alice)

		require.ErrorIs(t, err, apperror.ErrInsufficientBalance)
		requireDecimal(t, 100, f.balance(t, alice.ID))
	})
}

func TestMatchEngine_Join(t *testing.T) {
	t.Run("Opponent is seated as O and the match starts", func(t *testing.T) {
		f := newFixture(t)

		match := f.startHumanMatch(t)

		assert.Equal(t, entity.StatusPlaying, match.Status)
		assert.Equal(t, bob.ID, match.Players.O.ID)
		assert.Equal(t, entity.PlayerX, match.CurrentPlayer)
		requireDecimal(t, 20, match.Pot)
		requireDecimal(t, 90, f.balance(t, bob.ID))
	})

	t.Run("Two concurrent joins, exactly one wins", func(t *testing.T) {
		f := newFixture(t)
		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)
		require.NoError(t, err)

		// When: bob and carol join at the same time
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
			losers  []error
		)
		for _, player := range []*entity.Player{bob, carol} {
			wg.Add(1)
			go func() {
				defer wg.Done()

				_, err := f.engine.Join(f.ctx, match.ID, player)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					losers = append(losers, err)
					return
				}
				winners = append(winners, player.ID)
			}()
		}
		wg.Wait()

		// Then: one is seated, the other gets MatchAlreadyFull and keeps their money
		require.Len(t, winners, 1)
		require.Len(t, losers, 1)
		require.ErrorIs(t, losers[0], apperror.ErrMatchAlreadyFull)

		stored := f.match(t, match.ID)
		assert.Equal(t, winners[0], stored.Players.O.ID)

		loser := bob.ID
		if winners[0] == bob.ID {
			loser = carol.ID
		}
		_, err = f.ledger.Balance(f.ctx, loser)
		require.ErrorIs(t, err, apperror.ErrPlayerNotFound)
	})

	t.Run("Repeated join by the seated opponent returns the match", func(t *testing.T) {
		f := newFixture(t)
		match := f.startHumanMatch(t)

		again, err := f.engine.Join(f.ctx, match.ID, bob)

		require.NoError(t, err)
		assert.Equal(t, entity.StatusPlaying, again.Status)
		requireDecimal(t, 90, f.balance(t, bob.ID))
	})

	t.Run("Join retried after a storage failure stakes once", func(t *testing.T) {
		// Given: a store that fails the first write after the stake is taken
		f := newFixture(t)
		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)
		require.NoError(t, err)
		f.engine.matches = &flakyMatchRepo{MatchRepository: f.matches, failures: 1}

		// When: bob joins, fails, and joins again
		_, err = f.engine.Join(f.ctx, match.ID, bob)
		require.Error(t, err)
		assert.Equal(t, apperror.KindExternal, apperror.KindOf(err))
		requireDecimal(t, 100, f.balance(t, bob.ID))

		joined, err := f.engine.Join(f.ctx, match.ID, bob)

		// Then: the second attempt seats him and only one bet left his balance
		require.NoError(t, err)
		assert.Equal(t, entity.StatusPlaying, joined.Status)
		assert.Equal(t, bob.ID, joined.Players.O.ID)
		requireDecimal(t, 20, joined.Pot)
		requireDecimal(t, 90, f.balance(t, bob.ID))
		requireDecimal(t, 90, f.balance(t, alice.ID))
	})

	t.Run("Creator can't join own match", func(t *testing.T) {
		f := newFixture(t)
		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)
		require.NoError(t, err)

		_, err = f.engine.Join(f.ctx, match.ID, alice)

		require.ErrorIs(t, err, apperror.ErrMatchNotJoinable)
	})

	t.Run("Unknown match", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.Join(f.ctx, "missing", bob)

		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
		assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
	})

	t.Run("Cancelled match is not joinable", func(t *testing.T) {
		f := newFixture(t)
		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)
		require.NoError(t, err)
		_, err = f.engine.Cancel(f.ctx, match.ID, alice.ID)
		require.NoError(t, err)

		_, err = f.engine.Join(f.ctx, match.ID, bob)

		require.ErrorIs(t, err, apperror.ErrMatchNotJoinable)
	})
}

func TestMatchEngine_ApplyMove(t *testing.T) {
	t.Run("X wins the top row and is paid pot minus fee", func(t *testing.T) {
		// Given: a 10 bet match between alice (X) and bob (O)
		f := newFixture(t)
		match := f.startHumanMatch(t)

		// When: X:0, O:3, X:1, O:4, X:2
		final := f.play(t, match.ID, 0, 3, 1, 4, 2)

		// Then: X wins, the pot was 20 and alice got 20 - 5% fee
		assert.Equal(t, entity.StatusCompleted, final.Status)
		assert.Equal(t, entity.PlayerX, final.Winner)
		requireDecimal(t, 20, final.Pot)
		assert.True(t, tictactoe.HasLine(final.Board, entity.PlayerX))
		assert.False(t, tictactoe.HasLine(final.Board, entity.PlayerO))

		requireDecimal(t, 109, f.balance(t, alice.ID))
		requireDecimal(t, 90, f.balance(t, bob.ID))
		assert.True(t, f.match(t, match.ID).SettlementApplied)

		// And: the board is frozen
		_, err := f.engine.ApplyMove(f.ctx, match.ID, bob.ID, 5)
		require.ErrorIs(t, err, apperror.ErrMatchNotPlaying)
		assert.Equal(t, entity.EmptyCell, f.match(t, match.ID).Board[5])
	})

	t.Run("Draw refunds both stakes", func(t *testing.T) {
		f := newFixture(t)
		match := f.startHumanMatch(t)

		final := f.play(t, match.ID, 0, 1, 2, 4, 3, 5, 7, 6, 8)

		assert.Equal(t, entity.StatusDraw, final.Status)
		assert.Equal(t, entity.EmptyCell, final.Winner)
		requireDecimal(t, 100, f.balance(t, alice.ID))
		requireDecimal(t, 100, f.balance(t, bob.ID))
	})

	t.Run("Rule violations", func(t *testing.T) {
		f := newFixture(t)
		match := f.startHumanMatch(t)

		_, err := f.engine.ApplyMove(f.ctx, match.ID, bob.ID, 0)
		require.ErrorIs(t, err, apperror.ErrNotYourTurn)

		_, err = f.engine.ApplyMove(f.ctx, match.ID, alice.ID, 9)
		require.ErrorIs(t, err, apperror.ErrOutOfRange)

		f.play(t, match.ID, 4)
		_, err = f.engine.ApplyMove(f.ctx, match.ID, bob.ID, 4)
		require.ErrorIs(t, err, apperror.ErrCellOccupied)
		assert.Equal(t, apperror.KindState, apperror.KindOf(err))

		_, err = f.engine.ApplyMove(f.ctx, "missing", bob.ID, 4)
		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
	})

	t.Run("Waiting match is not playing", func(t *testing.T) {
		f := newFixture(t)
		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)
		require.NoError(t, err)

		_, err = f.engine.ApplyMove(f.ctx, match.ID, alice.ID, 0)

		require.ErrorIs(t, err, apperror.ErrMatchNotPlaying)
	})

	t.Run("Bot replies in the same call and blocks", func(t *testing.T) {
		// Given: alice plays a perfect bot
		f := newFixture(t)
		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)
		require.NoError(t, err)
		match, err = f.engine.Join(f.ctx, match.ID, entity.NewBotPlayer("b1", "Sam"), WithWinProbability(1))
		require.NoError(t, err)

		// When: alice plays 0, the bot takes the center, alice threatens with 1
		match, err = f.engine.ApplyMove(f.ctx, match.ID, alice.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, match.Moves)
		assert.Equal(t, entity.PlayerO, match.Board[4])
		assert.Equal(t, entity.PlayerX, match.CurrentPlayer)

		match, err = f.engine.ApplyMove(f.ctx, match.ID, alice.ID, 1)
		require.NoError(t, err)

		// Then: the bot blocked at 2
		assert.Equal(t, entity.PlayerO, match.Board[2])
		assert.Equal(t, 4, match.Moves)
	})
}

func TestMatchEngine_TurnTimer(t *testing.T) {
	t.Run("Bot match forces a move for the idle human", func(t *testing.T) {
		// Given: a bot match where alice never moves
		f := newFixture(t)
		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)
		require.NoError(t, err)
		match, err = f.engine.Join(f.ctx, match.ID, entity.NewBotPlayer("b1", "Sam"))
		require.NoError(t, err)

		// When: the turn budget runs out
		f.clock.Advance(turnTimeout)

		// Then: a random move was played for her and the bot answered
		require.Eventually(t, func() bool {
			return f.match(t, match.ID).Moves == 2
		}, time.Second, 5*time.Millisecond)

		stored := f.match(t, match.ID)
		assert.Equal(t, entity.StatusPlaying, stored.Status)
		assert.Equal(t, entity.PlayerX, stored.CurrentPlayer)
	})

	t.Run("Human match waits by default", func(t *testing.T) {
		f := newFixture(t)
		match := f.startHumanMatch(t)

		f.clock.Advance(turnTimeout)
		require.Eventually(t, func() bool {
			f.engine.timersMu.Lock()
			defer f.engine.timersMu.Unlock()

			return len(f.engine.timers) == 0
		}, time.Second, 5*time.Millisecond)

		stored := f.match(t, match.ID)
		assert.Equal(t, 0, stored.Moves)
		assert.Equal(t, entity.StatusPlaying, stored.Status)
	})

	t.Run("Human match can force random moves", func(t *testing.T) {
		f := newFixture(t, withHumanTimeoutPolicy(TimeoutPolicyRandomMove))
		match := f.startHumanMatch(t)

		f.clock.Advance(turnTimeout)

		require.Eventually(t, func() bool {
			return f.match(t, match.ID).Moves == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, entity.PlayerO, f.match(t, match.ID).CurrentPlayer)
	})

	t.Run("A move resets the budget", func(t *testing.T) {
		f := newFixture(t, withHumanTimeoutPolicy(TimeoutPolicyRandomMove))
		match := f.startHumanMatch(t)

		// When: alice moves just before her budget ends
		f.clock.Advance(turnTimeout - time.Second)
		f.play(t, match.ID, 4)
		f.clock.Advance(time.Second)

		// Then: bob still has his full turn
		assert.Never(t, func() bool {
			return f.match(t, match.ID).Moves != 1
		}, 50*time.Millisecond, 5*time.Millisecond)
	})
}

func TestMatchEngine_Resume(t *testing.T) {
	startBotMatch := func(t *testing.T, f *fixture) *entity.Match {
		t.Helper()

		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)
		require.NoError(t, err)
		match, err = f.engine.Join(f.ctx, match.ID, entity.NewBotPlayer("b1", "Sam"))
		require.NoError(t, err)

		return match
	}

	t.Run("Restarted engine keeps the remaining turn budget", func(t *testing.T) {
		// Given: a bot match whose engine stopped 10s into alice's turn
		f := newFixture(t)
		match := startBotMatch(t, f)
		f.engine.Shutdown()
		f.clock.Advance(10 * time.Second)

		// When: a new engine resumes
		engine := f.restart(t)
		require.NoError(t, engine.Resume(f.ctx))

		// Then: nothing happens before the rest of the turn is used up
		f.clock.Advance(4 * time.Second)
		assert.Never(t, func() bool {
			return f.match(t, match.ID).Moves != 0
		}, 50*time.Millisecond, 5*time.Millisecond)

		// And: the forced move plus the bot reply follow once it is
		f.clock.Advance(time.Second)
		require.Eventually(t, func() bool {
			return f.match(t, match.ID).Moves == 2
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, entity.StatusPlaying, f.match(t, match.ID).Status)
	})

	t.Run("Turn that expired while down is forced right away", func(t *testing.T) {
		f := newFixture(t)
		match := startBotMatch(t, f)
		f.engine.Shutdown()
		f.clock.Advance(150 * time.Second)

		engine := f.restart(t)
		require.NoError(t, engine.Resume(f.ctx))
		f.clock.Advance(time.Millisecond)

		require.Eventually(t, func() bool {
			return f.match(t, match.ID).Moves == 2
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Finished matches are left alone", func(t *testing.T) {
		f := newFixture(t)
		match := f.startHumanMatch(t)
		f.play(t, match.ID, 0, 3, 1, 4, 2)
		f.engine.Shutdown()

		engine := f.restart(t)
		require.NoError(t, engine.Resume(f.ctx))

		engine.timersMu.Lock()
		defer engine.timersMu.Unlock()
		assert.Empty(t, engine.timers)
	})
}

func TestMatchEngine_Cancel(t *testing.T) {
	t.Run("Creator cancels and gets the stake back once", func(t *testing.T) {
		f := newFixture(t)
		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)
		require.NoError(t, err)

		cancelled, err := f.engine.Cancel(f.ctx, match.ID, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusCancelled, cancelled.Status)
		requireDecimal(t, 100, f.balance(t, alice.ID))

		// When: the cancel is retried
		_, err = f.engine.Cancel(f.ctx, match.ID, alice.ID)

		// Then: it succeeds without a second refund
		require.NoError(t, err)
		requireDecimal(t, 100, f.balance(t, alice.ID))
	})

	t.Run("Only the creator may cancel", func(t *testing.T) {
		f := newFixture(t)
		match, err := f.engine.Create(f.ctx, decimal.NewFromInt(10), alice)
		require.NoError(t, err)

		_, err = f.engine.Cancel(f.ctx, match.ID, bob.ID)

		require.ErrorIs(t, err, apperror.ErrNotCancellable)
	})

	t.Run("Started match can't be cancelled", func(t *testing.T) {
		f := newFixture(t)
		match := f.startHumanMatch(t)

		_, err := f.engine.Cancel(f.ctx, match.ID, alice.ID)

		require.ErrorIs(t, err, apperror.ErrNotCancellable)
		requireDecimal(t, 90, f.balance(t, alice.ID))
	})

	t.Run("Unknown match", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.Cancel(f.ctx, "missing", alice.ID)

		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
	})
}
