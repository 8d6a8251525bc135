package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

// Ledger is the wallet store: balances, balance movements and settlement records.
type Ledger interface {
	EnsureUser(ctx context.Context, player *entity.Player) error
	Account(ctx context.Context, userID string) (*entity.Account, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// ApplyBalanceDelta applies one movement at most once per (match, user, kind, ref).
	ApplyBalanceDelta(ctx context.Context, entry entity.LedgerEntry) error
	// CommitSettlement stores the record and credits its payouts in one transaction.
	CommitSettlement(ctx context.Context, record *entity.SettlementRecord) error
	GetSettlement(ctx context.Context, matchID string) (*entity.SettlementRecord, error)
	CountWinsAgainstBots(ctx context.Context, userID string, since time.Time) (int, error)
}

type sqlLedger struct {
	conn            *sql.DB
	startingBalance int64
	now             func() time.Time
}

// NewLedger creates users on first sight with startingBalance.
func NewLedger(conn *sql.DB, startingBalance decimal.Decimal) Ledger {
	return &sqlLedger{
		conn:            conn,
		startingBalance: toCents(startingBalance),
		now:             time.Now,
	}
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (that *sqlLedger) ensureUser(ctx context.Context, db execer, userID, username string) error {
	query := `INSERT INTO users (id, username, balance, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username WHERE excluded.username != ''`

	_, err := db.ExecContext(ctx, query, userID, username, that.startingBalance, that.now().UnixMilli())
	if err != nil {
		return apperror.External("can't save user", err)
	}

	return nil
}

func (that *sqlLedger) EnsureUser(ctx context.Context, player *entity.Player) error {
	if player == nil || player.ID == "" {
		return apperror.ErrInvalidPlayer
	}

	return that.ensureUser(ctx, that.conn, player.ID, player.Username)
}

func (that *sqlLedger) Account(ctx context.Context, userID string) (*entity.Account, error) {
	query := `SELECT id, username, balance, games_played, games_won, total_winnings FROM users WHERE id = ?`

	var (
		account                entity.Account
		balance, totalWinnings int64
	)

	err := that.conn.QueryRowContext(ctx, query, userID).Scan(
		&account.UserID, &account.Username, &balance, &account.GamesPlayed, &account.GamesWon, &totalWinnings,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrPlayerNotFound
	}
	if err != nil {
		return nil, apperror.External("can't find user", err)
	}

	account.Balance = fromCents(balance)
	account.TotalWinnings = fromCents(totalWinnings)

	return &account, nil
}

func (that *sqlLedger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	account, err := that.Account(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	return account.Balance, nil
}

func (that *sqlLedger) ApplyBalanceDelta(ctx context.Context, entry entity.LedgerEntry) error {
	if entry.UserID == "" || entity.IsBotID(entry.UserID) {
		return apperror.ErrInvalidPlayer
	}

	tx, err := that.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperror.External("failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint: errcheck // no-op after commit

	if err = that.ensureUser(ctx, tx, entry.UserID, entry.Username); err != nil {
		return err
	}

	inserted, err := that.insertTransaction(ctx, tx, entry)
	if err != nil {
		return err
	}

	if !inserted {
		return apperror.ErrDuplicateEntry
	}

	delta := toCents(entry.Delta())
	result, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = balance + ? WHERE id = ? AND balance + ? >= 0`,
		delta, entry.UserID, delta,
	)
	if err != nil {
		return apperror.External("failed to update balance", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperror.External("failed to update balance", err)
	}

	if affected == 0 {
		return apperror.ErrInsufficientBalance
	}

	if err = tx.Commit(); err != nil {
		return apperror.External("failed to commit transaction", err)
	}

	return nil
}

func (that *sqlLedger) insertTransaction(ctx context.Context, tx *sql.Tx, entry entity.LedgerEntry) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (match_id, user_id, kind, amount, ref, created_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(match_id, user_id, kind, ref) DO NOTHING`,
		entry.MatchID, entry.UserID, string(entry.Kind), toCents(entry.Delta()), entry.Ref, that.now().UnixMilli(),
	)
	if err != nil {
		return false, apperror.External("failed to record transaction", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperror.External("failed to record transaction", err)
	}

	return affected > 0, nil
}

func (that *sqlLedger) CommitSettlement(ctx context.Context, record *entity.SettlementRecord) error {
	tx, err := that.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperror.External("failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint: errcheck // no-op after commit

	result, err := tx.ExecContext(ctx,
		`INSERT INTO settlements (match_id, outcome, winner_id, vs_bot, pot, platform_fee, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(match_id) DO NOTHING`,
		record.MatchID, string(record.Outcome), record.WinnerID, record.VsBot,
		toCents(record.Pot), toCents(record.PlatformFee), record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return apperror.External("failed to save settlement", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperror.External("failed to save settlement", err)
	}

	if affected == 0 {
		return apperror.ErrAlreadySettled
	}

	kind := entity.LedgerPayout
	if record.Outcome == entity.StatusDraw {
		kind = entity.LedgerRefund
	}

	for userID, amount := range record.Payouts {
		entry := entity.LedgerEntry{UserID: userID, MatchID: record.MatchID, Kind: kind, Amount: amount}
		if err = that.credit(ctx, tx, entry); err != nil {
			return err
		}
	}

	for _, userID := range record.Players {
		won := 0
		winnings := int64(0)
		if userID == record.WinnerID {
			won = 1
			winnings = toCents(record.Payouts[userID])
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE users SET games_played = games_played + 1, games_won = games_won + ?,
				total_winnings = total_winnings + ? WHERE id = ?`,
			won, winnings, userID,
		)
		if err != nil {
			return apperror.External("failed to update user stats", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apperror.External("failed to commit transaction", err)
	}

	return nil
}

func (that *sqlLedger) credit(ctx context.Context, tx *sql.Tx, entry entity.LedgerEntry) error {
	if err := that.ensureUser(ctx, tx, entry.UserID, ""); err != nil {
		return err
	}

	inserted, err := that.insertTransaction(ctx, tx, entry)
	if err != nil {
		return err
	}

	if !inserted {
		return fmt.Errorf("%w: %s for %s", apperror.ErrDuplicateEntry, entry.Kind, entry.UserID)
	}

	_, err = tx.ExecContext(ctx, `UPDATE users SET balance = balance + ? WHERE id = ?`, toCents(entry.Amount), entry.UserID)
	if err != nil {
		return apperror.External("failed to update balance", err)
	}

	return nil
}

func (that *sqlLedger) GetSettlement(ctx context.Context, matchID string) (*entity.SettlementRecord, error) {
	var (
		record       entity.SettlementRecord
		outcome      string
		pot, fee, ts int64
	)

	err := that.conn.QueryRowContext(ctx,
		`SELECT match_id, outcome, winner_id, vs_bot, pot, platform_fee, created_at FROM settlements WHERE match_id = ?`,
		matchID,
	).Scan(&record.MatchID, &outcome, &record.WinnerID, &record.VsBot, &pot, &fee, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrMatchNotFound
	}
	if err != nil {
		return nil, apperror.External("failed to get settlement", err)
	}

	record.Outcome = entity.Status(outcome)
	record.Pot = fromCents(pot)
	record.PlatformFee = fromCents(fee)
	record.CreatedAt = time.UnixMilli(ts).UTC()
	record.Applied = true
	record.Payouts = make(map[string]decimal.Decimal)

	rows, err := that.conn.QueryContext(ctx,
		`SELECT user_id, amount FROM transactions WHERE match_id = ? AND kind IN (?, ?) AND ref = ''`,
		matchID, string(entity.LedgerPayout), string(entity.LedgerRefund),
	)
	if err != nil {
		return nil, apperror.External("failed to get settlement payouts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID string
			amount int64
		)
		if err = rows.Scan(&userID, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}

		record.Payouts[userID] = fromCents(amount)
	}

	if err = rows.Err(); err != nil {
		return nil, apperror.External("failed to read settlement payouts", err)
	}

	return &record, nil
}

// CountWinsAgainstBots counts bot matches userID won since the given instant.
func (that *sqlLedger) CountWinsAgainstBots(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM settlements WHERE vs_bot = 1 AND outcome = ? AND winner_id = ? AND created_at >= ?`

	var count int
	err := that.conn.QueryRowContext(ctx, query, string(entity.StatusCompleted), userID, since.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, apperror.External("failed to count wins against bots", err)
	}

	return count, nil
}
