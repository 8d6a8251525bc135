package storage

import (
	"context"
	"database/sql"
	"fmt"

	// import the SQLite driver to register it with the database/sql package.
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

type Storage struct {
	Connection *sql.DB
}

func NewSQLiteStorage(path string) (*Storage, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("can't open database: %w", err)
	}

	// a single writer keeps ledger transactions serialized and lets :memory: work across calls
	conn.SetMaxOpenConns(1)

	if err = conn.Ping(); err != nil {
		return nil, fmt.Errorf("can't connect to database: %w", err)
	}

	if path != memoryPath {
		if _, err = conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("can't enable WAL: %w", err)
		}
	}

	return &Storage{Connection: conn}, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		games_played INTEGER NOT NULL DEFAULT 0,
		games_won INTEGER NOT NULL DEFAULT 0,
		total_winnings INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		match_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		ref TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE (match_id, user_id, kind, ref)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id)`,
	`CREATE TABLE IF NOT EXISTS settlements (
		match_id TEXT PRIMARY KEY,
		outcome TEXT NOT NULL,
		winner_id TEXT NOT NULL DEFAULT '',
		vs_bot INTEGER NOT NULL DEFAULT 0,
		pot INTEGER NOT NULL,
		platform_fee INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS system_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		min_bet TEXT NOT NULL,
		max_bet TEXT NOT NULL,
		bot_win_probability REAL NOT NULL,
		max_wins_per_user INTEGER NOT NULL,
		platform_fee_percent TEXT NOT NULL,
		bot_platform_fee_percent TEXT NOT NULL,
		maintenance_mode INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`,
}

func (that *Storage) Init(ctx context.Context) error {
	for _, query := range migrations {
		if _, err := that.Connection.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("can't create table: %w", err)
		}
	}

	return nil
}

func (that *Storage) Close() error {
	return that.Connection.Close()
}
