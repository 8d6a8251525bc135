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

var ErrSettingsNotFound = errors.New("settings not found")

type SettingsRepository interface {
	Get(ctx context.Context) (*entity.Settings, error)
	Save(ctx context.Context, settings *entity.Settings) error
	// Seed stores settings only when none exist yet.
	Seed(ctx context.Context, settings *entity.Settings) error
}

type settingsRepository struct {
	conn *sql.DB
}

func NewSettingsRepository(conn *sql.DB) SettingsRepository {
	return &settingsRepository{
		conn: conn,
	}
}

const settingsColumns = `min_bet, max_bet, bot_win_probability, max_wins_per_user,
	platform_fee_percent, bot_platform_fee_percent, maintenance_mode, updated_at`

func (that *settingsRepository) Get(ctx context.Context) (*entity.Settings, error) {
	query := `SELECT ` + settingsColumns + ` FROM system_settings WHERE id = 1`

	var (
		settings                    entity.Settings
		minBet, maxBet, fee, botFee string
		updatedAt                   int64
	)

	err := that.conn.QueryRowContext(ctx, query).Scan(
		&minBet, &maxBet, &settings.BotWinProbability, &settings.MaxWinsPerUser,
		&fee, &botFee, &settings.MaintenanceMode, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, apperror.External("can't read settings", err)
	}

	for _, field := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{minBet, &settings.MinBet},
		{maxBet, &settings.MaxBet},
		{fee, &settings.PlatformFeePercent},
		{botFee, &settings.BotPlatformFeePercent},
	} {
		if *field.dst, err = decimal.NewFromString(field.raw); err != nil {
			return nil, fmt.Errorf("failed to parse settings value %q: %w", field.raw, err)
		}
	}

	settings.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &settings, nil
}

func (that *settingsRepository) Save(ctx context.Context, settings *entity.Settings) error {
	return that.write(ctx, settings, `ON CONFLICT(id) DO UPDATE SET
		min_bet = excluded.min_bet,
		max_bet = excluded.max_bet,
		bot_win_probability = excluded.bot_win_probability,
		max_wins_per_user = excluded.max_wins_per_user,
		platform_fee_percent = excluded.platform_fee_percent,
		bot_platform_fee_percent = excluded.bot_platform_fee_percent,
		maintenance_mode = excluded.maintenance_mode,
		updated_at = excluded.updated_at`)
}

func (that *settingsRepository) Seed(ctx context.Context, settings *entity.Settings) error {
	return that.write(ctx, settings, `ON CONFLICT(id) DO NOTHING`)
}

func (that *settingsRepository) write(ctx context.Context, settings *entity.Settings, conflict string) error {
	query := `INSERT INTO system_settings (id, ` + settingsColumns + `) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?) ` + conflict

	updatedAt := settings.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := that.conn.ExecContext(ctx, query,
		settings.MinBet.String(), settings.MaxBet.String(), settings.BotWinProbability, settings.MaxWinsPerUser,
		settings.PlatformFeePercent.String(), settings.BotPlatformFeePercent.String(), settings.MaintenanceMode,
		updatedAt.UnixMilli(),
	)
	if err != nil {
		return apperror.External("can't save settings", err)
	}

	return nil
}
