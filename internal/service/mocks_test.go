package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

type mockSettingsProvider struct {
	mock.Mock
}

func (that *mockSettingsProvider) Get(ctx context.Context) (*entity.Settings, error) {
	args := that.Called(ctx)

	settings, _ := args.Get(0).(*entity.Settings)

	return settings, args.Error(1)
}

type mockSettlementLedger struct {
	mock.Mock
}

func (that *mockSettlementLedger) CommitSettlement(ctx context.Context, record *entity.SettlementRecord) error {
	return that.Called(ctx, record).Error(0)
}

type staticSettings entity.Settings

func (that staticSettings) Get() entity.Settings {
	return entity.Settings(that)
}
