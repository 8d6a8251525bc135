package service

import (
	"context"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

type AccountService interface {
	Register(ctx context.Context, player *entity.Player) error
	GetAccount(ctx context.Context, userID string) (*entity.Account, error)
}

type accountRepo interface {
	EnsureUser(ctx context.Context, player *entity.Player) error
	Account(ctx context.Context, userID string) (*entity.Account, error)
}

type accountService struct {
	accountRepo accountRepo
}

func NewAccountService(accountRepo accountRepo) AccountService {
	return &accountService{
		accountRepo: accountRepo,
	}
}

// Register creates the wallet on first sight and keeps the display name current.
func (that *accountService) Register(ctx context.Context, player *entity.Player) error {
	if err := that.accountRepo.EnsureUser(ctx, player); err != nil {
		return fmt.Errorf("could not register user: %w", err)
	}

	return nil
}

func (that *accountService) GetAccount(ctx context.Context, userID string) (*entity.Account, error) {
	account, err := that.accountRepo.Account(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("could not get account: %w", err)
	}

	return account, nil
}
