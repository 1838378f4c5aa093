package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seer-pm/seer/internal/domain"
)

// AccountService redeems email verification tokens.
type AccountService struct {
	store  domain.AccountStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAccountService creates an AccountService.
func NewAccountService(store domain.AccountStore, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		logger: logger.With(slog.String("component", "account_service")),
		now:    time.Now,
	}
}

// ConfirmEmail redeems token. It reports false for a missing, unknown,
// expired or already used token; err is reserved for store failures.
func (s *AccountService) ConfirmEmail(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	v, err := s.store.GetVerification(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("account_service: get verification: %w", err)
	}

	now := s.now().UTC()
	if v.VerifiedAt != nil || now.After(v.ExpiresAt) {
		return false, nil
	}

	if err := s.store.MarkVerified(ctx, token, now); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("account_service: mark verified: %w", err)
	}

	s.logger.InfoContext(ctx, "email confirmed", slog.String("user_id", v.UserID))
	return true, nil
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
