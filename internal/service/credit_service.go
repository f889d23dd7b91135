package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gavelmarket/gavel/internal/domain"
)

// CreditService exposes the credit ledger: balances accumulated from failed
// refunds and seller payouts, withdrawable only by the owning account.
type CreditService struct {
	credits domain.CreditStore
	refunds domain.RefundStore
	locks   domain.LockManager
	gateway domain.PaymentGateway
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewCreditService creates a CreditService with all required dependencies.
func NewCreditService(
	credits domain.CreditStore,
	refunds domain.RefundStore,
	locks domain.LockManager,
	gateway domain.PaymentGateway,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *CreditService {
	return &CreditService{
		credits: credits,
		refunds: refunds,
		locks:   locks,
		gateway: gateway,
		bus:     bus,
		audit:   audit,
		logger:  logger,
	}
}

func creditLockKey(account domain.Account) string { return "credits:" + account.String() }

// Balance returns an account's withdrawable credit balance.
func (s *CreditService) Balance(ctx context.Context, account domain.Account) (int64, error) {
	amount, err := s.credits.Balance(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("credit_service: balance %s: %w", account, err)
	}
	return amount, nil
}

// Withdraw drains receiver's full credit balance and pays it out. The caller
// must be the receiver. The balance is zeroed before the payout runs and
// restored in full if the payout fails, so credits can never be paid twice
// nor destroyed unpaid.
func (s *CreditService) Withdraw(ctx context.Context, caller, receiver domain.Account) (int64, error) {
	if caller != receiver {
		return 0, domain.ErrNotReceiver
	}

	unlock, err := s.locks.Acquire(ctx, creditLockKey(receiver), lockTTL)
	if err != nil {
		return 0, fmt.Errorf("credit_service: lock %s: %w", receiver, err)
	}
	defer unlock()

	amount, err := s.credits.WithdrawAll(ctx, receiver, func(amount int64) error {
		res, err := s.gateway.Transfer(ctx, receiver, amount)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrWithdrawFailed, err)
		}
		if !res.OK {
			return fmt.Errorf("%w: %s", domain.ErrWithdrawFailed, res.Reason)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrWithdrawFailed) {
			s.logger.Warn("credit withdrawal failed", "account", receiver, "error", err)
			publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelCredits, domain.EventWithdrawFailed, map[string]any{
				"account": receiver.String(),
			})
			return 0, err
		}
		if errors.Is(err, domain.ErrNoCredits) {
			return 0, domain.ErrNoCredits
		}
		return 0, fmt.Errorf("credit_service: withdraw %s: %w", receiver, err)
	}

	publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelCredits, domain.EventCreditsWithdrawn, map[string]any{
		"account": receiver.String(),
		"amount":  amount,
	})
	s.logger.Info("credits withdrawn", "account", receiver, "amount", amount)
	return amount, nil
}

// Refunds lists an account's refund history, newest first.
func (s *CreditService) Refunds(ctx context.Context, account domain.Account, opts domain.ListOpts) ([]domain.Refund, error) {
	out, err := s.refunds.ListByAccount(ctx, account, opts)
	if err != nil {
		return nil, fmt.Errorf("credit_service: refunds %s: %w", account, err)
	}
	return out, nil
}
