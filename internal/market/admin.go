package market

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Owner returns the marketplace admin.
func (e *Engine) Owner() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.owner
}

// FeeRate returns the current fee rate in basis points.
func (e *Engine) FeeRate() uint16 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fees.RateBps
}

// FeeRecipient returns the account that receives marketplace fees.
func (e *Engine) FeeRecipient() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fees.Recipient
}

// Fees returns a snapshot of the fee configuration.
func (e *Engine) Fees() domain.FeeConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fees
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if caller != e.Owner() {
		return domain.ErrNotAdmin
	}
	return nil
}

// SetFeeRate updates the fee rate. Only the admin may call it and the rate is
// capped at domain.MaxFeeRateBps.
func (e *Engine) SetFeeRate(ctx context.Context, caller common.Address, rateBps uint16) error {
	_, err := e.execute(ctx, "set fee rate", func(ctx context.Context, tx *txn) error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if rateBps > domain.MaxFeeRateBps {
			return domain.ErrFeeTooHigh
		}
		set(ctx, &e.mu, &e.fees.RateBps, rateBps)
		tx.emit(domain.FeeUpdated{NewFee: rateBps})
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "fee rate updated", slog.Int("fee_rate_bps", int(rateBps)))
	return nil
}

// SetFeeRecipient updates the fee recipient. The zero address is rejected.
func (e *Engine) SetFeeRecipient(ctx context.Context, caller, recipient common.Address) error {
	_, err := e.execute(ctx, "set fee recipient", func(ctx context.Context, tx *txn) error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if recipient == (common.Address{}) {
			return domain.ErrInvalidAddress
		}
		set(ctx, &e.mu, &e.fees.Recipient, recipient)
		tx.emit(domain.FeeRecipientUpdated{NewRecipient: recipient})
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "fee recipient updated", slog.String("fee_recipient", recipient.Hex()))
	return nil
}

// TransferOwnership hands the admin role to newOwner.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	_, err := e.execute(ctx, "transfer ownership", func(ctx context.Context, tx *txn) error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if newOwner == (common.Address{}) {
			return domain.ErrInvalidAddress
		}
		set(ctx, &e.mu, &e.owner, newOwner)
		tx.emit(domain.OwnershipTransferred{PreviousOwner: caller, NewOwner: newOwner})
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "ownership transferred",
		slog.String("previous_owner", caller.Hex()),
		slog.String("new_owner", newOwner.Hex()),
	)
	return nil
}
