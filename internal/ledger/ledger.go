// Package ledger implements an in-process native value ledger. Accounts may
// register receive hooks, which is how contract-like recipients run code when
// they are paid. Every transfer records its inverse on the journal carried by
// the context so a failed marketplace transaction can roll it back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/journal"
)

var errOverflow = errors.New("ledger: balance overflow")

// Ledger holds balances for every account.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
	hooks    map[common.Address]domain.ReceiveHook
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]*uint256.Int),
		hooks:    make(map[common.Address]domain.ReceiveHook),
	}
}

// Credit mints amount into addr outside of any transaction. Used to seed
// genesis balances.
func (l *Ledger) Credit(addr common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.add(addr, amount)
}

// BalanceOf returns a copy of the balance of addr.
func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[addr]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// SetHook installs a receive hook for addr. A nil hook removes it.
func (l *Ledger) SetHook(addr common.Address, hook domain.ReceiveHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hook == nil {
		delete(l.hooks, addr)
		return
	}
	l.hooks[addr] = hook
}

// Transfer moves amount from -> to and then runs the recipient's hook, if
// any. A hook error undoes the transfer and is returned wrapped in
// domain.ErrTransferRejected.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if to == (common.Address{}) {
		return fmt.Errorf("ledger: transfer to zero address: %w", domain.ErrInvalidAddress)
	}

	l.mu.Lock()
	if err := l.sub(from, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	if err := l.add(to, amount); err != nil {
		_ = l.add(from, amount)
		l.mu.Unlock()
		return err
	}
	hook := l.hooks[to]
	l.mu.Unlock()

	amt := amount.Clone()
	var once sync.Once
	undo := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			_ = l.sub(to, amt)
			_ = l.add(from, amt)
		})
	}
	journal.Record(ctx, undo)

	if hook != nil {
		if err := hook(ctx, from, amt); err != nil {
			undo()
			return fmt.Errorf("ledger: transfer %s -> %s: %w", from.Hex(), to.Hex(), errors.Join(domain.ErrTransferRejected, err))
		}
	}
	return nil
}

// sub and add must be called with l.mu held.
func (l *Ledger) sub(addr common.Address, amount *uint256.Int) error {
	bal, ok := l.balances[addr]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("ledger: debit %s: %w", addr.Hex(), domain.ErrInsufficientFunds)
	}
	bal.Sub(bal, amount)
	return nil
}

func (l *Ledger) add(addr common.Address, amount *uint256.Int) error {
	bal, ok := l.balances[addr]
	if !ok {
		l.balances[addr] = amount.Clone()
		return nil
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return errOverflow
	}
	l.balances[addr] = next
	return nil
}

// Compile-time interface check.
var _ domain.ValueTransferer = (*Ledger)(nil)
