// Package collection implements an in-process non-fungible asset registry
// with item-level and operator approvals, safe-transfer receiver hooks and
// optional basis-point royalties.
package collection

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

// Royalty configures the royalty a collection reports on every sale.
type Royalty struct {
	Receiver common.Address
	RateBps  uint16
}

// Collection is one asset contract.
type Collection struct {
	address common.Address
	name    string
	royalty *Royalty

	mu        sync.Mutex
	owners    map[uint256.Int]common.Address
	approvals map[uint256.Int]common.Address
	operators map[common.Address]map[common.Address]bool
	receivers map[common.Address]domain.TokenReceiver
}

// New creates an empty collection. A nil royalty means the collection does
// not report royalties.
func New(address common.Address, name string, royalty *Royalty) (*Collection, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("collection: %w", domain.ErrInvalidAddress)
	}
	if royalty != nil && royalty.RateBps > domain.BasisPoints {
		return nil, fmt.Errorf("collection: royalty rate %d exceeds %d bps", royalty.RateBps, domain.BasisPoints)
	}
	return &Collection{
		address:   address,
		name:      name,
		royalty:   royalty,
		owners:    make(map[uint256.Int]common.Address),
		approvals: make(map[uint256.Int]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
		receivers: make(map[common.Address]domain.TokenReceiver),
	}, nil
}

// Address returns the asset contract address.
func (c *Collection) Address() common.Address { return c.address }

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Mint assigns a new token to owner outside of any transaction.
func (c *Collection) Mint(owner common.Address, tokenID *uint256.Int) error {
	if owner == (common.Address{}) {
		return fmt.Errorf("collection: mint: %w", domain.ErrInvalidAddress)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.owners[*tokenID]; ok {
		return fmt.Errorf("collection: mint %s: token already exists", tokenID.Dec())
	}
	c.owners[*tokenID] = owner
	return nil
}

// SetReceiver installs a safe-transfer receiver hook for addr. A nil hook
// removes it.
func (c *Collection) SetReceiver(addr common.Address, hook domain.TokenReceiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hook == nil {
		delete(c.receivers, addr)
		return
	}
	c.receivers[addr] = hook
}

func (c *Collection) OwnerOf(_ context.Context, tokenID *uint256.Int) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[*tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("collection: owner of %s: %w", tokenID.Dec(), domain.ErrNonexistentNFT)
	}
	return owner, nil
}

func (c *Collection) GetApproved(_ context.Context, tokenID *uint256.Int) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.owners[*tokenID]; !ok {
		return common.Address{}, fmt.Errorf("collection: approved of %s: %w", tokenID.Dec(), domain.ErrNonexistentNFT)
	}
	return c.approvals[*tokenID], nil
}

func (c *Collection) IsApprovedForAll(_ context.Context, owner, operator common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operators[owner][operator], nil
}

// Approve grants spender transfer rights over tokenID. caller must be the
// owner or one of the owner's operators.
func (c *Collection) Approve(ctx context.Context, caller, spender common.Address, tokenID *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[*tokenID]
	if !ok {
		return fmt.Errorf("collection: approve %s: %w", tokenID.Dec(), domain.ErrNonexistentNFT)
	}
	if caller != owner && !c.operators[owner][caller] {
		return fmt.Errorf("collection: approve %s: %w", tokenID.Dec(), domain.ErrNotOwner)
	}
	prev, had := c.approvals[*tokenID]
	c.approvals[*tokenID] = spender
	key := *tokenID
	journal.Record(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if had {
			c.approvals[key] = prev
		} else {
			delete(c.approvals, key)
		}
	})
	return nil
}

// SetApprovalForAll grants or revokes operator rights over all of caller's
// tokens.
func (c *Collection) SetApprovalForAll(ctx context.Context, caller, operator common.Address, approved bool) error {
	if operator == caller {
		return fmt.Errorf("collection: approve self as operator: %w", domain.ErrInvalidAddress)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ops, ok := c.operators[caller]
	if !ok {
		ops = make(map[common.Address]bool)
		c.operators[caller] = ops
	}
	prev := ops[operator]
	ops[operator] = approved
	journal.Record(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.operators[caller][operator] = prev
	})
	return nil
}

// SafeTransferFrom moves tokenID from -> to. operator must be the owner, the
// approved spender or an operator of the owner. When to has a receiver hook
// it runs after the move; a hook error undoes the move.
func (c *Collection) SafeTransferFrom(ctx context.Context, operator, from, to common.Address, tokenID *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("collection: transfer to zero address: %w", domain.ErrInvalidAddress)
	}
	key := *tokenID

	c.mu.Lock()
	owner, ok := c.owners[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("collection: transfer %s: %w", tokenID.Dec(), domain.ErrNonexistentNFT)
	}
	if owner != from {
		c.mu.Unlock()
		return fmt.Errorf("collection: transfer %s from %s: %w", tokenID.Dec(), from.Hex(), domain.ErrNotOwner)
	}
	approved, hadApproval := c.approvals[key]
	if operator != owner && approved != operator && !c.operators[owner][operator] {
		c.mu.Unlock()
		return fmt.Errorf("collection: transfer %s by %s: %w", tokenID.Dec(), operator.Hex(), domain.ErrNotApproved)
	}
	c.owners[key] = to
	delete(c.approvals, key)
	hook := c.receivers[to]
	c.mu.Unlock()

	var once sync.Once
	undo := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.owners[key] = from
			if hadApproval {
				c.approvals[key] = approved
			}
		})
	}
	journal.Record(ctx, undo)

	if hook != nil {
		if err := hook(ctx, operator, from, c.address, tokenID.Clone()); err != nil {
			undo()
			return fmt.Errorf("collection: transfer %s to %s: %w", tokenID.Dec(), to.Hex(), errors.Join(domain.ErrTransferRejected, err))
		}
	}
	return nil
}

// Royalty returns a copy of the royalty configuration, or nil.
func (c *Collection) Royalty() *Royalty {
	if c.royalty == nil {
		return nil
	}
	r := *c.royalty
	return &r
}

// SupportsRoyalties reports whether the collection was configured with a
// royalty.
func (c *Collection) SupportsRoyalties() bool {
	return c.royalty != nil
}

// RoyaltyInfo returns the royalty receiver and salePrice * rate / 10000.
func (c *Collection) RoyaltyInfo(_ context.Context, tokenID *uint256.Int, salePrice *uint256.Int) (common.Address, *uint256.Int, error) {
	if c.royalty == nil {
		return common.Address{}, new(uint256.Int), nil
	}
	amount, _ := new(uint256.Int).MulDivOverflow(salePrice, uint256.NewInt(uint64(c.royalty.RateBps)), uint256.NewInt(domain.BasisPoints))
	return c.royalty.Receiver, amount, nil
}

// Compile-time interface checks.
var (
	_ domain.AssetRegistry   = (*Collection)(nil)
	_ domain.RoyaltyProvider = (*Collection)(nil)
)
