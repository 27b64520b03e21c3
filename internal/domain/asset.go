package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetRegistry is the external collaborator that owns ownership, approval
// and transfer semantics for a single asset contract.
type AssetRegistry interface {
	OwnerOf(ctx context.Context, tokenID *uint256.Int) (common.Address, error)
	// GetApproved returns the zero address when no item-level approval exists.
	GetApproved(ctx context.Context, tokenID *uint256.Int) (common.Address, error)
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	// SafeTransferFrom moves tokenID from -> to on behalf of operator. It must
	// fail if to cannot receive the asset.
	SafeTransferFrom(ctx context.Context, operator, from, to common.Address, tokenID *uint256.Int) error
}

// RoyaltyProvider is optionally implemented by an AssetRegistry that reports
// creator royalties.
type RoyaltyProvider interface {
	SupportsRoyalties() bool
	RoyaltyInfo(ctx context.Context, tokenID *uint256.Int, salePrice *uint256.Int) (common.Address, *uint256.Int, error)
}

// CollectionResolver maps an asset address to its registry.
type CollectionResolver interface {
	Collection(asset common.Address) (AssetRegistry, error)
}

// ValueTransferer moves native value between accounts. Recipients may run
// arbitrary code on receipt.
type ValueTransferer interface {
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// ReceiveHook runs when an account receives value. Returning an error
// rejects the transfer.
type ReceiveHook func(ctx context.Context, from common.Address, amount *uint256.Int) error

// TokenReceiver runs when an account receives an asset through a safe
// transfer. Returning an error rejects the transfer.
type TokenReceiver func(ctx context.Context, operator, from common.Address, asset common.Address, tokenID *uint256.Int) error
