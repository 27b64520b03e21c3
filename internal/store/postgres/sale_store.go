package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// SaleStore implements domain.SaleStore using PostgreSQL.
type SaleStore struct {
	pool *pgxpool.Pool
}

// NewSaleStore creates a new SaleStore backed by the given connection pool.
func NewSaleStore(pool *pgxpool.Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

const saleSelectCols = `tx_id::text, kind, asset, token_id::text, seller, buyer,
	price::text, fee::text, royalty::text, royalty_receiver, seller_amount::text,
	refund::text, settled_at`

func scanSaleRows(rows pgx.Rows) ([]domain.Receipt, error) {
	var out []domain.Receipt
	for rows.Next() {
		var (
			r                                              domain.Receipt
			kind, asset, seller, buyer, receiver           string
			tokenID, price, fee, royalty, proceeds, refund string
		)
		if err := rows.Scan(
			&r.TxID, &kind, &asset, &tokenID, &seller, &buyer,
			&price, &fee, &royalty, &receiver, &proceeds,
			&refund, &r.SettledAt,
		); err != nil {
			return nil, err
		}
		r.Kind = domain.SaleKind(kind)
		r.Asset = common.HexToAddress(asset)
		r.Seller = common.HexToAddress(seller)
		r.Buyer = common.HexToAddress(buyer)
		r.Split.RoyaltyReceiver = common.HexToAddress(receiver)

		var err error
		if r.TokenID, err = parseAmount(tokenID); err != nil {
			return nil, err
		}
		if r.Split.Price, err = parseAmount(price); err != nil {
			return nil, err
		}
		if r.Split.Fee, err = parseAmount(fee); err != nil {
			return nil, err
		}
		if r.Split.Royalty, err = parseAmount(royalty); err != nil {
			return nil, err
		}
		if r.Split.Seller, err = parseAmount(proceeds); err != nil {
			return nil, err
		}
		if r.Refund, err = parseAmount(refund); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert records a receipt. Inserting the same transaction twice is a no-op.
func (s *SaleStore) Insert(ctx context.Context, r domain.Receipt) error {
	const query = `
		INSERT INTO sales (
			tx_id, kind, asset, token_id, seller, buyer,
			price, fee, royalty, royalty_receiver, seller_amount,
			refund, settled_at
		) VALUES (
			$1::text::uuid, $2, $3, $4::text::numeric, $5, $6,
			$7::text::numeric, $8::text::numeric, $9::text::numeric, $10, $11::text::numeric,
			$12::text::numeric, $13
		) ON CONFLICT (tx_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		r.TxID, string(r.Kind), r.Asset.Hex(), dec(r.TokenID), r.Seller.Hex(), r.Buyer.Hex(),
		dec(r.Split.Price), dec(r.Split.Fee), dec(r.Split.Royalty), r.Split.RoyaltyReceiver.Hex(), dec(r.Split.Seller),
		dec(r.Refund), r.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert sale %s: %w", r.TxID, err)
	}
	return nil
}

// ListRecent returns receipts most recent first.
func (s *SaleStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Receipt, error) {
	query, args := withListOpts(`SELECT `+saleSelectCols+` FROM sales WHERE 1=1`, nil, opts, "settled_at", "settled_at DESC")
	return s.list(ctx, "list recent sales", query, args)
}

// ListByAsset returns receipts for one asset most recent first.
func (s *SaleStore) ListByAsset(ctx context.Context, asset common.Address, opts domain.ListOpts) ([]domain.Receipt, error) {
	query, args := withListOpts(`SELECT `+saleSelectCols+` FROM sales WHERE asset = $1`, []any{asset.Hex()}, opts, "settled_at", "settled_at DESC")
	return s.list(ctx, "list sales by asset", query, args)
}

func (s *SaleStore) list(ctx context.Context, op, query string, args []any) ([]domain.Receipt, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	out, err := scanSaleRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
	}
	return out, nil
}
