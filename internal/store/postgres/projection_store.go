package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ProjectionStore implements domain.ProjectionStore using PostgreSQL. It
// keeps the listings and offers tables in step with committed events.
type ProjectionStore struct {
	pool *pgxpool.Pool
}

// NewProjectionStore creates a new ProjectionStore backed by the given
// connection pool.
func NewProjectionStore(pool *pgxpool.Pool) *ProjectionStore {
	return &ProjectionStore{pool: pool}
}

// Apply folds one event into the read model. Events that do not touch a
// registry are ignored.
func (s *ProjectionStore) Apply(ctx context.Context, env domain.Envelope) error {
	var (
		query string
		args  []any
	)

	switch ev := env.Payload.(type) {
	case domain.ItemListed:
		query = `
			INSERT INTO listings (asset, token_id, seller, price, listed_at)
			VALUES ($1, $2::text::numeric, $3, $4::text::numeric, $5)
			ON CONFLICT (asset, token_id) DO UPDATE SET
				seller = EXCLUDED.seller,
				price = EXCLUDED.price,
				listed_at = EXCLUDED.listed_at`
		args = []any{ev.Asset.Hex(), dec(ev.TokenID), ev.Seller.Hex(), dec(ev.Price), env.At}
	case domain.PriceUpdated:
		query = `UPDATE listings SET price = $3::text::numeric WHERE asset = $1 AND token_id = $2::text::numeric`
		args = []any{ev.Asset.Hex(), dec(ev.TokenID), dec(ev.NewPrice)}
	case domain.ItemCanceled:
		query = `DELETE FROM listings WHERE asset = $1 AND token_id = $2::text::numeric`
		args = []any{ev.Asset.Hex(), dec(ev.TokenID)}
	case domain.ItemBought:
		query = `DELETE FROM listings WHERE asset = $1 AND token_id = $2::text::numeric`
		args = []any{ev.Asset.Hex(), dec(ev.TokenID)}
	case domain.OfferMade:
		query = `
			INSERT INTO offers (asset, token_id, buyer, amount, expires_at)
			VALUES ($1, $2::text::numeric, $3, $4::text::numeric, $5)
			ON CONFLICT (asset, token_id, buyer) DO UPDATE SET
				amount = EXCLUDED.amount,
				expires_at = EXCLUDED.expires_at`
		args = []any{ev.Asset.Hex(), dec(ev.TokenID), ev.Buyer.Hex(), dec(ev.Price), ev.ExpiresAt}
	case domain.OfferCanceled:
		query = `DELETE FROM offers WHERE asset = $1 AND token_id = $2::text::numeric AND buyer = $3`
		args = []any{ev.Asset.Hex(), dec(ev.TokenID), ev.Buyer.Hex()}
	case domain.OfferAccepted:
		query = `DELETE FROM offers WHERE asset = $1 AND token_id = $2::text::numeric AND buyer = $3`
		args = []any{ev.Asset.Hex(), dec(ev.TokenID), ev.Buyer.Hex()}
	default:
		return nil
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: apply %s event %d: %w", env.Kind, env.Seq, err)
	}
	return nil
}

// Reset empties the listings and offers tables.
func (s *ProjectionStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE listings, offers`); err != nil {
		return fmt.Errorf("postgres: reset projections: %w", err)
	}
	return nil
}

// ListListings returns the active listings of asset, newest first.
func (s *ProjectionStore) ListListings(ctx context.Context, asset common.Address, opts domain.ListOpts) ([]domain.ListingView, error) {
	query, args := withListOpts(
		`SELECT token_id::text, seller, price::text, listed_at FROM listings WHERE asset = $1`,
		[]any{asset.Hex()}, opts, "listed_at", "listed_at DESC, token_id",
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.ListingView
	for rows.Next() {
		var tokenID, seller, price string
		var v domain.ListingView
		if err := rows.Scan(&tokenID, &seller, &price, &v.Listing.ListedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		id, err := parseAmount(tokenID)
		if err != nil {
			return nil, err
		}
		if v.Listing.Price, err = parseAmount(price); err != nil {
			return nil, err
		}
		v.Item = domain.NewItemKey(asset, id)
		v.Listing.Seller = common.HexToAddress(seller)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return out, nil
}

// ListOffers returns the offers on an item, highest amount first.
func (s *ProjectionStore) ListOffers(ctx context.Context, item domain.ItemKey, opts domain.ListOpts) ([]domain.OfferView, error) {
	query, args := withListOpts(
		`SELECT buyer, amount::text, expires_at FROM offers WHERE asset = $1 AND token_id = $2::text::numeric`,
		[]any{item.Asset.Hex(), item.TokenID.Dec()}, opts, "expires_at", "amount DESC, buyer",
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers: %w", err)
	}
	defer rows.Close()

	out, err := scanOfferRows(rows, item)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan offers: %w", err)
	}
	return out, nil
}

func scanOfferRows(rows pgx.Rows, item domain.ItemKey) ([]domain.OfferView, error) {
	var out []domain.OfferView
	for rows.Next() {
		var buyer, amount string
		v := domain.OfferView{Item: item}
		if err := rows.Scan(&buyer, &amount, &v.Offer.ExpiresAt); err != nil {
			return nil, err
		}
		var err error
		if v.Offer.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		v.Offer.Buyer = common.HexToAddress(buyer)
		out = append(out, v)
	}
	return out, rows.Err()
}
