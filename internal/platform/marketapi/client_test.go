package marketapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/cache/memory"
	"github.com/alanyoungcy/nftmarket/internal/collection"
	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
	"github.com/alanyoungcy/nftmarket/internal/market"
	"github.com/alanyoungcy/nftmarket/internal/server"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/service"
)

var (
	engineAddr = common.HexToAddress("0xe000000000000000000000000000000000000001")
	treasury   = common.HexToAddress("0x7e00000000000000000000000000000000000003")
	assetAddr  = common.HexToAddress("0xa55e700000000000000000000000000000000005")
)

type node struct {
	url    string
	seller *crypto.Signer
	buyer  *crypto.Signer
}

// startNode runs a real API server over an in-process market. The seller
// owns token 7 and the buyer holds 100,000 wei.
func startNode(t *testing.T) node {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	newSigner := func() *crypto.Signer {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		s, err := crypto.NewSigner(key)
		require.NoError(t, err)
		return s
	}
	seller, buyer := newSigner(), newSigner()

	led := ledger.New()
	require.NoError(t, led.Credit(buyer.Address(), uint256.NewInt(100_000)))
	coll, err := collection.New(assetAddr, "Client Test", nil)
	require.NoError(t, err)
	require.NoError(t, coll.Mint(seller.Address(), uint256.NewInt(7)))
	reg := collection.NewRegistry()
	require.NoError(t, reg.Add(coll))

	engine, err := market.New(market.Config{
		Address:      engineAddr,
		Owner:        seller.Address(),
		FeeRateBps:   100,
		FeeRecipient: treasury,
	}, reg, led, market.WithLogger(logger))
	require.NoError(t, err)
	led.SetHook(engineAddr, engine.Receive)
	svc := service.NewMarketService(engine, led, reg, nil, logger)

	srv := server.NewServer(server.Config{AuthEnabled: true, MaxSkew: time.Minute}, server.Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Market:   handler.NewMarketHandler(svc, logger),
		Listings: handler.NewListingHandler(svc, logger),
		Offers:   handler.NewOfferHandler(svc, logger),
		Assets:   handler.NewAssetHandler(svc, logger),
	}, server.Deps{Replay: memory.NewReplayGuard(time.Minute)}, nil, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return node{url: ts.URL, seller: seller, buyer: buyer}
}

func TestClientTradesAgainstNode(t *testing.T) {
	n := startNode(t)
	ctx := context.Background()
	seller := NewClient(n.url, n.seller)
	buyer := NewClient(n.url, n.buyer)
	id := uint256.NewInt(7)

	require.NoError(t, seller.Approve(ctx, assetAddr, id))
	_, err := seller.List(ctx, assetAddr, id, uint256.NewInt(10_000))
	require.NoError(t, err)

	raw, err := buyer.Buy(ctx, assetAddr, id, uint256.NewInt(12_000))
	require.NoError(t, err)
	var receipt domain.Receipt
	require.NoError(t, json.Unmarshal(raw, &receipt))
	assert.Equal(t, "100", receipt.Split.Fee.Dec())
	assert.Equal(t, "2000", receipt.Refund.Dec())

	owner, err := seller.OwnerOf(ctx, assetAddr, id)
	require.NoError(t, err)
	assert.Equal(t, n.buyer.Address(), owner)

	bal, err := seller.Balance(ctx, n.seller.Address())
	require.NoError(t, err)
	assert.Equal(t, "9900", bal.Dec())

	// The buyer now owns the item; an offer from the seller can be accepted.
	require.NoError(t, buyer.Approve(ctx, assetAddr, id))
	_, err = seller.MakeOffer(ctx, assetAddr, id, uint256.NewInt(5_000), time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = buyer.AcceptOffer(ctx, assetAddr, id, n.seller.Address())
	require.NoError(t, err)

	owner, err = buyer.OwnerOf(ctx, assetAddr, id)
	require.NoError(t, err)
	assert.Equal(t, n.seller.Address(), owner)
}

func TestClientMapsErrors(t *testing.T) {
	n := startNode(t)
	ctx := context.Background()
	id := uint256.NewInt(7)

	_, err := NewClient(n.url, n.buyer).Listing(ctx, assetAddr, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "state_conflict", apiErr.Category)

	_, err = NewClient(n.url, n.buyer).SetFeeRate(ctx, 50)
	require.ErrorIs(t, err, domain.ErrUnauthorized, "buyer is not the admin")

	_, err = NewClient(n.url, nil).List(ctx, assetAddr, id, uint256.NewInt(1))
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = NewClient(n.url, n.buyer).Events(ctx, 10)
	require.ErrorIs(t, err, domain.ErrNotFound, "history routes need postgres")
}

func TestClientSignsDistinctRequests(t *testing.T) {
	n := startNode(t)
	ctx := context.Background()
	c := NewClient(n.url, n.seller)
	c.now = func() time.Time { return time.Now().Truncate(time.Second) }

	_, err := c.SetFeeRate(ctx, 200)
	require.NoError(t, err)
	_, err = c.SetFeeRate(ctx, 300)
	require.NoError(t, err, "different body, different digest")

	raw, err := c.Config(ctx)
	require.NoError(t, err)
	var cfg struct {
		FeeRateBps uint16 `json:"fee_rate_bps"`
	}
	require.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, uint16(300), cfg.FeeRateBps)
}
