package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

	"github.com/alanyoungcy/nftmarket/internal/collection"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
	"github.com/alanyoungcy/nftmarket/internal/market"
	"github.com/alanyoungcy/nftmarket/internal/server/middleware"
	"github.com/alanyoungcy/nftmarket/internal/service"
)

var (
	engineAddr = common.HexToAddress("0xe000000000000000000000000000000000000001")
	admin      = common.HexToAddress("0xad00000000000000000000000000000000000002")
	treasury   = common.HexToAddress("0x7e00000000000000000000000000000000000003")
	assetAddr  = common.HexToAddress("0xa55e700000000000000000000000000000000005")
	alice      = common.HexToAddress("0xa11ce00000000000000000000000000000000006")
	bob        = common.HexToAddress("0xb0b0000000000000000000000000000000000007")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMux wires the handlers over a fresh in-process market. Alice owns
// tokens 1-3; Bob holds 1,000,000 wei.
func newMux(t *testing.T) (*http.ServeMux, *service.MarketService) {
	t.Helper()
	led := ledger.New()
	coll, err := collection.New(assetAddr, "Handler Apes", &collection.Royalty{
		Receiver: common.HexToAddress("0xc0ffee0000000000000000000000000000000008"),
		RateBps:  500,
	})
	require.NoError(t, err)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, coll.Mint(alice, uint256.NewInt(i)))
	}
	reg := collection.NewRegistry()
	require.NoError(t, reg.Add(coll))
	require.NoError(t, led.Credit(bob, uint256.NewInt(1_000_000)))

	engine, err := market.New(market.Config{
		Address:      engineAddr,
		Owner:        admin,
		FeeRateBps:   250,
		FeeRecipient: treasury,
	}, reg, led, market.WithLogger(discardLogger()))
	require.NoError(t, err)
	led.SetHook(engineAddr, engine.Receive)

	svc := service.NewMarketService(engine, led, reg, nil, discardLogger())
	logger := discardLogger()
	mh := NewMarketHandler(svc, logger)
	lh := NewListingHandler(svc, logger)
	oh := NewOfferHandler(svc, logger)
	ah := NewAssetHandler(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/market/config", mh.GetConfig)
	mux.HandleFunc("PUT /api/market/fee-rate", mh.SetFeeRate)
	mux.HandleFunc("PUT /api/market/owner", mh.TransferOwnership)
	mux.HandleFunc("GET /api/listings/{asset}/{item}", lh.GetListing)
	mux.HandleFunc("POST /api/listings/{asset}/{item}", lh.CreateListing)
	mux.HandleFunc("PATCH /api/listings/{asset}/{item}", lh.UpdateListing)
	mux.HandleFunc("DELETE /api/listings/{asset}/{item}", lh.CancelListing)
	mux.HandleFunc("POST /api/listings/{asset}/{item}/buy", lh.Buy)
	mux.HandleFunc("GET /api/offers/{asset}/{item}/{buyer}", oh.GetOffer)
	mux.HandleFunc("POST /api/offers/{asset}/{item}", oh.MakeOffer)
	mux.HandleFunc("DELETE /api/offers/{asset}/{item}", oh.CancelOffer)
	mux.HandleFunc("POST /api/offers/{asset}/{item}/{buyer}/accept", oh.AcceptOffer)
	mux.HandleFunc("GET /api/collections", ah.ListCollections)
	mux.HandleFunc("GET /api/collections/{asset}/{item}/owner", ah.OwnerOf)
	mux.HandleFunc("PUT /api/collections/{asset}/{item}/approval", ah.ApproveItem)
	mux.HandleFunc("PUT /api/collections/{asset}/operators", ah.SetOperator)
	mux.HandleFunc("GET /api/accounts/{addr}/balance", ah.Balance)
	return mux, svc
}

// do sends a request as caller. A zero caller sends it unauthenticated.
func do(t *testing.T, mux http.Handler, caller common.Address, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != (common.Address{}) {
		req = req.WithContext(middleware.WithCaller(req.Context(), caller))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// addrOf reads an address from a decoded JSON value. Addresses are encoded
// lowercase, not checksummed.
func addrOf(t *testing.T, v any) common.Address {
	t.Helper()
	s, ok := v.(string)
	require.True(t, ok, "%v is not a string", v)
	require.True(t, common.IsHexAddress(s), s)
	return common.HexToAddress(s)
}

func itemPath(prefix string, id string) string {
	return prefix + "/" + assetAddr.Hex() + "/" + id
}

func TestListAndBuyOverHTTP(t *testing.T) {
	mux, svc := newMux(t)

	rec := do(t, mux, alice, http.MethodPost, itemPath("/api/listings", "1"), map[string]string{"price": "10000"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "listing without approval")
	assert.Equal(t, "authorization", decode(t, rec)["category"])

	rec = do(t, mux, alice, http.MethodPut, itemPath("/api/collections", "1")+"/approval", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, mux, alice, http.MethodPost, itemPath("/api/listings", "1"), map[string]string{"price": "10000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "1", body["token_id"])
	assert.Equal(t, "10000", body["price"])

	rec = do(t, mux, alice, http.MethodPatch, itemPath("/api/listings", "1"), map[string]string{"price": "0x4e20"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "20000", decode(t, rec)["price"])

	rec = do(t, mux, bob, http.MethodPost, itemPath("/api/listings", "1")+"/buy", map[string]string{"value": "19999"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = do(t, mux, bob, http.MethodPost, itemPath("/api/listings", "1")+"/buy", map[string]string{"value": "25000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt domain.Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, "500", receipt.Split.Fee.Dec())
	assert.Equal(t, "1000", receipt.Split.Royalty.Dec())
	assert.Equal(t, "18500", receipt.Split.Seller.Dec())
	assert.Equal(t, "5000", receipt.Refund.Dec())

	rec = do(t, mux, common.Address{}, http.MethodGet, itemPath("/api/collections", "1")+"/owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bob, addrOf(t, decode(t, rec)["owner"]))

	rec = do(t, mux, common.Address{}, http.MethodGet, itemPath("/api/listings", "1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, "980000", svc.Balance(bob).Dec())
}

func TestOfferLifecycleOverHTTP(t *testing.T) {
	mux, svc := newMux(t)
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	rec := do(t, mux, bob, http.MethodPost, itemPath("/api/offers", "2"),
		map[string]any{"amount": "4000", "expires_at": expires})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "4000", decode(t, rec)["amount"])
	assert.Equal(t, "4000", svc.Balance(engineAddr).Dec())

	rec = do(t, mux, common.Address{}, http.MethodGet, itemPath("/api/offers", "2")+"/"+bob.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bob, addrOf(t, decode(t, rec)["buyer"]))

	rec = do(t, mux, bob, http.MethodPost, itemPath("/api/offers", "2")+"/"+bob.Hex()+"/accept", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the item owner accepts")

	require.Equal(t, http.StatusNoContent,
		do(t, mux, alice, http.MethodPut, itemPath("/api/collections", "2")+"/approval", nil).Code)
	rec = do(t, mux, alice, http.MethodPost, itemPath("/api/offers", "2")+"/"+bob.Hex()+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "0", svc.Balance(engineAddr).Dec())

	rec = do(t, mux, bob, http.MethodDelete, itemPath("/api/offers", "2"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOfferRefunds(t *testing.T) {
	mux, svc := newMux(t)
	rec := do(t, mux, bob, http.MethodPost, itemPath("/api/offers", "3"),
		map[string]any{"amount": "700", "expires_at": time.Now().Add(time.Hour)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, mux, bob, http.MethodDelete, itemPath("/api/offers", "3"), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1000000", svc.Balance(bob).Dec())
}

func TestMutationsRequireCaller(t *testing.T) {
	mux, _ := newMux(t)
	cases := []struct{ method, path string }{
		{http.MethodPost, itemPath("/api/listings", "1")},
		{http.MethodDelete, itemPath("/api/listings", "1")},
		{http.MethodPost, itemPath("/api/offers", "1")},
		{http.MethodPut, "/api/market/fee-rate"},
		{http.MethodPut, "/api/collections/" + assetAddr.Hex() + "/operators"},
	}
	for _, tc := range cases {
		rec := do(t, mux, common.Address{}, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestBadRequests(t *testing.T) {
	mux, _ := newMux(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"bad asset", http.MethodGet, "/api/listings/nope/1", nil},
		{"zero asset", http.MethodGet, "/api/listings/" + common.Address{}.Hex() + "/1", nil},
		{"bad token", http.MethodGet, itemPath("/api/listings", "x1"), nil},
		{"bad price", http.MethodPost, itemPath("/api/listings", "1"), map[string]string{"price": "-5"}},
		{"unknown field", http.MethodPost, itemPath("/api/listings", "1"), map[string]string{"cost": "5"}},
		{"bad buyer", http.MethodGet, itemPath("/api/offers", "1") + "/bob", nil},
		{"bad balance addr", http.MethodGet, "/api/accounts/0x12/balance", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, mux, alice, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestAdminOverHTTP(t *testing.T) {
	mux, _ := newMux(t)

	rec := do(t, mux, alice, http.MethodPut, "/api/market/fee-rate", map[string]int{"fee_rate_bps": 100})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, mux, admin, http.MethodPut, "/api/market/fee-rate", map[string]int{"fee_rate_bps": 1001})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, admin, http.MethodPut, "/api/market/fee-rate", map[string]int{"fee_rate_bps": 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 100, decode(t, rec)["fee_rate_bps"])

	rec = do(t, mux, admin, http.MethodPut, "/api/market/owner", map[string]string{"address": bob.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, mux, common.Address{}, http.MethodGet, "/api/market/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bob, addrOf(t, decode(t, rec)["owner"]))
}

func TestCollectionsAndBalance(t *testing.T) {
	mux, _ := newMux(t)

	rec := do(t, mux, common.Address{}, http.MethodGet, "/api/collections", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Collections []service.CollectionInfo `json:"collections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Collections, 1)
	assert.Equal(t, "handler-apes", body.Collections[0].Slug)

	rec = do(t, mux, alice, http.MethodPut, "/api/collections/"+assetAddr.Hex()+"/operators",
		map[string]any{"operator": engineAddr.Hex(), "approved": true})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, mux, common.Address{}, http.MethodGet, "/api/accounts/"+bob.Hex()+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000000", decode(t, rec)["balance"])
}

func TestHistoryHandler(t *testing.T) {
	hist := &fakeHistory{}
	h := NewHistoryHandler(hist, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sales", h.ListSales)
	mux.HandleFunc("GET /api/events", h.ListEvents)
	mux.HandleFunc("GET /api/listings/{asset}", h.ListListings)
	mux.HandleFunc("GET /api/offers/{asset}/{item}", h.ListOffers)

	hist.listings = []domain.ListingView{{
		Item:    domain.NewItemKey(assetAddr, uint256.NewInt(9)),
		Listing: domain.Listing{Seller: alice, Price: uint256.NewInt(77)},
	}}
	rec := do(t, mux, common.Address{}, http.MethodGet, "/api/listings/"+assetAddr.Hex()+"?limit=900&offset=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, hist.opts.Limit)
	assert.Equal(t, 2, hist.opts.Offset)
	listings := decode(t, rec)["listings"].([]any)
	require.Len(t, listings, 1)
	assert.Equal(t, "9", listings[0].(map[string]any)["token_id"])
	assert.Equal(t, "77", listings[0].(map[string]any)["price"])

	hist.offers = []domain.OfferView{{
		Item:  domain.NewItemKey(assetAddr, uint256.NewInt(9)),
		Offer: domain.Offer{Buyer: bob, Amount: uint256.NewInt(5), ExpiresAt: time.Now().Add(-time.Minute)},
	}}
	rec = do(t, mux, common.Address{}, http.MethodGet, itemPath("/api/offers", "9"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	offers := decode(t, rec)["offers"].([]any)
	assert.Equal(t, true, offers[0].(map[string]any)["expired"])

	rec = do(t, mux, common.Address{}, http.MethodGet, "/api/sales?asset="+assetAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, hist.salesAsset)
	assert.Equal(t, assetAddr, *hist.salesAsset)
	assert.Equal(t, []any{}, decode(t, rec)["sales"])

	hist.err = errors.New("connection refused")
	rec = do(t, mux, common.Address{}, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("down") },
	}, discardLogger())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"postgres": "up", "redis": "down"}, body["dependencies"])

	h = NewHealthHandler(nil, discardLogger())
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeHistory struct {
	listings   []domain.ListingView
	offers     []domain.OfferView
	opts       domain.ListOpts
	salesAsset *common.Address
	err        error
}

func (f *fakeHistory) Listings(_ context.Context, _ common.Address, opts domain.ListOpts) ([]domain.ListingView, error) {
	f.opts = opts
	return f.listings, f.err
}

func (f *fakeHistory) Offers(_ context.Context, _ domain.ItemKey, opts domain.ListOpts) ([]domain.OfferView, error) {
	f.opts = opts
	return f.offers, f.err
}

func (f *fakeHistory) Sales(_ context.Context, asset *common.Address, opts domain.ListOpts) ([]domain.Receipt, error) {
	f.opts = opts
	f.salesAsset = asset
	return nil, f.err
}

func (f *fakeHistory) Events(_ context.Context, opts domain.ListOpts) ([]domain.StoredEvent, error) {
	f.opts = opts
	return nil, f.err
}
