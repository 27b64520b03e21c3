package server

import (
	"bytes"
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
	"github.com/alanyoungcy/nftmarket/internal/ledger"
	"github.com/alanyoungcy/nftmarket/internal/market"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/service"
)

const sellerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	engineAddr = common.HexToAddress("0xe000000000000000000000000000000000000001")
	assetAddr  = common.HexToAddress("0xa55e700000000000000000000000000000000005")
)

func newTestServer(t *testing.T, rateLimit int) (http.Handler, *crypto.Signer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	seller, err := crypto.NewSigner(sellerKey)
	require.NoError(t, err)

	led := ledger.New()
	coll, err := collection.New(assetAddr, "Server Test", nil)
	require.NoError(t, err)
	require.NoError(t, coll.Mint(seller.Address(), uint256.NewInt(1)))
	reg := collection.NewRegistry()
	require.NoError(t, reg.Add(coll))

	engine, err := market.New(market.Config{
		Address:      engineAddr,
		Owner:        seller.Address(),
		FeeRateBps:   250,
		FeeRecipient: seller.Address(),
	}, reg, led, market.WithLogger(logger))
	require.NoError(t, err)
	led.SetHook(engineAddr, engine.Receive)
	svc := service.NewMarketService(engine, led, reg, nil, logger)

	srv := NewServer(Config{
		Port:        0,
		AuthEnabled: true,
		MaxSkew:     time.Minute,
		RateLimit:   rateLimit,
		RateWindow:  time.Minute,
	}, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Market:   handler.NewMarketHandler(svc, logger),
		Listings: handler.NewListingHandler(svc, logger),
		Offers:   handler.NewOfferHandler(svc, logger),
		Assets:   handler.NewAssetHandler(svc, logger),
	}, Deps{
		Replay:  memory.NewReplayGuard(time.Minute),
		Limiter: memory.NewRateLimiter(),
	}, nil, logger)
	return srv.Handler(), seller
}

func signed(t *testing.T, s *crypto.Signer, method, path string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	headers, err := s.Headers(time.Now(), method, path, body)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestSignedListingFlow(t *testing.T) {
	h, seller := newTestServer(t, 100)
	item := "/api/listings/" + assetAddr.Hex() + "/1"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, item, bytes.NewReader([]byte(`{"price":"100"}`))))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unsigned mutation")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed(t, seller, http.MethodPut, "/api/collections/"+assetAddr.Hex()+"/1/approval", nil))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed(t, seller, http.MethodPost, item, []byte(`{"price":"100"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, item, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Seller common.Address `json:"seller"`
		Price  string         `json:"price"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, seller.Address(), listing.Seller)
	assert.Equal(t, "100", listing.Price)
}

func TestHistoryRoutesAbsentWithoutStore(t *testing.T) {
	h, _ := newTestServer(t, 100)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sales", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerRateLimits(t *testing.T) {
	h, _ := newTestServer(t, 2)
	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/market/config", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
