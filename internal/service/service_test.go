package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
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
	"github.com/alanyoungcy/nftmarket/internal/notify"
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

type world struct {
	ledger *ledger.Ledger
	coll   *collection.Collection
	engine *market.Engine
	audit  *fakeAudit
	svc    *MarketService
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{ledger: ledger.New(), audit: &fakeAudit{}}

	coll, err := collection.New(assetAddr, "Test", nil)
	require.NoError(t, err)
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, coll.Mint(alice, uint256.NewInt(i)))
	}
	reg := collection.NewRegistry()
	require.NoError(t, reg.Add(coll))
	w.coll = coll
	require.NoError(t, w.ledger.Credit(bob, uint256.NewInt(1_000_000)))

	w.engine, err = market.New(market.Config{
		Address:      engineAddr,
		Owner:        admin,
		FeeRateBps:   250,
		FeeRecipient: treasury,
	}, reg, w.ledger, market.WithLogger(discardLogger()))
	require.NoError(t, err)
	w.ledger.SetHook(engineAddr, w.engine.Receive)

	w.svc = NewMarketService(w.engine, w.ledger, reg, w.audit, discardLogger())
	return w
}

func TestMarketServiceSerializesConcurrentCallers(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = w.svc.MakeOffer(ctx, bob, assetAddr, uint256.NewInt(uint64(i+1)), uint256.NewInt(1000), expiry)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, "4000", w.svc.Balance(engineAddr).Dec())
}

func TestMarketServiceApprovalAndSale(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	id := uint256.NewInt(1)

	err := w.svc.List(ctx, alice, assetAddr, id, uint256.NewInt(10_000))
	require.ErrorIs(t, err, domain.ErrNotApproved)

	require.NoError(t, w.svc.ApproveItem(ctx, alice, assetAddr, id))
	require.NoError(t, w.svc.List(ctx, alice, assetAddr, id, uint256.NewInt(10_000)))

	l, err := w.svc.GetListing(assetAddr, id)
	require.NoError(t, err)
	assert.Equal(t, alice, l.Seller)

	receipt, err := w.svc.Buy(ctx, bob, assetAddr, id, uint256.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, "250", receipt.Split.Fee.Dec())

	owner, err := w.svc.OwnerOf(ctx, assetAddr, id)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)

	_, err = w.svc.GetListing(assetAddr, id)
	require.ErrorIs(t, err, domain.ErrNotListed)

	err = w.svc.ApproveItem(ctx, alice, common.HexToAddress("0x01"), id)
	require.ErrorIs(t, err, domain.ErrUnknownAsset)
}

func TestMarketServiceAuditsAdminChanges(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	require.ErrorIs(t, w.svc.SetFeeRate(ctx, bob, 100), domain.ErrNotAdmin)
	require.NoError(t, w.svc.SetFeeRate(ctx, admin, 100))
	require.NoError(t, w.svc.SetFeeRecipient(ctx, admin, bob))
	require.NoError(t, w.svc.TransferOwnership(ctx, admin, alice))

	cfg := w.svc.Config()
	assert.Equal(t, uint16(100), cfg.FeeRateBps)
	assert.Equal(t, bob, cfg.FeeRecipient)
	assert.Equal(t, alice, cfg.Owner)
	assert.Equal(t, engineAddr, cfg.Engine)
	assert.Equal(t, []string{"fee_rate_updated", "fee_recipient_updated", "ownership_transferred"}, w.audit.events())
}

func TestEventRelayFansOut(t *testing.T) {
	w := newWorld(t)
	events := &fakeEventStore{}
	views := &fakeProjections{}
	sales := &fakeSales{}
	bus := &fakeBus{}
	sender := &fakeSender{}
	relay := NewEventRelay(w.engine, events, views, sales, bus,
		notify.NewNotifier([]notify.Sender{sender}, nil, discardLogger()), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	// The relay subscribes asynchronously.
	require.Eventually(t, func() bool {
		_ = w.svc.SetFeeRate(context.Background(), admin, 250)
		return events.len() > 0
	}, time.Second, 10*time.Millisecond)

	id := uint256.NewInt(2)
	require.NoError(t, w.svc.ApproveItem(ctx, alice, assetAddr, id))
	require.NoError(t, w.svc.List(ctx, alice, assetAddr, id, uint256.NewInt(500)))
	_, err := w.svc.Buy(ctx, bob, assetAddr, id, uint256.NewInt(500))
	require.NoError(t, err)

	// Alerts are queued after the store sinks have run.
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 1, sales.len())
	assert.Equal(t, events.len(), views.len())
	assert.Equal(t, events.len(), bus.len())

	var env struct {
		Kind    domain.EventKind `json:"kind"`
		Receipt *domain.Receipt  `json:"receipt"`
	}
	require.NoError(t, json.Unmarshal(bus.last(), &env))
	assert.Equal(t, domain.KindItemBought, env.Kind)
	require.NotNil(t, env.Receipt)
	assert.Equal(t, "500", env.Receipt.Split.Price.Dec())
}

func TestEventRelaySlowNotifierDoesNotStallTrading(t *testing.T) {
	w := newWorld(t)
	events := &fakeEventStore{}
	sales := &fakeSales{}
	sender := &fakeSender{gate: make(chan struct{})}
	relay := NewEventRelay(w.engine, events, nil, sales, nil,
		notify.NewNotifier([]notify.Sender{sender}, nil, discardLogger()), discardLogger())
	relay.buffer = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	require.Eventually(t, func() bool {
		_ = w.svc.SetFeeRate(context.Background(), admin, 250)
		return events.len() > 0
	}, time.Second, 10*time.Millisecond)

	// Every sale queues an alert that the gated sender cannot deliver yet.
	for i := uint64(1); i <= 4; i++ {
		id := uint256.NewInt(i)
		require.NoError(t, w.svc.ApproveItem(ctx, alice, assetAddr, id))
		require.NoError(t, w.svc.List(ctx, alice, assetAddr, id, uint256.NewInt(100)))
		_, err := w.svc.Buy(ctx, bob, assetAddr, id, uint256.NewInt(100))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return sales.len() == 4 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, sender.count())

	close(sender.gate)
	require.Eventually(t, func() bool { return sender.count() == 4 }, time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

// --- fakes ---

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditEntry(nil), f.entries...), nil
}

func (f *fakeAudit) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Event)
	}
	return out
}

type fakeEventStore struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (f *fakeEventStore) Append(_ context.Context, envs []domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs = append(f.envs, envs...)
	return nil
}

func (f *fakeEventStore) List(context.Context, domain.ListOpts) ([]domain.StoredEvent, error) {
	return nil, nil
}

func (f *fakeEventStore) ListBefore(context.Context, time.Time) ([]domain.StoredEvent, error) {
	return nil, nil
}

func (f *fakeEventStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeEventStore) LastSeq(context.Context) (int64, error) { return 0, nil }

func (f *fakeEventStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.envs)
}

type fakeProjections struct {
	mu sync.Mutex
	n  int
}

func (f *fakeProjections) Apply(context.Context, domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return nil
}

func (f *fakeProjections) Reset(context.Context) error { return nil }

func (f *fakeProjections) ListListings(context.Context, common.Address, domain.ListOpts) ([]domain.ListingView, error) {
	return nil, nil
}

func (f *fakeProjections) ListOffers(context.Context, domain.ItemKey, domain.ListOpts) ([]domain.OfferView, error) {
	return nil, nil
}

func (f *fakeProjections) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

type fakeSales struct {
	mu       sync.Mutex
	receipts []domain.Receipt
}

func (f *fakeSales) Insert(_ context.Context, r domain.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, r)
	return nil
}

func (f *fakeSales) ListRecent(context.Context, domain.ListOpts) ([]domain.Receipt, error) {
	return nil, nil
}

func (f *fakeSales) ListByAsset(context.Context, common.Address, domain.ListOpts) ([]domain.Receipt, error) {
	return nil, nil
}

func (f *fakeSales) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receipts)
}

type fakeBus struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (f *fakeBus) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeBus) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

type fakeSender struct {
	mu sync.Mutex
	n  int
	// gate, when set, holds every Send until it is closed or ctx ends.
	gate chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, _, _ string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}
