// Package market implements the settlement engine: the listing and offer
// registries, the admin fee configuration and the buy / accept-offer flows
// that move assets and value between seller, buyer, fee recipient and
// royalty recipient.
//
// Every state-mutating entry point runs as one transaction. A fail-fast
// guard rejects nested entry, registry state is mutated before any call into
// a collaborator, and on failure every journaled effect (registry writes,
// ledger transfers, asset transfers) is reverted and buffered events are
// dropped.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/journal"
)

// Config holds the engine's identity and initial admin configuration.
type Config struct {
	// Address is the engine's own account. Escrowed offers are held here and
	// it is the operator used for asset transfers.
	Address      common.Address
	Owner        common.Address
	FeeRateBps   uint16
	FeeRecipient common.Address
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for listing timestamps and offer
// expiry checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStartSeq continues event numbering after seq, so envelopes stay
// unique across restarts that share a persisted event log.
func WithStartSeq(seq uint64) Option {
	return func(e *Engine) { e.seq = seq }
}

// Engine is a single marketplace instance.
type Engine struct {
	self   common.Address
	assets domain.CollectionResolver
	value  domain.ValueTransferer
	now    func() time.Time
	logger *slog.Logger

	guard guard

	// mu protects the fields below for concurrent readers. It is never held
	// across a call into a collaborator.
	mu       sync.RWMutex
	owner    common.Address
	fees     domain.FeeConfig
	listings map[domain.ItemKey]domain.Listing
	offers   map[domain.OfferKey]domain.Offer

	seq  uint64
	feed event.Feed
}

// New creates an Engine. It fails with domain.ErrFeeTooHigh when the initial
// rate exceeds domain.MaxFeeRateBps and domain.ErrInvalidAddress when the
// fee recipient, owner or engine address is the zero address.
func New(cfg Config, assets domain.CollectionResolver, value domain.ValueTransferer, opts ...Option) (*Engine, error) {
	if cfg.FeeRateBps > domain.MaxFeeRateBps {
		return nil, fmt.Errorf("market: new: %w", domain.ErrFeeTooHigh)
	}
	if cfg.FeeRecipient == (common.Address{}) {
		return nil, fmt.Errorf("market: new: fee recipient: %w", domain.ErrInvalidAddress)
	}
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("market: new: owner: %w", domain.ErrInvalidAddress)
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("market: new: engine address: %w", domain.ErrInvalidAddress)
	}

	e := &Engine{
		self:     cfg.Address,
		assets:   assets,
		value:    value,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
		owner:    cfg.Owner,
		fees:     domain.FeeConfig{RateBps: cfg.FeeRateBps, Recipient: cfg.FeeRecipient},
		listings: make(map[domain.ItemKey]domain.Listing),
		offers:   make(map[domain.OfferKey]domain.Offer),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "market"))
	return e, nil
}

// Address returns the engine's own account.
func (e *Engine) Address() common.Address { return e.self }

// SubscribeEvents delivers every committed event envelope to ch, in commit
// order. Sends block until ch accepts, so ch should be buffered and drained.
func (e *Engine) SubscribeEvents(ch chan<- domain.Envelope) event.Subscription {
	return e.feed.Subscribe(ch)
}

// Receive is the engine's receive hook on the value ledger. Value only
// enters the engine while one of its own operations is collecting payment.
func (e *Engine) Receive(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if tx, ok := txFromContext(ctx); ok && tx.engine == e && tx.collecting {
		return nil
	}
	e.logger.WarnContext(ctx, "rejected unsolicited value",
		slog.String("from", from.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return domain.ErrUnsolicitedValue
}

type txKey struct{}

// txn is the state of one in-flight transaction.
type txn struct {
	id         string
	op         string
	engine     *Engine
	journal    *journal.Journal
	events     []domain.Event
	receipt    *domain.Receipt
	collecting bool
}

func txFromContext(ctx context.Context) (*txn, bool) {
	tx, ok := ctx.Value(txKey{}).(*txn)
	return tx, ok
}

func (tx *txn) emit(ev domain.Event) {
	tx.events = append(tx.events, ev)
}

// collect pulls amount from payer into the engine account.
func (tx *txn) collect(ctx context.Context, payer common.Address, amount *uint256.Int) error {
	tx.collecting = true
	defer func() { tx.collecting = false }()
	if err := tx.engine.value.Transfer(ctx, payer, tx.engine.self, amount); err != nil {
		return fmt.Errorf("collect payment: %w", err)
	}
	return nil
}

// pay sends amount from the engine account to recipient. Zero amounts are
// skipped.
func (tx *txn) pay(ctx context.Context, recipient common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := tx.engine.value.Transfer(ctx, tx.engine.self, recipient, amount); err != nil {
		return fmt.Errorf("pay %s: %w", recipient.Hex(), err)
	}
	return nil
}

// execute runs fn as a single transaction.
func (e *Engine) execute(ctx context.Context, op string, fn func(ctx context.Context, tx *txn) error) (*txn, error) {
	if !e.guard.enter() {
		return nil, fmt.Errorf("market: %s: %w", op, domain.ErrReentrantCall)
	}
	defer e.guard.exit()

	tx := &txn{
		id:      uuid.NewString(),
		op:      op,
		engine:  e,
		journal: journal.New(),
	}
	ctx = journal.WithJournal(ctx, tx.journal)
	ctx = context.WithValue(ctx, txKey{}, tx)

	committed := false
	defer func() {
		if !committed {
			tx.journal.Revert()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		e.logger.DebugContext(ctx, "transaction reverted",
			slog.String("tx_id", tx.id),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("market: %s: %w", op, err)
	}

	committed = true
	tx.journal.Discard()
	e.publish(tx)
	return tx, nil
}

// publish stamps and delivers the buffered events of a committed tx. It runs
// while the guard is held so sequence numbers follow commit order.
func (e *Engine) publish(tx *txn) {
	at := e.now()
	for i, ev := range tx.events {
		e.seq++
		env := domain.Envelope{
			Seq:     e.seq,
			TxID:    tx.id,
			Kind:    ev.Kind(),
			At:      at,
			Payload: ev,
		}
		if i == len(tx.events)-1 {
			env.Receipt = tx.receipt
		}
		e.feed.Send(env)
	}
	e.logger.Debug("transaction committed",
		slog.String("tx_id", tx.id),
		slog.String("op", tx.op),
		slog.Int("events", len(tx.events)),
	)
}

// resolve returns the registry for asset.
func (e *Engine) resolve(asset common.Address) (domain.AssetRegistry, error) {
	coll, err := e.assets.Collection(asset)
	if err != nil {
		return nil, err
	}
	return coll, nil
}

// requireApproval checks that the engine may transfer tokenID on behalf of
// owner, through either an item-level or a blanket approval.
func (e *Engine) requireApproval(ctx context.Context, coll domain.AssetRegistry, owner common.Address, tokenID *uint256.Int) error {
	approved, err := coll.GetApproved(ctx, tokenID)
	if err != nil {
		return err
	}
	if approved == e.self {
		return nil
	}
	all, err := coll.IsApprovedForAll(ctx, owner, e.self)
	if err != nil {
		return err
	}
	if !all {
		return domain.ErrNotApproved
	}
	return nil
}

// requireOwner checks that caller currently owns tokenID.
func requireOwner(ctx context.Context, coll domain.AssetRegistry, caller common.Address, tokenID *uint256.Int) error {
	owner, err := coll.OwnerOf(ctx, tokenID)
	if err != nil {
		return err
	}
	if owner != caller {
		return domain.ErrNotOwner
	}
	return nil
}

func positive(v *uint256.Int) bool {
	return v != nil && !v.IsZero()
}
