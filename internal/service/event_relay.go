package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/notify"
)

// EventsChannel is the signal bus channel carrying committed envelopes.
const EventsChannel = "market:events"

// EventSource delivers committed envelopes.
type EventSource interface {
	SubscribeEvents(ch chan<- domain.Envelope) event.Subscription
}

// EventRelay fans committed engine events out to the event log, the read
// models, the signal bus and the notifier. Every sink is optional.
//
// The engine blocks on delivery, so only the store sinks run inline. Sale
// alerts go through a bounded queue drained by a separate goroutine; when the
// queue is full the alert is dropped.
type EventRelay struct {
	source   EventSource
	events   domain.EventStore
	views    domain.ProjectionStore
	sales    domain.SaleStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	alerts   chan alert
	buffer   int
	logger   *slog.Logger
}

type alert struct {
	kind, title, msg string
}

// NewEventRelay creates an EventRelay reading from source.
func NewEventRelay(
	source EventSource,
	events domain.EventStore,
	views domain.ProjectionStore,
	sales domain.SaleStore,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *EventRelay {
	return &EventRelay{
		source:   source,
		events:   events,
		views:    views,
		sales:    sales,
		bus:      bus,
		notifier: notifier,
		alerts:   make(chan alert, 64),
		buffer:   256,
		logger:   logger.With(slog.String("component", "event_relay")),
	}
}

// Run consumes events until ctx is cancelled or the subscription fails.
func (r *EventRelay) Run(ctx context.Context) error {
	ch := make(chan domain.Envelope, r.buffer)
	sub := r.source.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	alertCtx, stopAlerts := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.deliverAlerts(alertCtx)
	}()
	defer func() {
		stopAlerts()
		wg.Wait()
	}()

	r.logger.InfoContext(ctx, "event relay started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				return nil
			}
			return fmt.Errorf("event_relay: subscription: %w", err)
		case env := <-ch:
			r.Handle(ctx, env)
		}
	}
}

// Handle delivers a single envelope to every configured sink. Sink failures
// are logged and do not stop delivery to the remaining sinks.
func (r *EventRelay) Handle(ctx context.Context, env domain.Envelope) {
	log := r.logger.With(
		slog.Uint64("seq", env.Seq),
		slog.String("kind", string(env.Kind)),
		slog.String("tx_id", env.TxID),
	)

	if r.events != nil {
		if err := r.events.Append(ctx, []domain.Envelope{env}); err != nil {
			log.ErrorContext(ctx, "event_relay: append event failed", slog.String("error", err.Error()))
		}
	}
	if r.views != nil {
		if err := r.views.Apply(ctx, env); err != nil {
			log.ErrorContext(ctx, "event_relay: apply projection failed", slog.String("error", err.Error()))
		}
	}
	if r.sales != nil && env.Receipt != nil {
		if err := r.sales.Insert(ctx, *env.Receipt); err != nil {
			log.ErrorContext(ctx, "event_relay: insert sale failed", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		payload, err := json.Marshal(env)
		if err != nil {
			log.ErrorContext(ctx, "event_relay: marshal envelope failed", slog.String("error", err.Error()))
		} else if err := r.bus.Publish(ctx, EventsChannel, payload); err != nil {
			log.WarnContext(ctx, "event_relay: publish failed", slog.String("error", err.Error()))
		}
	}
	if r.notifier != nil && env.Receipt != nil {
		title, msg := saleMessage(env)
		select {
		case r.alerts <- alert{kind: string(env.Kind), title: title, msg: msg}:
		default:
			log.WarnContext(ctx, "event_relay: alert queue full, dropping notification")
		}
	}
}

// deliverAlerts sends queued sale alerts until ctx is cancelled.
func (r *EventRelay) deliverAlerts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-r.alerts:
			if err := r.notifier.Notify(ctx, a.kind, a.title, a.msg); err != nil {
				r.logger.WarnContext(ctx, "event_relay: notify failed",
					slog.String("kind", a.kind),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func saleMessage(env domain.Envelope) (string, string) {
	r := env.Receipt
	title := fmt.Sprintf("Sale settled: %s #%s", r.Asset.Hex(), r.TokenID.Dec())
	msg := fmt.Sprintf("%s sold to %s for %s (fee %s, royalty %s, seller %s)",
		r.Seller.Hex(), r.Buyer.Hex(),
		r.Split.Price.Dec(), r.Split.Fee.Dec(), r.Split.Royalty.Dec(), r.Split.Seller.Dec(),
	)
	if r.Refund != nil && !r.Refund.IsZero() {
		msg += fmt.Sprintf(", refunded %s", r.Refund.Dec())
	}
	return title, msg
}
