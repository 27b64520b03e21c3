package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// HistoryReader serves the persisted read model.
type HistoryReader interface {
	Listings(ctx context.Context, asset common.Address, opts domain.ListOpts) ([]domain.ListingView, error)
	Offers(ctx context.Context, item domain.ItemKey, opts domain.ListOpts) ([]domain.OfferView, error)
	Sales(ctx context.Context, asset *common.Address, opts domain.ListOpts) ([]domain.Receipt, error)
	Events(ctx context.Context, opts domain.ListOpts) ([]domain.StoredEvent, error)
}

// HistoryHandler serves event, sale and projection queries.
type HistoryHandler struct {
	history HistoryReader
	logger  *slog.Logger
}

func NewHistoryHandler(history HistoryReader, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, logger: logger}
}

type listingViewResponse struct {
	itemResponse
	domain.Listing
}

type offerViewResponse struct {
	itemResponse
	domain.Offer
	Expired bool `json:"expired"`
}

// ListListings returns the active listings of a collection.
// GET /api/listings/{asset}
func (h *HistoryHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(r.PathValue("asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "asset: "+err.Error())
		return
	}
	views, err := h.history.Listings(r.Context(), asset, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list listings", err)
		return
	}
	out := make([]listingViewResponse, 0, len(views))
	for _, v := range views {
		out = append(out, listingViewResponse{newItemResponse(v.Item.Asset, v.Item.Token()), v.Listing})
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out})
}

// ListOffers returns the open offers on an item.
// GET /api/offers/{asset}/{item}
func (h *HistoryHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	views, err := h.history.Offers(r.Context(), domain.NewItemKey(asset, tokenID), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list offers", err)
		return
	}
	now := time.Now()
	out := make([]offerViewResponse, 0, len(views))
	for _, v := range views {
		out = append(out, offerViewResponse{
			itemResponse: newItemResponse(asset, tokenID),
			Offer:        v.Offer,
			Expired:      v.Offer.Expired(now),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": out})
}

// ListSales returns settled sales, newest first, optionally for one asset.
// GET /api/sales?asset=0x..
func (h *HistoryHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	var asset *common.Address
	if v := r.URL.Query().Get("asset"); v != "" {
		a, err := parseAddress(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "asset: "+err.Error())
			return
		}
		asset = &a
	}
	sales, err := h.history.Sales(r.Context(), asset, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list sales", err)
		return
	}
	if sales == nil {
		sales = []domain.Receipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

// ListEvents returns the committed event log in sequence order.
// GET /api/events
func (h *HistoryHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.history.Events(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.StoredEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
