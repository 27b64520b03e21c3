package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ListingService covers the listing registry and direct purchases.
type ListingService interface {
	GetListing(asset common.Address, tokenID *uint256.Int) (domain.Listing, error)
	List(ctx context.Context, caller, asset common.Address, tokenID, price *uint256.Int) error
	UpdateListing(ctx context.Context, caller, asset common.Address, tokenID, price *uint256.Int) error
	CancelListing(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int) error
	Buy(ctx context.Context, caller, asset common.Address, tokenID, paid *uint256.Int) (*domain.Receipt, error)
}

// ListingHandler serves /api/listings.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, logger: logger}
}

type listingResponse struct {
	itemResponse
	domain.Listing
}

// GetListing returns the active listing of an item.
// GET /api/listings/{asset}/{item}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.listings.GetListing(asset, tokenID)
	if err != nil {
		writeDomainError(w, r, h.logger, "get listing", err)
		return
	}
	writeJSON(w, http.StatusOK, listingResponse{newItemResponse(asset, tokenID), l})
}

type priceRequest struct {
	Price string `json:"price"`
}

// CreateListing lists the caller's item at a fixed price.
// POST /api/listings/{asset}/{item}
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	h.withPrice(w, r, "list item", http.StatusCreated, h.listings.List)
}

// UpdateListing changes the price of the caller's listing.
// PATCH /api/listings/{asset}/{item}
func (h *ListingHandler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	h.withPrice(w, r, "update listing", http.StatusOK, h.listings.UpdateListing)
}

// CancelListing removes the caller's listing.
// DELETE /api/listings/{asset}/{item}
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.listings.CancelListing(r.Context(), caller, asset, tokenID); err != nil {
		writeDomainError(w, r, h.logger, "cancel listing", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type buyRequest struct {
	Value string `json:"value"`
}

// Buy purchases a listed item, paying value from the caller's balance. Any
// excess over the price is refunded.
// POST /api/listings/{asset}/{item}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	paid, err := parseAmount(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "value: "+err.Error())
		return
	}
	receipt, err := h.listings.Buy(r.Context(), caller, asset, tokenID, paid)
	if err != nil {
		writeDomainError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *ListingHandler) withPrice(w http.ResponseWriter, r *http.Request, op string, status int,
	apply func(context.Context, common.Address, common.Address, *uint256.Int, *uint256.Int) error,
) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "price: "+err.Error())
		return
	}
	if err := apply(r.Context(), caller, asset, tokenID, price); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	l, err := h.listings.GetListing(asset, tokenID)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, status, listingResponse{newItemResponse(asset, tokenID), l})
}
