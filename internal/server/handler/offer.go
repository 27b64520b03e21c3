package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// OfferService covers the escrowed offer registry.
type OfferService interface {
	GetOffer(asset common.Address, tokenID *uint256.Int, buyer common.Address) (domain.Offer, error)
	MakeOffer(ctx context.Context, caller, asset common.Address, tokenID, amount *uint256.Int, expiresAt time.Time) error
	CancelOffer(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int) error
	AcceptOffer(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int, buyer common.Address) (*domain.Receipt, error)
}

// OfferHandler serves /api/offers.
type OfferHandler struct {
	offers OfferService
	logger *slog.Logger
}

func NewOfferHandler(offers OfferService, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{offers: offers, logger: logger}
}

type offerResponse struct {
	itemResponse
	domain.Offer
}

// GetOffer returns one buyer's offer on an item, expired or not.
// GET /api/offers/{asset}/{item}/{buyer}
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer, err := parseAddress(r.PathValue("buyer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "buyer: "+err.Error())
		return
	}
	o, err := h.offers.GetOffer(asset, tokenID, buyer)
	if err != nil {
		writeDomainError(w, r, h.logger, "get offer", err)
		return
	}
	writeJSON(w, http.StatusOK, offerResponse{newItemResponse(asset, tokenID), o})
}

type makeOfferRequest struct {
	Amount    string    `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MakeOffer escrows amount from the caller's balance as an offer on the
// item, replacing and refunding any previous offer by the caller.
// POST /api/offers/{asset}/{item}
func (h *OfferHandler) MakeOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req makeOfferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return
	}
	if err := h.offers.MakeOffer(r.Context(), caller, asset, tokenID, amount, req.ExpiresAt); err != nil {
		writeDomainError(w, r, h.logger, "make offer", err)
		return
	}
	o, err := h.offers.GetOffer(asset, tokenID, caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "make offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, offerResponse{newItemResponse(asset, tokenID), o})
}

// CancelOffer withdraws the caller's offer and refunds the escrow.
// DELETE /api/offers/{asset}/{item}
func (h *OfferHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.offers.CancelOffer(r.Context(), caller, asset, tokenID); err != nil {
		writeDomainError(w, r, h.logger, "cancel offer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcceptOffer sells the caller's item to buyer at the escrowed amount.
// POST /api/offers/{asset}/{item}/{buyer}/accept
func (h *OfferHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer, err := parseAddress(r.PathValue("buyer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "buyer: "+err.Error())
		return
	}
	receipt, err := h.offers.AcceptOffer(r.Context(), caller, asset, tokenID, buyer)
	if err != nil {
		writeDomainError(w, r, h.logger, "accept offer", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
