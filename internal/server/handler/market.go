package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/service"
)

// AdminService is the admin configuration surface of the marketplace.
type AdminService interface {
	Config() service.MarketConfig
	SetFeeRate(ctx context.Context, caller common.Address, rateBps uint16) error
	SetFeeRecipient(ctx context.Context, caller, recipient common.Address) error
	TransferOwnership(ctx context.Context, caller, newOwner common.Address) error
}

// MarketHandler serves the marketplace configuration endpoints.
type MarketHandler struct {
	admin  AdminService
	logger *slog.Logger
}

func NewMarketHandler(admin AdminService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{admin: admin, logger: logger}
}

// GetConfig returns the fee rate, fee recipient, owner and engine address.
// GET /api/market/config
func (h *MarketHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Config())
}

type feeRateRequest struct {
	FeeRateBps *int `json:"fee_rate_bps"`
}

// SetFeeRate changes the marketplace fee. Owner only.
// PUT /api/market/fee-rate
func (h *MarketHandler) SetFeeRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req feeRateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FeeRateBps == nil || *req.FeeRateBps < 0 || *req.FeeRateBps > 0xffff {
		writeError(w, http.StatusBadRequest, "fee_rate_bps must be an integer between 0 and 65535")
		return
	}
	if err := h.admin.SetFeeRate(r.Context(), caller, uint16(*req.FeeRateBps)); err != nil {
		writeDomainError(w, r, h.logger, "set fee rate", err)
		return
	}
	writeJSON(w, http.StatusOK, h.admin.Config())
}

type addressRequest struct {
	Address string `json:"address"`
}

// SetFeeRecipient changes where fees are paid. Owner only.
// PUT /api/market/fee-recipient
func (h *MarketHandler) SetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	h.updateAddress(w, r, "set fee recipient", h.admin.SetFeeRecipient)
}

// TransferOwnership hands the admin role to another account. Owner only.
// PUT /api/market/owner
func (h *MarketHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	h.updateAddress(w, r, "transfer ownership", h.admin.TransferOwnership)
}

func (h *MarketHandler) updateAddress(w http.ResponseWriter, r *http.Request, op string, apply func(context.Context, common.Address, common.Address) error) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		writeError(w, http.StatusBadRequest, "address must be a hex address")
		return
	}
	if err := apply(r.Context(), caller, common.HexToAddress(req.Address)); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, h.admin.Config())
}
