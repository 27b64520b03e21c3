package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/service"
)

// AssetService exposes the in-process collections and value ledger.
type AssetService interface {
	Collections() []service.CollectionInfo
	OwnerOf(ctx context.Context, asset common.Address, tokenID *uint256.Int) (common.Address, error)
	ApproveItem(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int) error
	SetOperator(ctx context.Context, caller, asset, operator common.Address, approved bool) error
	Balance(addr common.Address) *uint256.Int
}

// AssetHandler serves collection, approval and balance endpoints.
type AssetHandler struct {
	assets AssetService
	logger *slog.Logger
}

func NewAssetHandler(assets AssetService, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{assets: assets, logger: logger}
}

// ListCollections returns every registered collection with its slug.
// GET /api/collections
func (h *AssetHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"collections": h.assets.Collections()})
}

// OwnerOf returns the current owner of an item.
// GET /api/collections/{asset}/{item}/owner
func (h *AssetHandler) OwnerOf(w http.ResponseWriter, r *http.Request) {
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := h.assets.OwnerOf(r.Context(), asset, tokenID)
	if err != nil {
		writeDomainError(w, r, h.logger, "owner of", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":    asset,
		"token_id": tokenID.Dec(),
		"owner":    owner,
	})
}

// ApproveItem approves the marketplace to transfer one of the caller's items.
// PUT /api/collections/{asset}/{item}/approval
func (h *AssetHandler) ApproveItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	asset, tokenID, err := pathItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.assets.ApproveItem(r.Context(), caller, asset, tokenID); err != nil {
		writeDomainError(w, r, h.logger, "approve item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type operatorRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

// SetOperator grants or revokes an operator over all of the caller's items.
// PUT /api/collections/{asset}/operators
func (h *AssetHandler) SetOperator(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	asset, err := parseAddress(r.PathValue("asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "asset: "+err.Error())
		return
	}
	var req operatorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator, err := parseAddress(req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, "operator: "+err.Error())
		return
	}
	if err := h.assets.SetOperator(r.Context(), caller, asset, operator, req.Approved); err != nil {
		writeDomainError(w, r, h.logger, "set operator", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Balance returns an account's native balance.
// GET /api/accounts/{addr}/balance
func (h *AssetHandler) Balance(w http.ResponseWriter, r *http.Request) {
	if !common.IsHexAddress(r.PathValue("addr")) {
		writeError(w, http.StatusBadRequest, "addr must be a hex address")
		return
	}
	addr := common.HexToAddress(r.PathValue("addr"))
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"balance": h.assets.Balance(addr).Dec(),
	})
}
