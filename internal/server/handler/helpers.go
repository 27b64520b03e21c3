package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/server/middleware"
)

// maxBody bounds JSON request bodies.
const maxBody = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorBody is the response for failed marketplace operations.
type errorBody struct {
	Error    string               `json:"error"`
	Category domain.ErrorCategory `json:"category"`
}

// writeDomainError maps err onto a status code. Internal failures are logged
// and their detail withheld from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	cat := domain.Classify(err)
	status := statusFor(err, cat)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody{Error: op + " failed", Category: cat})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Category: cat})
}

func statusFor(err error, cat domain.ErrorCategory) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotListed),
		errors.Is(err, domain.ErrOfferNotFound),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnknownAsset),
		errors.Is(err, domain.ErrNonexistentNFT):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientValue),
		errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	}
	switch cat {
	case domain.CategoryAuthorization:
		return http.StatusForbidden
	case domain.CategoryState:
		return http.StatusConflict
	case domain.CategoryValidation:
		return http.StatusBadRequest
	case domain.CategoryBusinessRule:
		return http.StatusUnprocessableEntity
	case domain.CategoryGuard:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts pagination and time-window parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// parseAddress parses a non-zero hex address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, domain.ErrInvalidAddress
	}
	return addr, nil
}

// parseAmount parses a decimal or 0x-prefixed hex unsigned integer.
func parseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("missing amount")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}

// pathItem reads the {asset} and {item} path parameters.
func pathItem(r *http.Request) (common.Address, *uint256.Int, error) {
	asset, err := parseAddress(r.PathValue("asset"))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("asset: %w", err)
	}
	tokenID, err := parseAmount(r.PathValue("item"))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("item: %w", err)
	}
	return asset, tokenID, nil
}

// decodeBody decodes a JSON body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// requireCaller returns the authenticated caller or writes a 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return caller, ok
}

// itemResponse identifies an item in responses. uint256.Int values are
// rendered as decimal strings.
type itemResponse struct {
	Asset   common.Address `json:"asset"`
	TokenID string         `json:"token_id"`
}

func newItemResponse(asset common.Address, tokenID *uint256.Int) itemResponse {
	return itemResponse{Asset: asset, TokenID: tokenID.Dec()}
}
