// Package marketapi is the REST client for a marketplace node. Mutating
// calls are signed with the caller's key; reads are unauthenticated.
package marketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Client talks to one node's /api endpoints.
type Client struct {
	baseURL string
	signer  *crypto.Signer
	// reads retries idempotent requests; writes never retries, since a
	// signed request is accepted only once.
	reads  *http.Client
	writes *http.Client
	now    func() time.Time
}

// NewClient creates a client for baseURL, e.g. "http://localhost:8000".
// signer may be nil for read-only use.
func NewClient(baseURL string, signer *crypto.Signer) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	reads := rc.StandardClient()
	reads.Timeout = 30 * time.Second

	return &Client{
		baseURL: baseURL,
		signer:  signer,
		reads:   reads,
		writes:  &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
}

// APIError is a non-2xx response from the node.
type APIError struct {
	Status   int
	Message  string
	Category string
	sentinel error
}

func (e *APIError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.Status, e.Category, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.sentinel }

// Config returns the admin configuration.
func (c *Client) Config(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/api/market/config", nil)
}

func (c *Client) SetFeeRate(ctx context.Context, bps uint16) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPut, "/api/market/fee-rate", map[string]any{"fee_rate_bps": bps})
}

func (c *Client) SetFeeRecipient(ctx context.Context, recipient common.Address) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPut, "/api/market/fee-recipient", map[string]string{"address": recipient.Hex()})
}

func (c *Client) TransferOwnership(ctx context.Context, owner common.Address) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPut, "/api/market/owner", map[string]string{"address": owner.Hex()})
}

// Listing returns the active listing of an item.
func (c *Client) Listing(ctx context.Context, asset common.Address, tokenID *uint256.Int) (json.RawMessage, error) {
	return c.get(ctx, itemPath("/api/listings", asset, tokenID), nil)
}

// Listings returns a collection's active listings from the read model.
func (c *Client) Listings(ctx context.Context, asset common.Address, limit int) (json.RawMessage, error) {
	return c.get(ctx, "/api/listings/"+asset.Hex(), pageQuery(limit))
}

func (c *Client) List(ctx context.Context, asset common.Address, tokenID, price *uint256.Int) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, itemPath("/api/listings", asset, tokenID), map[string]string{"price": price.Dec()})
}

func (c *Client) UpdateListing(ctx context.Context, asset common.Address, tokenID, price *uint256.Int) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPatch, itemPath("/api/listings", asset, tokenID), map[string]string{"price": price.Dec()})
}

func (c *Client) CancelListing(ctx context.Context, asset common.Address, tokenID *uint256.Int) error {
	_, err := c.send(ctx, http.MethodDelete, itemPath("/api/listings", asset, tokenID), nil)
	return err
}

// Buy pays value for a listed item and returns the settlement receipt.
func (c *Client) Buy(ctx context.Context, asset common.Address, tokenID, value *uint256.Int) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, itemPath("/api/listings", asset, tokenID)+"/buy", map[string]string{"value": value.Dec()})
}

func (c *Client) Offer(ctx context.Context, asset common.Address, tokenID *uint256.Int, buyer common.Address) (json.RawMessage, error) {
	return c.get(ctx, itemPath("/api/offers", asset, tokenID)+"/"+buyer.Hex(), nil)
}

// Offers returns the open offers on an item from the read model.
func (c *Client) Offers(ctx context.Context, asset common.Address, tokenID *uint256.Int, limit int) (json.RawMessage, error) {
	return c.get(ctx, itemPath("/api/offers", asset, tokenID), pageQuery(limit))
}

func (c *Client) MakeOffer(ctx context.Context, asset common.Address, tokenID, amount *uint256.Int, expiresAt time.Time) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, itemPath("/api/offers", asset, tokenID), map[string]any{
		"amount":     amount.Dec(),
		"expires_at": expiresAt.UTC(),
	})
}

func (c *Client) CancelOffer(ctx context.Context, asset common.Address, tokenID *uint256.Int) error {
	_, err := c.send(ctx, http.MethodDelete, itemPath("/api/offers", asset, tokenID), nil)
	return err
}

// AcceptOffer sells the caller's item to buyer and returns the receipt.
func (c *Client) AcceptOffer(ctx context.Context, asset common.Address, tokenID *uint256.Int, buyer common.Address) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, itemPath("/api/offers", asset, tokenID)+"/"+buyer.Hex()+"/accept", nil)
}

// Approve approves the marketplace for one of the caller's items.
func (c *Client) Approve(ctx context.Context, asset common.Address, tokenID *uint256.Int) error {
	_, err := c.send(ctx, http.MethodPut, itemPath("/api/collections", asset, tokenID)+"/approval", nil)
	return err
}

func (c *Client) SetOperator(ctx context.Context, asset, operator common.Address, approved bool) error {
	_, err := c.send(ctx, http.MethodPut, "/api/collections/"+asset.Hex()+"/operators",
		map[string]any{"operator": operator.Hex(), "approved": approved})
	return err
}

func (c *Client) Collections(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/api/collections", nil)
}

func (c *Client) OwnerOf(ctx context.Context, asset common.Address, tokenID *uint256.Int) (common.Address, error) {
	raw, err := c.get(ctx, itemPath("/api/collections", asset, tokenID)+"/owner", nil)
	if err != nil {
		return common.Address{}, err
	}
	var out struct {
		Owner common.Address `json:"owner"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return common.Address{}, fmt.Errorf("marketapi: decode owner: %w", err)
	}
	return out.Owner, nil
}

// Balance returns an account's native balance.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	raw, err := c.get(ctx, "/api/accounts/"+addr.Hex()+"/balance", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("marketapi: decode balance: %w", err)
	}
	bal, err := uint256.FromDecimal(out.Balance)
	if err != nil {
		return nil, fmt.Errorf("marketapi: decode balance %q: %w", out.Balance, err)
	}
	return bal, nil
}

// Sales returns recent sales, optionally for one asset.
func (c *Client) Sales(ctx context.Context, asset *common.Address, limit int) (json.RawMessage, error) {
	q := pageQuery(limit)
	if asset != nil {
		q.Set("asset", asset.Hex())
	}
	return c.get(ctx, "/api/sales", q)
}

func (c *Client) Events(ctx context.Context, limit int) (json.RawMessage, error) {
	return c.get(ctx, "/api/events", pageQuery(limit))
}

func itemPath(prefix string, asset common.Address, tokenID *uint256.Int) string {
	return prefix + "/" + asset.Hex() + "/" + tokenID.Dec()
}

func pageQuery(limit int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("marketapi: create request: %w", err)
	}
	return c.do(c.reads, req)
}

// send signs and sends a mutating request. The signature covers the path
// without the query string.
func (c *Client) send(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("marketapi: %s %s: %w: no signing key", method, path, domain.ErrUnauthorized)
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marketapi: marshal request body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("marketapi: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	headers, err := c.signer.Headers(c.now(), method, path, payload)
	if err != nil {
		return nil, fmt.Errorf("marketapi: sign request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(c.writes, req)
}

func (c *Client) do(client *http.Client, req *http.Request) (json.RawMessage, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketapi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("marketapi: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("marketapi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to an APIError wrapping the
// matching domain sentinel.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: statusCode, Message: string(body)}
	var eb struct {
		Error    string `json:"error"`
		Category string `json:"category"`
	}
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		apiErr.Message, apiErr.Category = eb.Error, eb.Category
	}
	switch statusCode {
	case http.StatusNotFound:
		apiErr.sentinel = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		apiErr.sentinel = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		apiErr.sentinel = domain.ErrRateLimited
	}
	return apiErr
}
