package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// maxSignedBody bounds the request body read for signature verification.
const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller returns a context carrying the authenticated account.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the account attached by Auth.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// AuthConfig configures signed-request authentication.
type AuthConfig struct {
	// Enabled false trusts the X-Market-Address header without a signature.
	// Only for local development.
	Enabled bool
	MaxSkew time.Duration
	Replay  domain.ReplayGuard
	Now     func() time.Time
	Logger  *slog.Logger
}

// Auth authenticates mutating requests. The client signs
// "<ts>|<METHOD>|<path>|<sha256(body)>" with EIP-191 and sends the address,
// timestamp and signature headers. Each signed request is accepted once.
// Safe methods pass through unauthenticated.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			claimed := r.Header.Get(crypto.HeaderAddress)
			if !common.IsHexAddress(claimed) {
				writeUnauthorized(w, "missing or invalid "+crypto.HeaderAddress)
				return
			}
			addr := common.HexToAddress(claimed)

			if !cfg.Enabled {
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderTimestamp), 10, 64)
			if err != nil {
				writeUnauthorized(w, "missing or invalid "+crypto.HeaderTimestamp)
				return
			}
			skew := cfg.Now().Sub(time.Unix(ts, 0))
			if skew > cfg.MaxSkew || skew < -cfg.MaxSkew {
				writeUnauthorized(w, "request timestamp outside allowed window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeUnauthorized(w, "unreadable body")
				return
			}
			if len(body) > maxSignedBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := crypto.RecoverRequest(r.Header.Get(crypto.HeaderSignature), ts, r.Method, r.URL.Path, body)
			if err != nil || signer != addr {
				writeUnauthorized(w, "signature does not match "+crypto.HeaderAddress)
				return
			}

			if cfg.Replay != nil {
				digest := crypto.RequestDigest(ts, r.Method, r.URL.Path, body)
				fresh, err := cfg.Replay.Claim(r.Context(), "auth:"+addr.Hex()+":"+hex.EncodeToString(digest), 2*cfg.MaxSkew)
				if err != nil {
					cfg.Logger.ErrorContext(r.Context(), "auth: replay guard failed", slog.String("error", err.Error()))
					writeJSONError(w, http.StatusServiceUnavailable, "authentication unavailable")
					return
				}
				if !fresh {
					writeUnauthorized(w, "request already processed")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

func isSafeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":` + strconv.Quote(msg) + `}`))
}
