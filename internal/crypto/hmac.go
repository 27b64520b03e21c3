package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Webhook signature headers.
const (
	HeaderWebhookTimestamp = "X-Market-Webhook-Timestamp"
	HeaderWebhookSignature = "X-Market-Webhook-Signature"
)

// WebhookSigner authenticates outgoing webhook bodies with HMAC-SHA256 over
// "<unix seconds>.<body>".
type WebhookSigner struct {
	secret []byte
}

func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret)}
}

// Sign returns the hex-encoded signature of body sent at unixTS.
func (w *WebhookSigner) Sign(unixTS int64, body []byte) string {
	return hex.EncodeToString(w.mac(unixTS, body))
}

// Verify reports whether sigHex is a valid signature of body at unixTS.
func (w *WebhookSigner) Verify(unixTS int64, body []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return hmac.Equal(sig, w.mac(unixTS, body))
}

// Headers returns the signature headers for body sent at unixTS.
func (w *WebhookSigner) Headers(unixTS int64, body []byte) map[string]string {
	return map[string]string{
		HeaderWebhookTimestamp: strconv.FormatInt(unixTS, 10),
		HeaderWebhookSignature: w.Sign(unixTS, body),
	}
}

func (w *WebhookSigner) mac(unixTS int64, body []byte) []byte {
	m := hmac.New(sha256.New, w.secret)
	m.Write([]byte(strconv.FormatInt(unixTS, 10)))
	m.Write([]byte{'.'})
	m.Write(body)
	return m.Sum(nil)
}

// String redacts the secret.
func (w *WebhookSigner) String() string {
	return "WebhookSigner{secret=****}"
}
