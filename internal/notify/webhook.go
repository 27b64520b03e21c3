package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
)

// WebhookPayload is the JSON body posted to generic webhooks.
type WebhookPayload struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// WebhookSender posts HMAC-signed JSON to an operator-supplied URL. Receivers
// verify the X-Market-Webhook-Signature header with the shared secret.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
	now    func() time.Time
}

func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		signer: crypto.NewWebhookSigner(secret),
		client: newHTTPClient(),
		now:    time.Now,
	}
}

func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	now := w.now().UTC()
	body, err := json.Marshal(WebhookPayload{Title: title, Message: message, SentAt: now})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	return post(ctx, w.client, w.Name(), w.url, body, w.signer.Headers(now.Unix(), body))
}

func (w *WebhookSender) Name() string {
	return "webhook"
}
