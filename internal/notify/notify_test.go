package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"ItemBought", " "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), "ItemListed", "listed", ""))
	require.NoError(t, n.Notify(context.Background(), "ItemBought", "sold", ""))
	require.NoError(t, n.NotifyAll(context.Background(), "started", ""))
	assert.Equal(t, []string{"sold", "started"}, s.titles)
	assert.Equal(t, []string{"rec"}, n.Senders())
}

func TestNotifierContinuesPastFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), "anything", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestWebhookSenderSignsBody(t *testing.T) {
	signer := crypto.NewWebhookSigner("whsec")
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderWebhookTimestamp), 10, 64)
		if err != nil || !signer.Verify(ts, body, r.Header.Get(crypto.HeaderWebhookSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ws := NewWebhookSender(srv.URL, "whsec")
	ws.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	require.NoError(t, ws.Send(context.Background(), "Sale", "token 1 sold"))
	assert.Equal(t, "Sale", got.Title)
	assert.Equal(t, "token 1 sold", got.Message)

	bad := NewWebhookSender(srv.URL, "wrong")
	err := bad.Send(context.Background(), "Sale", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 401")
}

func TestDiscordSenderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		content = body["content"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Sale", "details"))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "**Sale**\ndetails", content)
}

func TestTelegramSenderPayload(t *testing.T) {
	var path string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	ts := NewTelegramSender("tok", "chat-1")
	ts.baseURL = srv.URL
	require.NoError(t, ts.Send(context.Background(), "Offer accepted", "m"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "chat-1", body["chat_id"])
	assert.Equal(t, "*Offer accepted*\nm", body["text"])
}
