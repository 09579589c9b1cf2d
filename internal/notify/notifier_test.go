package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name string
	sent []string
	fail error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, title)
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"market_resolved"}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "trade_executed", "ignored", "x"))
	require.Empty(t, sender.sent)

	require.NoError(t, n.Notify(context.Background(), "market_resolved", "delivered", "x"))
	require.Equal(t, []string{"delivered"}, sender.sent)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "delivered", "x"))
	require.Len(t, sender.sent, 1)
}

func TestNotifierCollectsSenderFailures(t *testing.T) {
	good := &recordingSender{name: "good"}
	bad := &recordingSender{name: "bad", fail: io.ErrUnexpectedEOF}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), "market_resolved", "title", "msg")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad")

	// The healthy sender still received the notification.
	require.Len(t, good.sent, 1)
}

func TestWebhookSender(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL)
	require.NoError(t, sender.Send(context.Background(), "Market resolved", "details"))
	require.Equal(t, "Market resolved", received["title"])
	require.Equal(t, "details", received["message"])
}

func TestWebhookSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL)
	err := sender.Send(context.Background(), "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}

func TestDiscordSenderFormatsContent(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	require.NoError(t, sender.Send(context.Background(), "Market resolved", "yes won"))
	require.Equal(t, "**Market resolved**\nyes won", received["content"])
}
