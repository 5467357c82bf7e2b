package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverPostsPayloadOnce(t *testing.T) {
	var calls atomic.Int32
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(Options{Timeout: time.Second, Log: zerolog.Nop()})
	w.Deliver(context.Background(), srv.URL, map[string]any{"message": "hi"}, "rem_1")

	require.Equal(t, int32(1), calls.Load())
	assert.JSONEq(t, `{"message":"hi"}`, string(gotBody))
	assert.Equal(t, "application/json", gotContentType)
}

func TestDeliverDoesNotRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(Options{Timeout: time.Second, Log: zerolog.Nop()})
	w.Deliver(context.Background(), srv.URL, map[string]any{"message": "hi"}, "rem_1")

	// A 5xx response still counts as consumed: one attempt, no retry.
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeliverBoundedByTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	w := NewWebhook(Options{Timeout: 50 * time.Millisecond, Log: zerolog.Nop()})
	done := make(chan struct{})
	go func() {
		w.Deliver(context.Background(), srv.URL, nil, "rem_1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not bounded by its timeout")
	}
}

func TestDeliverUnreachableTargetIsSilent(t *testing.T) {
	w := NewWebhook(Options{Timeout: 100 * time.Millisecond, Log: zerolog.Nop()})
	// Must not panic or retry; the outcome is only logged.
	w.Deliver(context.Background(), "http://127.0.0.1:1/hook", map[string]any{"message": "hi"}, "rem_1")
}
