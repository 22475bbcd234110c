package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackSink_DeliversQueuedAlertToWebhook(t *testing.T) {
	var received int32
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)
	defer cancel()

	require.NoError(t, sink.Accept(context.Background(), Alert{Kind: Signal, Asset: "bitcoin", Timestamp: 1}))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&received) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, body["text"], "bitcoin")
}

func TestSlackSink_DedupesIdenticalAlertsWithinWindow(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL, 10)
	sink.perAssetWindow = 0 // isolate dedupe behavior from the per-asset rate limit
	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)
	defer cancel()

	a := Alert{Kind: Signal, Asset: "bitcoin", Timestamp: 1}
	require.NoError(t, sink.Accept(context.Background(), a))
	require.NoError(t, sink.Accept(context.Background(), a))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&received))
}

func TestSlackSink_RateLimitsPerAssetIndependentlyOfDedupe(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL, 10)
	sink.dedupeWindow = 0
	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)
	defer cancel()

	require.NoError(t, sink.Accept(context.Background(), Alert{Kind: Signal, Asset: "bitcoin", Timestamp: 1, Payload: map[string]any{"n": 1}}))
	require.NoError(t, sink.Accept(context.Background(), Alert{Kind: Signal, Asset: "bitcoin", Timestamp: 2, Payload: map[string]any{"n": 2}}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&received))
}

func TestSlackSink_AcceptReturnsErrorWhenQueueFull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL, 1)
	// Fill the queue without a Run goroutine draining it.
	require.NoError(t, sink.Accept(context.Background(), Alert{Kind: Signal, Asset: "a1", Timestamp: 1}))
	err := sink.Accept(context.Background(), Alert{Kind: Signal, Asset: "a2", Timestamp: 2})

	assert.Error(t, err)
}
