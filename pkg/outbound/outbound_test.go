package outbound

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

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker()
	b.failureThreshold = 2

	assert.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.Error(t, b.Allow())
}

func TestBreakerHalfOpenRecoversOnSuccesses(t *testing.T) {
	b := NewBreaker()
	b.failureThreshold = 1
	b.successThreshold = 2
	b.resetTimeout = 10 * time.Millisecond

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker()
	b.failureThreshold = 1
	b.resetTimeout = 10 * time.Millisecond

	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, BreakerHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
}

func TestParseRetryAfterSecondsClamped(t *testing.T) {
	assert.Equal(t, time.Second, parseRetryAfter("0"))
	assert.Equal(t, 60*time.Second, parseRetryAfter("999"))
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
}

func TestClientRetriesOn503ThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{
		Service: "test",
		BaseURL: server.URL,
		Queue:   QueueConfig{MinInterRequestDelay: time.Millisecond, MaxConcurrent: 1},
		MaxRetries: 3,
	})

	var out map[string]string
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "true", out["ok"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientNonRetryableStatusFailsFast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{
		Service: "test",
		BaseURL: server.URL,
		Queue:   QueueConfig{MinInterRequestDelay: time.Millisecond, MaxConcurrent: 1},
	})

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	assert.Error(t, err)
}

func TestQueueRespectsMaxQueueDepth(t *testing.T) {
	q := NewQueue(QueueConfig{MaxQueueDepth: 0})
	release, err := q.Acquire(context.Background(), 0)
	require.NoError(t, err)
	release(true)
}

func TestQueueOverflow(t *testing.T) {
	q := NewQueue(QueueConfig{MaxQueueDepth: 0, MaxConcurrent: 1})
	q.mu.Lock()
	q.cfg.MaxQueueDepth = 1
	q.pq = append(q.pq, &job{})
	q.mu.Unlock()

	_, err := q.Acquire(context.Background(), 0)
	assert.Error(t, err)
}
