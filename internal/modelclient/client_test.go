package modelclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	cfg.Timeout = 200 * time.Millisecond
	cfg.BreakerFailures = 3

	return New(cfg), srv
}

func TestPredict_HappyPath(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predict", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]float64{"fraud_probability": 0.73})
	})
	defer srv.Close()

	prob := client.Predict(context.Background(), make([]float64, 18))
	assert.Equal(t, 0.73, prob)
}

func TestPredict_TimeoutDegradesToZero(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})
	defer srv.Close()

	prob := client.Predict(context.Background(), make([]float64, 18))
	assert.Equal(t, 0.0, prob)
}

func TestPredict_MalformedResponseDegradesToZero(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	defer srv.Close()

	prob := client.Predict(context.Background(), make([]float64, 18))
	assert.Equal(t, 0.0, prob)
}

func TestPredict_DisabledDegradesToZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	client := New(cfg)

	prob := client.Predict(context.Background(), make([]float64, 18))
	assert.Equal(t, 0.0, prob)
}

func TestPredict_NeverReturnsErrorEvenUnderServerError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	assert.NotPanics(t, func() {
		prob := client.Predict(context.Background(), make([]float64, 18))
		assert.Equal(t, 0.0, prob)
	})
}

func TestIsHealthy_HappyPath(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "UP"})
	})
	defer srv.Close()

	assert.True(t, client.IsHealthy(context.Background()))
}

func TestIsHealthy_DownStatusIsFalse(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "DOWN"})
	})
	defer srv.Close()

	assert.False(t, client.IsHealthy(context.Background()))
}

func TestPredict_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	// Drive past the configured failure threshold (3).
	for i := 0; i < 5; i++ {
		prob := client.Predict(context.Background(), make([]float64, 18))
		assert.Equal(t, 0.0, prob)
	}

	// Once open, the breaker short-circuits without hitting the server.
	callsAfterOpen := calls
	client.Predict(context.Background(), make([]float64, 18))
	assert.Equal(t, callsAfterOpen, calls, "breaker should short-circuit once open")
}
