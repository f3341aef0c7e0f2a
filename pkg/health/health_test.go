package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func probe(t *testing.T, endpoint http.HandlerFunc) (int, statusBody) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w.Code, body
}

// toggle fails while its flag is set.
type toggle struct{ fail atomic.Bool }

func (tg *toggle) check(context.Context) error {
	if tg.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func runTimes(h *Health, n int) {
	for _, c := range h.snapshot(func(*check) bool { return true }) {
		for range n {
			c.run(context.Background())
		}
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		fail       bool
		runs       int
		wantStatus int
		wantChecks map[string]string
	}{
		{name: "no runs yet", fail: true, runs: 0, wantStatus: http.StatusOK},
		{name: "passing", runs: 3, wantStatus: http.StatusOK},
		{name: "below failure threshold", fail: true, runs: failureThreshold - 1, wantStatus: http.StatusOK},
		{
			name:       "failing",
			fail:       true,
			runs:       failureThreshold,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"postgres": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(zaptest.NewLogger(t))
			tg := &toggle{}
			tg.fail.Store(tt.fail)
			h.Add(Liveness, "postgres", time.Second, tg.check)
			runTimes(h, tt.runs)

			code, body := probe(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantStatus, code)
			if tt.wantChecks == nil {
				assert.Equal(t, "ok", body.Status)
				assert.Empty(t, body.Checks)
			} else {
				assert.Equal(t, "unhealthy", body.Status)
				assert.Equal(t, tt.wantChecks, body.Checks)
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	broker := &toggle{}
	h.Add(Readiness, "broker", time.Second, broker.check)
	h.Add(Liveness, "goroutines", time.Second, GoroutineCountCheck(1<<20))

	code, body := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready until flagged")
	assert.Contains(t, body.Checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, _ = probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	broker.fail.Store(true)
	runTimes(h, failureThreshold)
	code, body = probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"broker": "connection refused"}, body.Checks)
	assert.False(t, h.IsReady())

	code, _ = probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "readiness failures do not affect liveness")

	broker.fail.Store(false)
	runTimes(h, successThreshold)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestRun_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := New(zap.New(core))
	tg := &toggle{}
	tg.fail.Store(true)
	h.Add(Readiness, "postgres", time.Second, tg.check)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, time.Millisecond) }()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Check failing").Len() == 1
	}, 5*time.Second, time.Millisecond)

	tg.fail.Store(false)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Check recovered").Len() == 1
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestCheckTimeout(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	h.Add(Liveness, "slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	runTimes(h, failureThreshold)

	_, body := probe(t, h.LiveEndpoint)
	assert.Contains(t, body.Checks["slow"], "deadline exceeded")
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, PingCheck(pinger{})(ctx))
	require.EqualError(t, PingCheck(pinger{err: errors.New("down")})(ctx), "down")

	require.NoError(t, GoroutineCountCheck(1<<20)(ctx))
	require.Error(t, GoroutineCountCheck(0)(ctx))

	require.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))
}
