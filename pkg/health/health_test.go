package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing() CheckFunc {
	return func(_ context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(_ context.Context) error { return errors.New(msg) }
}

func getStatus(t *testing.T, serve http.HandlerFunc, path string) (int, statusResponse) {
	t.Helper()

	w := httptest.NewRecorder()
	serve(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestLiveEndpoint_AllPassing(t *testing.T) {
	h := New()
	h.AddLivenessCheck("check1", time.Second, passing())
	h.AddLivenessCheck("check2", time.Second, passing())

	// Probes start healthy before their first poll.
	code, body := getStatus(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
}

func TestLiveEndpoint_FailingCheck(t *testing.T) {
	h := New()
	h.AddLivenessCheck("db", time.Second, failing("connection refused"))

	// Three consecutive failures flip the probe to unhealthy.
	ctx := context.Background()
	for i := 0; i < failuresToUnhealthy; i++ {
		h.liveness[0].observe(ctx)
	}

	code, body := getStatus(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["db"])
}

func TestLiveEndpoint_FailureBelowThreshold(t *testing.T) {
	h := New()
	h.AddLivenessCheck("flaky", time.Second, failing("temporary"))

	ctx := context.Background()
	h.liveness[0].observe(ctx)
	h.liveness[0].observe(ctx)

	code, _ := getStatus(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, code, "two failures stay below the threshold")
}

func TestReadyEndpoint_Gate(t *testing.T) {
	h := New()
	h.AddReadinessCheck("cache", time.Second, passing())

	// Not ready until the gate opens.
	code, body := getStatus(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")

	h.SetReady(true)
	code, body = getStatus(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)

	// Draining closes it again.
	h.SetReady(false)
	code, _ = getStatus(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadyEndpoint_MultipleChecksOneFailing(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, passing())
	h.AddReadinessCheck("cache", time.Second, failing("cache miss"))
	h.SetReady(true)

	ctx := context.Background()
	for i := 0; i < failuresToUnhealthy; i++ {
		h.readiness[1].observe(ctx)
	}

	code, body := getStatus(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "cache")
	assert.NotContains(t, body.Checks, "db")
}

func TestIsReady(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, passing())

	assert.False(t, h.IsReady(), "not ready before SetReady")

	h.SetReady(true)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestStopIsIdempotent(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutine", time.Second, passing())

	h.Start(context.Background(), 100*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestEndpoints_NoChecks(t *testing.T) {
	h := New()

	code, _ := getStatus(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, code)

	h.SetReady(true)
	code, _ = getStatus(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestProbeRecovery(t *testing.T) {
	down := true
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(_ context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	p := h.liveness[0]
	ctx := context.Background()

	for i := 0; i < failuresToUnhealthy; i++ {
		p.observe(ctx)
	}
	assert.False(t, p.healthy())

	// One success recovers the probe.
	down = false
	p.observe(ctx)
	assert.True(t, p.healthy())
}

func TestProbeLastErrorStored(t *testing.T) {
	h := New()
	h.AddLivenessCheck("db", time.Second, failing("timeout"))
	p := h.liveness[0]

	assert.Nil(t, p.lastError(), "no error before the first poll")

	p.observe(context.Background())
	assert.EqualError(t, p.lastError(), "timeout")
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("concurrent", time.Second, failing("err"))
	h.AddReadinessCheck("concurrent", time.Second, passing())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.Start(ctx, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.IsReady()
				getStatus(t, h.LiveEndpoint, "/livez")
				getStatus(t, h.ReadyEndpoint, "/readyz")
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
