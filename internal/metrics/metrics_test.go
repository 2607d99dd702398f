package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyseq/internal/sequence"
)

func TestObserverCounts(t *testing.T) {
	m := New()

	m.KeyAccepted()
	m.KeyAccepted()
	m.KeyIgnored()
	m.BufferCleared(sequence.ClearTimeout, 3)
	m.BufferCleared(sequence.ClearCompleted, 5)
	m.BufferCleared(sequence.ClearCompleted, 6)
	m.SequenceDetected(5)
	m.SequenceDetected(13)
	m.SequenceRejected(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.keysTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keysTotal.WithLabelValues("ignored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clearsTotal.WithLabelValues("timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.clearsTotal.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.detectedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejectedTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sequenceLength))
}

func TestRecordReloadAndSinkErrors(t *testing.T) {
	m := New()

	m.RecordReload(nil)
	m.RecordReload(errors.New("bad file"))
	m.RecordReload(errors.New("bad file"))
	m.RecordSinkError("store")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloadsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reloadsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkErrors.WithLabelValues("store")))
}

func TestSourceRunning(t *testing.T) {
	m := New()

	m.SetSourceRunning(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceActive))
	m.SetSourceRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sourceActive))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SequenceDetected(8)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "keyseq_sequences_detected_total 1")
	assert.Contains(t, string(body), `keyseq_sequence_length_bucket{le="8"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestDetectorFeedsMetrics(t *testing.T) {
	m := New()
	clock := sequence.NewManualClock(time.Unix(0, 0))
	d, err := sequence.New(sequence.DefaultConfig(), sequence.WithClock(clock), sequence.WithObserver(m))
	require.NoError(t, err)
	defer d.Close()

	body := sequence.NewScope().Element("body", "")
	for _, k := range "abcde" {
		d.OnKeyPress(sequence.KeyEvent{Target: body, Key: string(k)})
		clock.Advance(10 * time.Millisecond)
	}
	d.OnKeyPress(sequence.KeyEvent{Target: body, Key: "Shift"})
	clock.Advance(time.Second)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.keysTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keysTotal.WithLabelValues("ignored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detectedTotal))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServe(t *testing.T) {
	m := New()
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())

	routes := map[string]http.Handler{
		"/ping": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}

	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, addr, nil, routes) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get("http://" + addr + "/metrics")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get("http://" + addr + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeBadAddress(t *testing.T) {
	m := New()
	err := m.Serve(context.Background(), "256.0.0.1:bad", nil, nil)
	assert.Error(t, err)
}
