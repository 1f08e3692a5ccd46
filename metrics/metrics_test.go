package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.SessionClosed()
	m.FrameReceived("dispatch", 10)
	m.FrameSent(10)
	m.DecodeError()
	m.ResponseDropped()
	m.Unsubscribed()
	m.DispatchStarted()()
	m.ObserveDispatch("echo", time.Millisecond, nil)
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("test"))

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	require.Equal(t, 2.0, testutil.ToFloat64(m.sessionsTotal))

	m.FrameReceived("dispatch", 20)
	m.FrameReceived("response", 12)
	m.FrameReceived("dispatch", 20)
	require.Equal(t, 2.0, testutil.ToFloat64(m.framesIn.WithLabelValues("dispatch")))
	require.Equal(t, 52.0, testutil.ToFloat64(m.bytesIn))

	done := m.DispatchStarted()
	require.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
	done()
	require.Equal(t, 0.0, testutil.ToFloat64(m.inflight))

	m.ObserveDispatch("echo", time.Millisecond, nil)
	m.ObserveDispatch("echo", time.Millisecond, errors.New("boom"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("echo", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("echo", "error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "test_rpc_dispatch_duration_seconds")
	require.Contains(t, names, "test_rpc_sessions_active")
}
