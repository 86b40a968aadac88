package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orchestra-mcp/socketclient/config"
	"github.com/orchestra-mcp/socketclient/src/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestConnectOpensAndFiresOpen(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)
	rec := &recorder{}
	listenAll(c, rec)

	assert.Equal(t, types.StateIdle, c.ReadyState())
	assert.False(t, c.IsConnected())

	require.NoError(t, c.Connect(context.Background()))

	assert.True(t, c.IsConnected())
	assert.Equal(t, types.StateOpen, c.ReadyState())
	assert.Equal(t, 1, d.dialCount())
	require.Eventually(t, func() bool { return rec.count(types.EventOpen) == 1 }, waitFor, tick)

	// Still connected until the transport reports a close.
	time.Sleep(30 * time.Millisecond)
	assert.True(t, c.IsConnected())
}

func TestConnectFailureReturnsError(t *testing.T) {
	d := &fakeDialer{fail: errors.New("connection refused")}
	cfg := testConfig()
	cfg.MaxReconnectAttempts = config.Attempts(0)
	c := newTestClient(t, cfg, d)
	rec := &recorder{}
	listenAll(c, rec)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, c.IsConnected())
	assert.Equal(t, types.StateClosed, c.ReadyState())

	require.Eventually(t, func() bool {
		return rec.count(types.EventReconnectExhausted) == 1
	}, waitFor, tick)
	assert.Equal(t, []types.EventName{
		types.EventError, types.EventClose, types.EventReconnectExhausted,
	}, rec.names())
}

func TestSendWhileDisconnectedReturnsFalse(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)

	assert.False(t, c.Send("chat", map[string]any{"text": "hi"}))
	assert.Equal(t, 0, d.dialCount())

	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()

	conn := d.last()
	assert.False(t, c.Send("chat", map[string]any{"text": "hi"}))
	assert.Zero(t, conn.count("chat"))
}

func TestSendUnencodablePayloadReturnsFalse(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)
	require.NoError(t, c.Connect(context.Background()))

	assert.False(t, c.Send("bad", make(chan int)))
	assert.True(t, c.Send("good", 1))
}

func TestSendWriteFailureReturnsFalse(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)
	require.NoError(t, c.Connect(context.Background()))

	// Close the transport underneath the client without it noticing yet.
	_ = d.last().Close()
	assert.False(t, c.Send("x", 1))
}

func TestEchoRoundTrip(t *testing.T) {
	d := &fakeDialer{echo: true}
	c := newTestClient(t, testConfig(), d)

	got := make(chan map[string]any, 1)
	c.On("x", func(env types.Envelope) error {
		var data map[string]any
		if err := env.Decode(&data); err != nil {
			return err
		}
		assert.NotZero(t, env.Timestamp)
		got <- data
		return nil
	})

	require.NoError(t, c.Connect(context.Background()))
	require.True(t, c.Send("x", map[string]any{"a": 1}))

	select {
	case data := <-got:
		assert.Equal(t, map[string]any{"a": float64(1)}, data)
	case <-time.After(waitFor):
		t.Fatal("echoed envelope not delivered")
	}
}

func TestHandlersReceiveOnlyTheirType(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)

	var mu sync.Mutex
	var foo, bar []string
	fooSub := c.On("foo", func(env types.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		foo = append(foo, env.Type)
		return nil
	})
	c.On("bar", func(env types.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		bar = append(bar, env.Type)
		return nil
	})

	require.NoError(t, c.Connect(context.Background()))
	conn := d.last()
	conn.pushEnvelope(t, "foo", 1)
	conn.pushEnvelope(t, "bar", 2)
	conn.pushEnvelope(t, "baz", 3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(foo) == 1 && len(bar) == 1
	}, waitFor, tick)

	c.Off("foo", fooSub)
	conn.pushEnvelope(t, "foo", 4)
	conn.pushEnvelope(t, "bar", 5)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bar) == 2
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"foo"}, foo)
	assert.Equal(t, []string{"bar", "bar"}, bar)
}

func TestOffWithoutSubscriptionClearsType(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)

	var calls atomic.Int32
	c.On("foo", func(types.Envelope) error { calls.Add(1); return nil })
	c.On("foo", func(types.Envelope) error { calls.Add(1); return nil })
	c.Off("foo")

	require.NoError(t, c.Connect(context.Background()))
	d.last().pushEnvelope(t, "foo", nil)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.Empty(t, c.Stats().Types)
}

func TestFailingHandlerDoesNotStopOthers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d, WithMetrics(m))

	var second atomic.Int32
	c.On("x", func(types.Envelope) error { panic("boom") })
	c.On("x", func(types.Envelope) error { return errors.New("handler failed") })
	c.On("x", func(types.Envelope) error { second.Add(1); return nil })

	require.NoError(t, c.Connect(context.Background()))
	d.last().pushEnvelope(t, "x", nil)
	d.last().pushEnvelope(t, "x", nil)

	require.Eventually(t, func() bool { return second.Load() == 2 }, waitFor, tick)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.handlerErrors.WithLabelValues("panic")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.handlerErrors.WithLabelValues("error")))
	assert.True(t, c.IsConnected())
}

func TestPanickingEventHandlerIsIsolated(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)

	var opened atomic.Bool
	c.AddEventListener(types.EventOpen, func(types.Event) { panic("listener") })
	c.AddEventListener(types.EventOpen, func(types.Event) { opened.Store(true) })

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, opened.Load, waitFor, tick)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d, WithMetrics(m))

	got := make(chan string, 4)
	c.On("ok", func(env types.Envelope) error { got <- env.Type; return nil })

	require.NoError(t, c.Connect(context.Background()))
	conn := d.last()
	conn.push([]byte("not json"))
	conn.push([]byte(`{"data":{}}`))
	conn.pushEnvelope(t, "ok", nil)

	select {
	case typ := <-got:
		assert.Equal(t, "ok", typ)
	case <-time.After(waitFor):
		t.Fatal("valid frame not delivered after malformed ones")
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.parseErrors))
	assert.True(t, c.IsConnected())
}

func TestHandlerMayUnregisterItselfDuringDispatch(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)

	var first, second atomic.Int32
	var sub types.Subscription
	sub = c.On("x", func(types.Envelope) error {
		first.Add(1)
		c.Off("x", sub)
		return nil
	})
	c.On("x", func(types.Envelope) error { second.Add(1); return nil })

	require.NoError(t, c.Connect(context.Background()))
	d.last().pushEnvelope(t, "x", nil)
	require.Eventually(t, func() bool { return second.Load() == 1 }, waitFor, tick)

	d.last().pushEnvelope(t, "x", nil)
	require.Eventually(t, func() bool { return second.Load() == 2 }, waitFor, tick)
	assert.Equal(t, int32(1), first.Load())
}

func TestHandlersSurviveReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)

	var calls atomic.Int32
	c.On("x", func(types.Envelope) error { calls.Add(1); return nil })

	require.NoError(t, c.Connect(context.Background()))
	d.last().remoteClose(io.EOF)

	require.Eventually(t, func() bool { return d.dialCount() == 2 && c.IsConnected() }, waitFor, tick)
	d.last().pushEnvelope(t, "x", nil)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
}

func TestHeartbeatOnlyWhileConnected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := &fakeDialer{}
	cfg := testConfig()
	cfg.HeartbeatIntervalMs = 20
	c := newTestClient(t, cfg, d, WithMetrics(m))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(m.heartbeatsSent), "no ping before first open")

	require.NoError(t, c.Connect(context.Background()))
	conn := d.last()
	require.Eventually(t, func() bool { return conn.count(types.TypePing) >= 3 }, waitFor, tick)

	c.Disconnect()
	time.Sleep(10 * time.Millisecond)
	sent := conn.count(types.TypePing)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, sent, conn.count(types.TypePing), "no ping after disconnect")
	assert.Equal(t, float64(sent), testutil.ToFloat64(m.heartbeatsSent))
}

func TestPongIsRecorded(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)

	var pongs atomic.Int32
	c.On(types.TypePong, func(types.Envelope) error { pongs.Add(1); return nil })

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Stats().LastPong.IsZero())

	d.last().pushEnvelope(t, types.TypePong, types.Heartbeat{})
	require.Eventually(t, func() bool { return pongs.Load() == 1 }, waitFor, tick)
	assert.False(t, c.Stats().LastPong.IsZero())
}

func TestHeartbeatTimeoutForcesReconnect(t *testing.T) {
	d := &fakeDialer{}
	cfg := testConfig()
	cfg.HeartbeatIntervalMs = 10
	cfg.HeartbeatTimeoutMs = 30
	c := newTestClient(t, cfg, d)
	rec := &recorder{}
	listenAll(c, rec)

	require.NoError(t, c.Connect(context.Background()))
	first := d.last()

	require.Eventually(t, func() bool { return d.dialCount() >= 2 }, waitFor, tick)
	assert.True(t, first.isClosed())
	require.Eventually(t, func() bool {
		for _, err := range rec.errs() {
			if errors.Is(err, types.ErrHeartbeatTimeout) {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestGracefulRemoteCloseReconnectsWithoutError(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)
	rec := &recorder{}
	listenAll(c, rec)

	require.NoError(t, c.Connect(context.Background()))
	d.last().remoteClose(io.EOF)

	require.Eventually(t, func() bool { return d.dialCount() == 2 && c.IsConnected() }, waitFor, tick)
	require.Eventually(t, func() bool { return rec.count(types.EventOpen) == 2 }, waitFor, tick)
	assert.Equal(t, []types.EventName{types.EventOpen, types.EventClose, types.EventOpen}, rec.names())
	assert.Zero(t, c.Stats().Attempts, "successful open resets the counter")
}

func TestAbnormalCloseFiresErrorThenClose(t *testing.T) {
	d := &fakeDialer{}
	cfg := testConfig()
	cfg.MaxReconnectAttempts = config.Attempts(0)
	c := newTestClient(t, cfg, d)
	rec := &recorder{}
	listenAll(c, rec)

	require.NoError(t, c.Connect(context.Background()))
	d.last().remoteClose(errors.New("connection reset by peer"))

	require.Eventually(t, func() bool { return rec.count(types.EventReconnectExhausted) == 1 }, waitFor, tick)
	assert.Equal(t, []types.EventName{
		types.EventOpen, types.EventError, types.EventClose, types.EventReconnectExhausted,
	}, rec.names())
	assert.Equal(t, types.StateClosed, c.ReadyState())
	assert.False(t, c.IsConnected())
}

// Scenario: reconnect interval 10ms, budget 2, three consecutive closes.
func TestReconnectBudgetExhaustion(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := &fakeDialer{fail: errors.New("refused")}
	cfg := testConfig()
	cfg.ReconnectIntervalMs = 10
	cfg.MaxReconnectAttempts = config.Attempts(2)
	c := newTestClient(t, cfg, d, WithMetrics(m))
	rec := &recorder{}
	listenAll(c, rec)

	require.Error(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool { return rec.count(types.EventReconnectExhausted) == 1 }, waitFor, tick)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 3, d.dialCount(), "initial connect plus two reconnects")
	assert.Equal(t, 3, rec.count(types.EventClose))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.reconnectAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reconnectExhausted))

	st := c.Stats()
	assert.Equal(t, types.StateClosed, st.State)
	assert.False(t, st.ReconnectPending)
	assert.Equal(t, 2, st.Attempts)
}

func TestConnectAfterExhaustionRecovers(t *testing.T) {
	d := &fakeDialer{fail: errors.New("refused")}
	cfg := testConfig()
	cfg.ReconnectIntervalMs = 5
	cfg.MaxReconnectAttempts = config.Attempts(1)
	c := newTestClient(t, cfg, d)
	rec := &recorder{}
	listenAll(c, rec)

	require.Error(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.count(types.EventReconnectExhausted) == 1 }, waitFor, tick)

	d.setFail(nil)
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.Zero(t, c.Stats().Attempts)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	cfg := testConfig()
	cfg.ReconnectIntervalMs = 40
	c := newTestClient(t, cfg, d)

	require.NoError(t, c.Connect(context.Background()))
	d.last().remoteClose(io.EOF)
	require.Eventually(t, func() bool { return c.Stats().ReconnectPending }, waitFor, tick)

	c.Disconnect()
	st := c.Stats()
	assert.False(t, st.ReconnectPending)
	assert.Zero(t, st.Attempts)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount(), "no connect after the reconnect interval")
	assert.Equal(t, types.StateClosed, c.ReadyState())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)
	rec := &recorder{}
	listenAll(c, rec)

	c.Disconnect()
	assert.Equal(t, types.StateIdle, c.ReadyState())

	require.NoError(t, c.Connect(context.Background()))
	conn := d.last()
	c.Disconnect()
	c.Disconnect()

	assert.True(t, conn.isClosed())
	assert.False(t, c.IsConnected())
	assert.Equal(t, types.StateClosed, c.ReadyState())

	require.Eventually(t, func() bool { return rec.count(types.EventClose) == 1 }, waitFor, tick)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount(), "manual close does not reconnect")
	assert.Equal(t, 1, rec.count(types.EventClose))
	assert.Zero(t, rec.count(types.EventError))
}

func TestConnectReplacesExistingConnection(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)
	rec := &recorder{}
	listenAll(c, rec)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, 2, d.dialCount())
	assert.True(t, d.conn(0).isClosed(), "previous handle closed first")
	assert.False(t, d.conn(1).isClosed())
	assert.True(t, c.IsConnected())

	require.Eventually(t, func() bool { return rec.count(types.EventOpen) == 2 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count(types.EventClose), "replaced handle is closed silently")
	assert.Equal(t, 2, d.dialCount(), "replaced handle does not trigger reconnect")
}

func TestConnectAfterDisconnectReconnectsNormally(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)

	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())

	// An unexpected close now reconnects again.
	d.last().remoteClose(io.EOF)
	require.Eventually(t, func() bool { return d.dialCount() == 3 && c.IsConnected() }, waitFor, tick)
}

func TestRemoveEventListener(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)

	var a, b atomic.Int32
	subA := c.AddEventListener(types.EventOpen, func(types.Event) { a.Add(1) })
	c.AddEventListener(types.EventOpen, func(types.Event) { b.Add(1) })
	c.RemoveEventListener(types.EventOpen, subA)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return b.Load() == 1 }, waitFor, tick)
	assert.Zero(t, a.Load())

	c.RemoveEventListener(types.EventOpen)
	require.NoError(t, c.Connect(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), b.Load())
}

func TestCloseIsTerminal(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d)

	require.NoError(t, c.Connect(context.Background()))
	c.Close()
	c.Close()

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Connect(context.Background()), types.ErrClientClosed)
	assert.False(t, c.Send("x", nil))
}

func TestDefaultsFilledAtConstruction(t *testing.T) {
	c := newTestClient(t, config.ClientConfig{URL: "ws://x"}, &fakeDialer{})

	cfg := c.Config()
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 5*time.Second, cfg.ReconnectInterval())
	assert.Equal(t, 10, cfg.MaxAttempts())
}

func TestConnectionStateGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := &fakeDialer{}
	c := newTestClient(t, testConfig(), d, WithMetrics(m))

	assert.Equal(t, float64(types.StateIdle), testutil.ToFloat64(m.connectionState))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, float64(types.StateOpen), testutil.ToFloat64(m.connectionState))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connectionsTotal))
	c.Disconnect()
	assert.Equal(t, float64(types.StateClosed), testutil.ToFloat64(m.connectionState))
}
