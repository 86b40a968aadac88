package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/orchestra-mcp/socketclient/config"
	"github.com/orchestra-mcp/socketclient/src/types"
	"github.com/rs/zerolog"
)

var errConnClosed = errors.New("use of closed connection")

// fakeConn implements types.Conn in memory.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	readErr error
	echo    bool

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(echo bool) *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
		echo:    echo,
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	f.mu.Lock()
	f.written = append(f.written, append([]byte(nil), data...))
	echo := f.echo
	f.mu.Unlock()

	if echo {
		f.push(data)
	}
	return nil
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-f.closed:
		return nil, f.closeErr()
	default:
	}
	select {
	case msg := <-f.inbound:
		return msg, nil
	case <-f.closed:
		return nil, f.closeErr()
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) closeErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return f.readErr
	}
	return errConnClosed
}

// remoteClose simulates the peer ending the connection with err.
func (f *fakeConn) remoteClose(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
	_ = f.Close()
}

func (f *fakeConn) push(frame []byte) {
	f.inbound <- append([]byte(nil), frame...)
}

func (f *fakeConn) pushEnvelope(t *testing.T, msgType string, data any) {
	t.Helper()
	env, err := types.NewEnvelope(msgType, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	frame, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.push(frame)
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// sentTypes returns the envelope types written so far.
func (f *fakeConn) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.written))
	for _, w := range f.written {
		var env types.Envelope
		if err := json.Unmarshal(w, &env); err == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

func (f *fakeConn) count(msgType string) int {
	n := 0
	for _, t := range f.sentTypes() {
		if t == msgType {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeConns, or fails while fail is set.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	fail  error
	echo  bool
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (types.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail != nil {
		return nil, d.fail
	}
	c := newFakeConn(d.echo)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// recorder collects lifecycle events in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) record(ev types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) names() []types.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventName, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

func (r *recorder) count(name types.EventName) int {
	n := 0
	for _, got := range r.names() {
		if got == name {
			n++
		}
	}
	return n
}

func (r *recorder) errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []error
	for _, ev := range r.events {
		if ev.Name == types.EventError {
			out = append(out, ev.Err)
		}
	}
	return out
}

func listenAll(c *Client, r *recorder) {
	for _, name := range []types.EventName{
		types.EventOpen, types.EventClose, types.EventError, types.EventReconnectExhausted,
	} {
		c.AddEventListener(name, r.record)
	}
}

func testConfig() config.ClientConfig {
	return config.ClientConfig{
		URL:                  "ws://test.invalid/ws",
		HeartbeatIntervalMs:  60000,
		ReconnectIntervalMs:  20,
		MaxReconnectAttempts: config.Attempts(3),
	}
}

func newTestClient(t *testing.T, cfg config.ClientConfig, d *fakeDialer, opts ...Option) *Client {
	t.Helper()
	c := New(cfg, d, zerolog.Nop(), opts...)
	t.Cleanup(c.Close)
	return c
}
