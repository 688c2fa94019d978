package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/relay/src/bridge"
	"github.com/orchestra-mcp/relay/src/history"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errClosed = errors.New("connection closed")

// mockConn implements types.Conn for testing without a real websocket.
type mockConn struct {
	addr     string
	readCh   chan []byte
	closedCh chan struct{}

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		addr:     addr,
		readCh:   make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-m.readCh:
		return data, nil
	case <-m.closedCh:
		return nil, errClosed
	}
}

func (m *mockConn) WriteMessage(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.written = append(m.written, data)
	return nil
}

func (m *mockConn) Ping() error { return nil }

func (m *mockConn) RemoteAddr() string { return m.addr }

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *mockConn) frames() []types.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Envelope, 0, len(m.written))
	for _, w := range m.written {
		var env types.Envelope
		_ = json.Unmarshal(w, &env)
		out = append(out, env)
	}
	return out
}

func (m *mockConn) msgs() []string {
	frames := m.frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Msg
	}
	return out
}

func (m *mockConn) send(t *testing.T, typ, msg string) {
	t.Helper()
	data, err := json.Marshal(types.Frame{Type: typ, Msg: msg})
	require.NoError(t, err)
	m.readCh <- data
}

func (m *mockConn) sendRaw(data string) {
	m.readCh <- []byte(data)
}

// testEnv is one relay instance wired to a shared memory bus.
type testEnv struct {
	hub    *hub.Hub
	bridge *bridge.MemoryBridge
	store  history.Store
}

func testOptions() hub.Options {
	return hub.Options{
		SendBuffer: 64,
		OpTimeout:  2 * time.Second,
	}
}

func newBus(t *testing.T) *bridge.MemoryBus {
	t.Helper()
	bus := bridge.NewMemoryBus(64)
	t.Cleanup(bus.Close)
	return bus
}

// newTestHub creates a hub, attaches it to bus and starts its event loop.
func newTestHub(t *testing.T, bus *bridge.MemoryBus, store history.Store, opts hub.Options) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	h := hub.New(logger, store, opts)
	b := bridge.NewMemoryBridge(bus, h, logger)
	require.NoError(t, b.Start(context.Background()))
	h.SetBridge(b)

	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()
	t.Cleanup(func() {
		h.Stop()
		<-done
		_ = b.Stop()
	})
	return &testEnv{hub: h, bridge: b, store: store}
}

func newDefaultHub(t *testing.T) *testEnv {
	t.Helper()
	return newTestHub(t, newBus(t), history.NewMemoryStore(history.DefaultOptions()), testOptions())
}

// connect registers a mock client and starts its pumps.
func connect(t *testing.T, env *testEnv, addr string) (*hub.Client, *mockConn) {
	t.Helper()
	conn := newMockConn(addr)
	client := hub.NewClient(conn, env.hub)
	env.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
	require.Eventually(t, func() bool {
		return env.hub.ClientInfo(addr) != nil
	}, time.Second, 5*time.Millisecond)
	return client, conn
}

// bind binds a client and waits until its history replay has been written.
func bind(t *testing.T, env *testEnv, client *hub.Client, conn *mockConn, uid string) {
	t.Helper()
	bindStarted(t, env, client, conn, uid)
	require.Eventually(t, func() bool {
		return !client.Replaying()
	}, 2*time.Second, 5*time.Millisecond)
}

// bindStarted binds a client and waits only until the registry reflects it.
func bindStarted(t *testing.T, env *testEnv, client *hub.Client, conn *mockConn, uid string) {
	t.Helper()
	conn.send(t, types.FrameBind, uid)
	require.Eventually(t, func() bool {
		c, ok := env.hub.Registry().LookupByIdentity(uid)
		return ok && c == client
	}, time.Second, 5*time.Millisecond)
}

func waitMsgs(t *testing.T, conn *mockConn, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.frames()) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d frames on %s", n, conn.addr)
}

// gatedStore holds Replay until the gate is closed.
type gatedStore struct {
	history.Store
	gate chan struct{}
}

func (g *gatedStore) Replay(ctx context.Context, uid string) ([][]byte, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Store.Replay(ctx, uid)
}

// failingStore fails every call, like an unreachable backing store.
type failingStore struct{}

func (failingStore) Append(context.Context, string, []byte, int64) error {
	return errors.New("store down")
}

func (failingStore) Replay(context.Context, string) ([][]byte, error) {
	return nil, errors.New("store down")
}
