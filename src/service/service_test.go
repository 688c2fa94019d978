package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/orchestra-mcp/relay/src/bridge"
	"github.com/orchestra-mcp/relay/src/history"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/service"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *service.Service
	store  *history.MemoryStore
	bridge *bridge.MemoryBridge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	bus := bridge.NewMemoryBus(16)
	store := history.NewMemoryStore(history.DefaultOptions())
	h := hub.New(logger, store, hub.DefaultOptions())
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
		bus.Close()
	})
	return &fixture{svc: service.New(h, store, logger), store: store, bridge: b}
}

func TestSubmitRecordsHistoryWithoutListeners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Submit(ctx, "u1", "hello")
	require.NoError(t, err)
	assert.True(t, rec.Stored)
	assert.True(t, rec.Published)
	assert.Equal(t, types.KindNotification, rec.Envelope.Kind)
	assert.Equal(t, "u1", rec.Envelope.UID)
	assert.NotZero(t, rec.Envelope.TS)

	got, err := f.svc.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Msg)
	assert.Equal(t, rec.Envelope.TS, got[0].TS)
}

func TestSubmitBroadcastNotStored(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.Submit(context.Background(), "", "everyone")
	require.NoError(t, err)
	assert.False(t, rec.Stored)
	assert.True(t, rec.Published)
}

func TestSubmitAcceptsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Submit(ctx, "u1", "")
	require.NoError(t, err)
	assert.True(t, rec.Stored)
	assert.True(t, rec.Published)

	got, err := f.svc.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "", got[0].Msg)
}

func TestSubmitCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Submit(ctx, "u1", "late")
	assert.ErrorIs(t, err, context.Canceled)
	got, err := f.svc.History(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSubmitWithBridgeDown(t *testing.T) {
	f := newFixture(t)
	f.bridge.SetDown(true)

	rec, err := f.svc.Submit(context.Background(), "u1", "queued")
	require.NoError(t, err)
	assert.True(t, rec.Stored)
	assert.False(t, rec.Published)
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, msg := range []string{"1", "2", "3", "4", "5", "6"} {
		_, err := f.svc.Submit(ctx, "u1", msg)
		require.NoError(t, err)
	}

	got, err := f.svc.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, history.DefaultLen)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].TS, got[i].TS)
	}
	assert.Equal(t, "6", got[len(got)-1].Msg)
}

func TestHistorySkipsUnreadableEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Append(ctx, "u1", []byte("not json"), 1))
	_, err := f.svc.Submit(ctx, "u1", "ok")
	require.NoError(t, err)

	got, err := f.svc.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Msg)
}

func TestHistoryUnknownUser(t *testing.T) {
	f := newFixture(t)
	got, err := f.svc.History(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHistoryStoreError(t *testing.T) {
	h := hub.New(zerolog.Nop(), nil, hub.DefaultOptions())
	svc := service.New(h, brokenStore{}, zerolog.Nop())
	_, err := svc.History(context.Background(), "u1")
	assert.Error(t, err)
}

func TestClientInfoNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ClientInfo("nope")
	assert.True(t, errors.Is(err, service.ErrClientNotFound))
	assert.Empty(t, f.svc.ConnectedClients())
}

type brokenStore struct{}

func (brokenStore) Append(context.Context, string, []byte, int64) error {
	return errors.New("down")
}

func (brokenStore) Replay(context.Context, string) ([][]byte, error) {
	return nil, errors.New("down")
}
