package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"bind","msg":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameBind, f.Type)
	assert.Equal(t, "alice", f.Msg)

	f, err = ParseFrame([]byte(`{"type":"chat","msg":"hi","uid":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameChat, f.Type)
	assert.Equal(t, "bob", f.UID)
}

func TestParseFrameLegacyBind(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"uid","msg":"1234"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameBind, f.Type)
}

func TestParseFrameErrors(t *testing.T) {
	_, err := ParseFrame([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = ParseFrame([]byte(`{"type":"dance","msg":"x"}`))
	assert.ErrorIs(t, err, ErrUnknownFrameType)

	_, err = ParseFrame([]byte(`{"msg":"x"}`))
	assert.ErrorIs(t, err, ErrUnknownFrameType)
}

func TestEnvelopeWireFormat(t *testing.T) {
	env := Envelope{Kind: KindChat, Msg: "hello", From: "alice", TS: 1700000000000}
	data, err := env.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"chat","msg":"hello","from":"alice","ts":1700000000000}`, string(data))
	assert.False(t, env.Targeted())
}

func TestParseEnvelopeIgnoresUnknownFields(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"uid":"u1","msg":"hello","ts":5,"type":"chat"}`))
	require.NoError(t, err)
	assert.True(t, env.Targeted())
	assert.Equal(t, "u1", env.UID)
	assert.Equal(t, int64(5), env.TS)

	_, err = ParseEnvelope([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestNewEnvelopeStampsTime(t *testing.T) {
	env := NewEnvelope(KindNotification, "", "u1", "hi")
	assert.Positive(t, env.TS)
	assert.Equal(t, KindNotification, env.Kind)
}
