package ipc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	msg, err := Marshal(MsgActivate, 7, ActivatePayload{
		DurationSeconds: 3600,
		ActivationType:  "manual",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)

	assert.Equal(t, MsgActivate, got.Header.Type)
	assert.Equal(t, uint32(7), got.Header.RequestID)
	assert.Equal(t, uint8(ProtocolVersion), got.Header.Version)

	var p ActivatePayload
	require.NoError(t, got.Unmarshal(&p))
	assert.Equal(t, int64(3600), p.DurationSeconds)
	assert.Equal(t, "manual", p.ActivationType)
}

func TestEmptyPayload(t *testing.T) {
	msg := NewMessage(MsgPing, 1, nil)

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgPing, got.Header.Type)
	assert.Empty(t, got.Payload)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	msg := NewMessage(MsgPing, 1, nil)
	msg.Header.Magic = 0xdeadbeef

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	_, err := ReadMessage(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}

func TestReadHeaderRejectsFutureVersion(t *testing.T) {
	msg := NewMessage(MsgPing, 1, nil)
	msg.Header.Version = ProtocolVersion + 1

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	_, err := ReadMessage(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestReadHeaderRejectsOversizedPayload(t *testing.T) {
	msg := NewMessage(MsgStatusRequest, 1, nil)
	msg.Header.Length = MaxPayloadSize + 1

	var buf bytes.Buffer
	require.NoError(t, msg.Header.Write(&buf))

	_, err := ReadMessage(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestErrorMessage(t *testing.T) {
	msg := ErrorMessage(42, "bad_request", "nope")
	require.NotNil(t, msg)
	assert.Equal(t, MsgError, msg.Header.Type)
	assert.Equal(t, uint32(42), msg.Header.RequestID)

	var p ErrorPayload
	require.NoError(t, msg.Unmarshal(&p))
	assert.Equal(t, "bad_request", p.Code)
	assert.Equal(t, "nope", p.Message)
}
