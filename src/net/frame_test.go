package net

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundtrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xAB}, 64*1024),
	}

	buf := new(bytes.Buffer)
	for _, payload := range payloads {
		require.NoError(t, WriteFrame(buf, payload))
	}

	for _, expected := range payloads {
		got, err := ReadFrame(buf)
		require.NoError(t, err)
		assert.Equal(t, expected, got)
	}
}

func TestFrameLittleEndianPrefix(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteFrame(buf, []byte("abc")))

	raw := buf.Bytes()
	require.Len(t, raw, 8+3)
	assert.EqualValues(t, 3, binary.LittleEndian.Uint64(raw[:8]))
	assert.Equal(t, []byte("abc"), raw[8:])
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteFrame(buf, []byte("full payload")))

	truncated := bytes.NewReader(buf.Bytes()[:10])

	_, err := ReadFrame(truncated)
	require.Error(t, err)

	framingErr := &FramingError{}
	assert.ErrorAs(t, err, &framingErr)
}

func TestReadFrameTruncatedPrefix(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0x01, 0x02}))
	require.Error(t, err)

	framingErr := &FramingError{}
	assert.ErrorAs(t, err, &framingErr)
}

func TestReadFrameAbsurdLength(t *testing.T) {
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(prefix[:]))
	require.Error(t, err)

	framingErr := &FramingError{}
	require.ErrorAs(t, err, &framingErr)
	assert.Contains(t, framingErr.Reason, "frame limit")
}
