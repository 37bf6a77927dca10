// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-FFFFFF/divvy/internal/task"
)

func TestRoundTrip(t *testing.T) {
	in := task.Tuple{
		nil,
		true,
		int64(42),
		int64(-7),
		3.5,
		"just one thing",
		[]byte{0x00, 0x01, 0xff},
		[]any{int64(1), "two"},
		map[string]any{"key": "value", "n": int64(9)},
	}

	var buf bytes.Buffer

	require.NoError(t, WriteTuple(&buf, in))

	out, err := ReadTuple(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRoundTrip_IntNormalization(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteTuple(&buf, task.Tuple{7, int32(8), uint16(9)}))

	out, err := ReadTuple(&buf)
	require.NoError(t, err)
	assert.Equal(t, task.Tuple{int64(7), int64(8), int64(9)}, out)
}

func TestRoundTrip_EmptyTuple(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteTuple(&buf, task.Tuple{}))

	out, err := ReadTuple(&buf)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReadTuple_CleanEOF(t *testing.T) {
	_, err := ReadTuple(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadTuple_ShortFrame(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteTuple(&buf, task.Tuple{"payload"}))

	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := ReadTuple(bytes.NewReader(truncated))
	require.ErrorIs(t, err, ErrShortFrame)
}

func TestReadTuple_TruncatedPrefix(t *testing.T) {
	_, err := ReadTuple(bytes.NewReader([]byte{0x00, 0x00}))
	require.ErrorIs(t, err, ErrShortFrame)
}

func TestReadTuple_OversizedFrameRejected(t *testing.T) {
	var prefix [4]byte

	binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)

	_, err := ReadTuple(bytes.NewReader(prefix[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteTuple_FrameSizeEnforced(t *testing.T) {
	big := make([]byte, MaxFrameSize+1)

	err := WriteTuple(io.Discard, task.Tuple{big})
	require.ErrorIs(t, err, ErrFrameTooLarge)
}
