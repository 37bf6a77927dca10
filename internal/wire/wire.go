// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package wire implements the framing used to move one tuple from the
// master to a worker. Each item is a 4-byte big-endian length prefix
// followed by a MessagePack-encoded array. One item travels per
// connection; the connection close delimits the item.
//
// The value domain round-tripped by the codec is: nil, bool, signed and
// unsigned integers, float32/float64, string, []byte, []any and
// map[string]any. Decoding normalizes integers to int64 (uint64 for
// values above math.MaxInt64), floats to float64 and nested collections
// to []any / map[string]any.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/matt-FFFFFF/divvy/internal/task"
)

const (
	lenPrefixSize = 4
	// MaxFrameSize bounds a single encoded tuple. Items are expected to be
	// small argument lists, not payloads.
	MaxFrameSize = 8 * 1024 * 1024 // 8MB
)

var (
	// ErrFrameTooLarge is returned when an encoded tuple exceeds MaxFrameSize.
	ErrFrameTooLarge = fmt.Errorf("frame exceeds max size of %d bytes", MaxFrameSize)
	// ErrEncode is returned when a tuple cannot be encoded.
	ErrEncode = errors.New("failed to encode tuple")
	// ErrDecode is returned when a frame cannot be decoded.
	ErrDecode = errors.New("failed to decode tuple")
	// ErrShortFrame is returned when the stream ends inside a frame.
	ErrShortFrame = errors.New("stream ended inside frame")
)

// WriteTuple encodes t and writes one length-framed item to w.
func WriteTuple(w io.Writer, t task.Tuple) error {
	payload, err := msgpack.Marshal([]any(t))
	if err != nil {
		return errors.Join(ErrEncode, err)
	}

	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var prefix [lenPrefixSize]byte

	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}

	_, err = w.Write(payload)

	return err
}

// ReadTuple reads one length-framed item from r and decodes it.
//
// io.EOF is returned unwrapped when the stream ends cleanly before the
// first byte of a frame; callers use this to detect end-of-stream. An EOF
// inside a frame is reported as ErrShortFrame.
func ReadTuple(r io.Reader) (task.Tuple, error) {
	var prefix [lenPrefixSize]byte

	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}

		return nil, err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrFrameTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}

		return nil, err
	}

	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.UseLooseInterfaceDecoding(true)

	var vals []any
	if err := dec.Decode(&vals); err != nil {
		return nil, errors.Join(ErrDecode, err)
	}

	return task.Tuple(vals), nil
}
