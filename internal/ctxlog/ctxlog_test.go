// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	lv := &slog.LevelVar{}
	lv.Set(level)

	return slog.New(NewPrettyHandler(
		&slog.HandlerOptions{Level: lv},
		WithDestinationWriter(buf),
	))
}

func TestLogger_DefaultWhenUnset(t *testing.T) {
	assert.Same(t, DefaultLogger, Logger(context.Background()))
}

func TestLogger_RoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newBufLogger(buf, slog.LevelInfo)

	ctx := New(context.Background(), logger)
	assert.Same(t, logger, Logger(ctx))
}

func TestNew_NilLoggerFallsBack(t *testing.T) {
	ctx := New(context.Background(), nil)
	assert.Same(t, DefaultLogger, Logger(ctx))
}

func TestInfo_WritesMessageAndAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := New(context.Background(), newBufLogger(buf, slog.LevelInfo))

	Info(ctx, "worker booted", "slot", 3)

	out := buf.String()
	assert.Contains(t, out, "worker booted")
	assert.Contains(t, out, "slot")
	assert.Contains(t, out, "3")
}

func TestDebug_SuppressedBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := New(context.Background(), newBufLogger(buf, slog.LevelInfo))

	Debug(ctx, "not shown")

	assert.Empty(t, buf.String())
}

func TestNewBuffered(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := NewBuffered(context.Background(), buf)

	Logger(ctx).Warn("buffered line")

	assert.Contains(t, buf.String(), "buffered line")
}

func TestPrettyHandler_WithAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newBufLogger(buf, slog.LevelInfo).With("pool", "alpha")

	logger.Info("hello")

	out := buf.String()
	require.Contains(t, out, "hello")
	assert.Contains(t, out, "pool")
	assert.Contains(t, out, "alpha")
}
