// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package ctxlog provides a context-carried slog logger. The log level is
// read from an environment variable derived from the executable name: for
// a binary named "divvy" the variable is "DIVVY_LOG_LEVEL" and accepts
// DEBUG, INFO, WARN or ERROR, defaulting to WARN.
package ctxlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type loggerKey struct{}

// LevelVar is the mutable level shared by the package loggers.
var LevelVar = &slog.LevelVar{}

// DefaultLogger is a pretty console logger used when the context carries
// no logger. It writes to stderr so it never interleaves with worker
// item output on stdout.
var DefaultLogger = slog.New(NewPrettyHandler(
	&slog.HandlerOptions{Level: LevelVar},
	WithDestinationWriter(os.Stderr),
))

func init() {
	LevelVar.Set(logLevelFromEnv())
}

// New creates a new context carrying the given logger, or DefaultLogger
// when logger is nil.
func New(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = DefaultLogger
	}

	return context.WithValue(ctx, loggerKey{}, logger)
}

// NewBuffered creates a context whose logger writes to w instead of the
// console. Used by the TUI so log lines do not corrupt the display; the
// buffer is flushed after the program exits.
func NewBuffered(ctx context.Context, w io.Writer) context.Context {
	logger := slog.New(NewPrettyHandler(
		&slog.HandlerOptions{Level: LevelVar},
		WithDestinationWriter(w),
	))

	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the logger from the context, or DefaultLogger if not found.
func Logger(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	if !ok || logger == nil {
		return DefaultLogger
	}

	return logger
}

// Debug logs a debug message with the given context.
func Debug(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Debug(msg, args...)
}

// Info logs an info message with the given context.
func Info(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Info(msg, args...)
}

// Warn logs a warning message with the given context.
func Warn(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Warn(msg, args...)
}

// Error logs an error message with the given context.
func Error(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Error(msg, args...)
}

func logLevelFromEnv() slog.Level {
	exec, _ := os.Executable()
	exec = filepath.Base(exec)

	if ext := filepath.Ext(exec); ext == ".exe" || ext == ".test" {
		exec = exec[:len(exec)-len(ext)]
	}

	envName := strings.ToUpper(exec) + "_LOG_LEVEL"

	switch os.Getenv(envName) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
