// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package sleeptask is a demonstration task whose processor just sleeps.
// Useful for watching the pool drain and shut down.
package sleeptask

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/matt-FFFFFF/divvy/internal/task"
)

const (
	taskName = "sleep"

	// ItemsEnv overrides the number of generated items (default 20).
	ItemsEnv = "DIVVY_SLEEP_ITEMS"
	// DurationEnv overrides the per-item sleep (default 500ms).
	DurationEnv = "DIVVY_SLEEP_DURATION"
)

func init() {
	task.MustRegister(taskName, func() task.Task { return &Task{} })
}

// Task generates numbered items and sleeps for each one.
type Task struct{}

// Generate implements task.Task.
func (t *Task) Generate(ctx context.Context, emit task.Emit) error {
	items := 20
	if v, err := strconv.Atoi(os.Getenv(ItemsEnv)); err == nil && v > 0 {
		items = v
	}

	d := 500 * time.Millisecond
	if v, err := time.ParseDuration(os.Getenv(DurationEnv)); err == nil && v > 0 {
		d = v
	}

	for i := range items {
		if err := emit(task.Tuple{int64(i), d.String()}); err != nil {
			return err
		}
	}

	return nil
}

// Process implements task.Task.
func (t *Task) Process(ctx context.Context, args task.Tuple) error {
	d, err := time.ParseDuration(args[1].(string))
	if err != nil {
		return err
	}

	time.Sleep(d)

	return nil
}
