// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package shatask is a demonstration task that hashes every regular file
// under a root directory, one file per work item.
package shatask

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/matt-FFFFFF/divvy/internal/task"
)

const (
	taskName = "sha256"

	// RootEnv overrides the directory walked by the generator (default ".").
	RootEnv = "DIVVY_SHA256_ROOT"
)

func init() {
	task.MustRegister(taskName, func() task.Task { return &Task{} })
}

// Task walks a directory in the master and hashes files in the workers.
type Task struct{}

// Generate implements task.Task.
func (t *Task) Generate(ctx context.Context, emit task.Emit) error {
	root := os.Getenv(RootEnv)
	if root == "" {
		root = "."
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		return emit(task.Tuple{path})
	})
}

// Process implements task.Task.
func (t *Task) Process(ctx context.Context, args task.Tuple) error {
	path, ok := args[0].(string)
	if !ok {
		return fmt.Errorf("expected a file path, got %T", args[0])
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}

	fmt.Printf("%x  %s\n", h.Sum(nil), path)

	return nil
}
