// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main shows how to embed divvy in your own binary: register a
// task, then hand over to the CLI. The same binary is re-executed with
// the hidden worker subcommand to start the pool members, so the
// registration must happen before cmd.Main.
//
// Run it with:
//
//	example run --task greet -n 2
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/matt-FFFFFF/divvy/cmd"
	"github.com/matt-FFFFFF/divvy/internal/task"
)

type greetTask struct{}

func (greetTask) Generate(ctx context.Context, emit task.Emit) error {
	for _, name := range []string{"world", "gopher", "divvy"} {
		if err := emit(task.Tuple{name}); err != nil {
			return err
		}
	}

	return nil
}

func (greetTask) Process(ctx context.Context, args task.Tuple) error {
	fmt.Printf("hello, %s! (from pid %d)\n", args[0], os.Getpid())
	return nil
}

// AfterSpawn logs each worker as it comes up.
func (greetTask) AfterSpawn(w task.WorkerInfo) {
	fmt.Fprintf(os.Stderr, "worker %d ready as pid %d\n", w.Number(), w.Pid())
}

func main() {
	task.MustRegister("greet", func() task.Task { return greetTask{} })
	os.Exit(cmd.Main())
}
