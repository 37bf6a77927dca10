// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package cmd contains the command-line interface (CLI) for the module.
package cmd

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/matt-FFFFFF/divvy/cmd/list"
	"github.com/matt-FFFFFF/divvy/cmd/run"
	"github.com/matt-FFFFFF/divvy/cmd/workercmd"
	"github.com/matt-FFFFFF/divvy/internal/ctxlog"
)

// RootCmd is the root command for the CLI.
var RootCmd = &cli.Command{
	Commands: []*cli.Command{
		run.RunCmd,
		list.ListCmd,
		workercmd.WorkerCmd,
	},
	Writer:    os.Stdout,
	ErrWriter: os.Stderr,
	Name:      "divvy",
	Description: `Divvy distributes generated work items across a fixed pool of worker
processes on the local host. A task contributes a generator, which lazily emits
tuples of arguments, and a processor, which handles one tuple per item inside a
worker. Dead workers are reaped and replaced; SIGINT drains in-flight work and
SIGTERM terminates immediately.`,
	Usage:     "divvy run --task mytask -n 4",
	Copyright: "Copyright (c) matt-FFFFFF 2025. All rights reserved.",
	Authors: []any{
		"Matt White (matt-FFFFFF)",
	},
	EnableShellCompletion: true,
}

// Main runs the root command and returns the process exit code. Binaries
// embedding divvy register their tasks and then hand over to Main; the
// hidden worker subcommand needs the same binary to be re-executable.
func Main() int {
	ctx := ctxlog.New(context.Background(), ctxlog.DefaultLogger)

	if err := RootCmd.Run(ctx, os.Args); err != nil {
		ctxlog.Error(ctx, "command failed", "error", err)
		return 1
	}

	return 0
}
