// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package workercmd implements the hidden worker subcommand. The master
// re-executes the current binary with this subcommand to start each pool
// member; it is not meant to be invoked by hand.
package workercmd

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/matt-FFFFFF/divvy/internal/ctxlog"
	"github.com/matt-FFFFFF/divvy/internal/task"
	"github.com/matt-FFFFFF/divvy/internal/worker"
)

const (
	taskFlag    = "task"
	socketFlag  = "socket"
	numberFlag  = "number"
	verboseFlag = "verbose"
)

// WorkerCmd is the child-process entrypoint.
var WorkerCmd = &cli.Command{
	Name:   "worker",
	Hidden: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     taskFlag,
			Required: true,
			Usage:    "Registered task name.",
		},
		&cli.StringFlag{
			Name:     socketFlag,
			Required: true,
			Usage:    "Path of the dispatch socket.",
		},
		&cli.IntFlag{
			Name:     numberFlag,
			Required: true,
			Usage:    "Worker slot number.",
		},
		&cli.BoolFlag{
			Name:    verboseFlag,
			Aliases: []string{"v"},
			Value:   false,
		},
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool(verboseFlag) {
		ctxlog.LevelVar.Set(slog.LevelDebug)
	}

	t, err := task.DefaultRegistry.New(cmd.String(taskFlag))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	rt := worker.NewRuntime(cmd.Int(numberFlag), cmd.String(socketFlag), cmd.Bool(verboseFlag), t)

	if code := rt.Main(ctx); code != 0 {
		return cli.Exit("", code)
	}

	return nil
}
