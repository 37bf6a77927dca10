// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package run implements the command that runs a registered task over a
// worker pool.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/matt-FFFFFF/divvy/internal/ctxlog"
	"github.com/matt-FFFFFF/divvy/internal/master"
	"github.com/matt-FFFFFF/divvy/internal/runconfig"
	"github.com/matt-FFFFFF/divvy/internal/task"
	"github.com/matt-FFFFFF/divvy/internal/tui"
)

const (
	taskFlag            = "task"
	workersFlag         = "workers"
	verboseFlag         = "verbose"
	configFlag          = "config"
	socketFlag          = "socket"
	gracefulTimeoutFlag = "graceful-timeout"
	tuiFlag             = "tui"

	cliExitStr = ""
)

// RunCmd is the command that dispatches a task's generated items across a
// worker pool.
var RunCmd = &cli.Command{
	Name: "run",
	Description: `Run a registered task: drive its generator in this process and fan the
emitted items out to a pool of worker processes over a local socket.

The run ends when the generator is exhausted and the pool has drained. Press
Ctrl+C once to stop generating and drain in-flight items; a repeat Ctrl+C after
the grace period, or SIGTERM, terminates the pool immediately.

Settings may also come from a YAML file fetched with go-getter syntax; explicit
flags win over the file.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     taskFlag,
			Aliases:  []string{"t"},
			Usage:    "Name of the registered task to run.",
			OnlyOnce: true,
		},
		&cli.IntFlag{
			Name:    workersFlag,
			Aliases: []string{"n"},
			Usage:   "Number of worker processes.",
			Value:   1,
		},
		&cli.BoolFlag{
			Name:        verboseFlag,
			Aliases:     []string{"v"},
			Usage:       "Verbose stderr logging in master and workers.",
			Value:       false,
			DefaultText: "false",
			OnlyOnce:    true,
		},
		&cli.StringFlag{
			Name:     configFlag,
			Aliases:  []string{"c"},
			Usage:    "URL of a YAML run configuration. Supports Hashicorp's go-getter syntax.",
			OnlyOnce: true,
		},
		&cli.StringFlag{
			Name:     socketFlag,
			Usage:    "Override the dispatch socket path.",
			OnlyOnce: true,
		},
		&cli.DurationFlag{
			Name:     gracefulTimeoutFlag,
			Usage:    "Maximum time to wait for workers to drain before escalating to SIGKILL.",
			OnlyOnce: true,
		},
		&cli.BoolFlag{
			Name:        tuiFlag,
			Aliases:     []string{"interactive"},
			Usage:       "Show a live worker pool display while running.",
			Value:       false,
			DefaultText: "false",
			OnlyOnce:    true,
		},
	},
	Action: actionFunc,
}

// settings is the merged run configuration: file values overlaid with
// explicit flags.
type settings struct {
	taskName        string
	workers         int
	verbose         bool
	socket          string
	gracefulTimeout time.Duration
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	logger := ctxlog.Logger(ctx).With("command", cmd.Name)

	s, err := mergeSettings(ctx, cmd)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if s.taskName == "" {
		logger.Error("Please specify a task with the --task or -t flag, or in the config file.")
		return cli.Exit(cliExitStr, 1)
	}

	if s.verbose {
		ctxlog.LevelVar.Set(slog.LevelDebug)
	}

	t, err := task.DefaultRegistry.New(s.taskName)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	m, err := master.New(t, master.Options{
		Workers:         s.workers,
		Verbose:         s.verbose,
		SocketPath:      s.socket,
		TaskName:        s.taskName,
		GracefulTimeout: s.gracefulTimeout,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	var runErr error

	switch cmd.Bool(tuiFlag) {
	case true:
		runErr = runWithTUI(ctx, cmd, m, s)
	default:
		runErr = m.Run(ctx)
	}

	c := m.Counters()
	logger.Info("run finished",
		"tasksDistributed", c.TasksDistributed,
		"failures", c.Failures,
		"spawnCount", c.SpawnCount,
	)

	if runErr != nil {
		logger.Error(fmt.Sprintf("run failed: %s", runErr.Error()))
		return cli.Exit(cliExitStr, 1)
	}

	return nil
}

// runWithTUI executes the dispatch under the live display. Log output is
// buffered while the display owns the terminal and flushed afterwards.
func runWithTUI(ctx context.Context, cmd *cli.Command, m *master.Master, s settings) error {
	buf := new(bytes.Buffer)
	tuiCtx := ctxlog.NewBuffered(ctx, buf)

	runner := tui.NewRunner(s.taskName, s.workers, m)
	m.SetReporter(runner.Reporter())

	err := runner.Run(tuiCtx, m.Run)

	buf.WriteTo(cmd.ErrWriter) //nolint:errcheck // Flush buffered log output once the display is gone

	return err
}

// mergeSettings overlays explicit flags onto the optional config file.
func mergeSettings(ctx context.Context, cmd *cli.Command) (settings, error) {
	s := settings{
		taskName: cmd.String(taskFlag),
		workers:  cmd.Int(workersFlag),
		verbose:  cmd.Bool(verboseFlag),
		socket:   cmd.String(socketFlag),
	}

	if cmd.IsSet(gracefulTimeoutFlag) {
		s.gracefulTimeout = cmd.Duration(gracefulTimeoutFlag)
	}

	url := cmd.String(configFlag)
	if url == "" {
		return s, nil
	}

	cfg, err := runconfig.Fetch(ctx, afero.NewOsFs(), url)
	if err != nil {
		return s, err
	}

	if s.taskName == "" {
		s.taskName = cfg.Task
	}

	if !cmd.IsSet(workersFlag) && cfg.Workers > 0 {
		s.workers = cfg.Workers
	}

	if !cmd.IsSet(verboseFlag) {
		s.verbose = cfg.Verbose
	}

	if s.socket == "" {
		s.socket = cfg.Socket
	}

	if !cmd.IsSet(gracefulTimeoutFlag) {
		d, err := cfg.ParseGracefulTimeout()
		if err != nil {
			return s, err
		}

		s.gracefulTimeout = d
	}

	if s.workers < 1 {
		return s, errors.Join(runconfig.ErrInvalidConfig, master.ErrWorkerCount)
	}

	return s, nil
}
