// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package list implements the command that prints the registered tasks.
package list

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/matt-FFFFFF/divvy/internal/task"
)

// ListCmd prints the names of all registered tasks.
var ListCmd = &cli.Command{
	Name:        "list",
	Description: "List the tasks registered in this binary.",
	Action: func(_ context.Context, cmd *cli.Command) error {
		for _, name := range task.DefaultRegistry.Names() {
			fmt.Fprintln(cmd.Writer, name)
		}

		return nil
	},
}
