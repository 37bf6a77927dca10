// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main is the entry point for the divvy command-line application.
//
// Signal handling is deliberately absent here: the dispatch engine owns
// the process signal dispositions for the duration of a run.
package main

import (
	"os"

	"github.com/matt-FFFFFF/divvy/cmd"
	_ "github.com/matt-FFFFFF/divvy/internal/alltasks"
)

func main() {
	os.Exit(cmd.Main())
}
