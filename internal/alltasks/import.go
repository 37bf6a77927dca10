// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package alltasks imports the shipped task packages to ensure their registration.
package alltasks

import (
	// Import all task packages to trigger their init functions.
	_ "github.com/matt-FFFFFF/divvy/internal/tasks/shatask"
	_ "github.com/matt-FFFFFF/divvy/internal/tasks/sleeptask"
)
