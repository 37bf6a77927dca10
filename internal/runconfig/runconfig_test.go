// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runconfig

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullDoc = `task: sha256
workers: 4
verbose: true
socket: /tmp/custom.sock
graceful_timeout: 45s
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(fullDoc))
	require.NoError(t, err)

	assert.Equal(t, "sha256", c.Task)
	assert.Equal(t, 4, c.Workers)
	assert.True(t, c.Verbose)
	assert.Equal(t, "/tmp/custom.sock", c.Socket)

	d, err := c.ParseGracefulTimeout()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte("task: sleep\n"))
	require.NoError(t, err)

	assert.Equal(t, 0, c.Workers)
	assert.False(t, c.Verbose)

	d, err := c.ParseGracefulTimeout()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("task: [unclosed"))
	require.ErrorIs(t, err, ErrParseConfig)
}

func TestParse_NegativeWorkers(t *testing.T) {
	_, err := Parse([]byte("workers: -1\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseGracefulTimeout_Invalid(t *testing.T) {
	c := &Config{GracefulTimeout: "soon"}

	_, err := c.ParseGracefulTimeout()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseGracefulTimeout_Negative(t *testing.T) {
	c := &Config{GracefulTimeout: "-1s"}

	_, err := c.ParseGracefulTimeout()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/divvy.yaml", []byte(fullDoc), 0o644))

	c, err := Load(fs, "/etc/divvy.yaml")
	require.NoError(t, err)
	assert.Equal(t, "sha256", c.Task)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/nope.yaml")
	require.ErrorIs(t, err, ErrGetConfigFile)
}

func TestFetch_LocalPathBypassesGetter(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg/divvy.yaml", []byte(fullDoc), 0o644))

	c, err := Fetch(context.Background(), fs, "/cfg/divvy.yaml")
	require.NoError(t, err)
	assert.Equal(t, 4, c.Workers)
}

func TestFetch_EmptyURL(t *testing.T) {
	_, err := Fetch(context.Background(), afero.NewMemMapFs(), "")
	require.ErrorIs(t, err, ErrGetConfigFile)
}
