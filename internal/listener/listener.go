// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package listener owns the unix stream socket the master accepts worker
// connections on. The listen backlog is set to the worker count so that
// every worker can have a connection pending at the same time without
// observing a refusal.
package listener

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrBind is returned when the socket cannot be created or bound.
	ErrBind = errors.New("failed to bind socket")
	// ErrListen is returned when the bound socket cannot start listening.
	ErrListen = errors.New("failed to listen on socket")
	// ErrNoPending is returned by Accept when no connection arrived within
	// the timeout.
	ErrNoPending = errors.New("no pending connection")
	// ErrClosed is returned by Accept after Stop.
	ErrClosed = errors.New("listener closed")
)

// Listener is a unix stream socket with an explicit backlog.
type Listener struct {
	path string
	ul   *net.UnixListener

	stopOnce sync.Once
}

// Start unlinks any stale socket file at path, binds a stream socket to it
// and begins listening with the given backlog. The caller owns the socket
// file until Stop.
//
// The standard library does not expose the backlog, so the socket is
// created and bound through the raw syscall interface and then handed to
// the net package for deadline-aware accepts.
func Start(path string, backlog int) (*Listener, error) {
	// Clear a stale file from a previous run. The path is removed even if
	// another process still listens on it; a path that cannot be removed
	// (e.g. permission denied) surfaces as ErrBind.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Join(ErrBind, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, errors.Join(ErrBind, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %s: %w", ErrBind, path, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		_ = os.Remove(path)

		return nil, errors.Join(ErrListen, err)
	}

	f := os.NewFile(uintptr(fd), path)

	fl, err := net.FileListener(f)

	// The net package dups the fd; the original is no longer needed either way.
	_ = f.Close()

	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Join(ErrListen, err)
	}

	ul, ok := fl.(*net.UnixListener)
	if !ok {
		_ = fl.Close()
		_ = os.Remove(path)

		return nil, fmt.Errorf("%w: unexpected listener type %T", ErrListen, fl)
	}

	return &Listener{path: path, ul: ul}, nil
}

// Path returns the socket file path.
func (l *Listener) Path() string {
	return l.path
}

// Accept waits up to timeout for a pending connection and accepts it.
// ErrNoPending is returned on timeout, ErrClosed after Stop. The wait is
// bounded so the caller can interleave flag checks between accepts.
func (l *Listener) Accept(timeout time.Duration) (net.Conn, error) {
	if err := l.ul.SetDeadline(time.Now().Add(timeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}

		return nil, err
	}

	conn, err := l.ul.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrNoPending
		}

		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}

		return nil, err
	}

	return conn, nil
}

// Stop closes the listening socket and unlinks the socket file. Workers
// that connect afterwards observe a refusal or a clean end-of-stream and
// exit. Idempotent.
func (l *Listener) Stop() error {
	var err error

	l.stopOnce.Do(func() {
		err = l.ul.Close()

		if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
	})

	return err
}
