// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package master

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"

	"github.com/matt-FFFFFF/divvy/internal/task"
	"github.com/matt-FFFFFF/divvy/internal/worker"
)

// The test binary doubles as the worker executable: when these variables
// are present in the environment, TestMain runs a worker runtime instead
// of the test suite.
const (
	testWorkerTaskEnv   = "DIVVY_TEST_WORKER_TASK"
	testWorkerSocketEnv = "DIVVY_TEST_WORKER_SOCKET"
	testWorkerNumberEnv = "DIVVY_TEST_WORKER_NUMBER"
	testWorkerOutEnv    = "DIVVY_TEST_WORKER_OUT"
)

func TestMain(m *testing.M) {
	if os.Getenv(testWorkerTaskEnv) != "" {
		runTestWorker()
		return
	}

	goleak.VerifyTestMain(m)
}

// runTestWorker is the child-process entrypoint for the tests.
func runTestWorker() {
	name := os.Getenv(testWorkerTaskEnv)
	sock := os.Getenv(testWorkerSocketEnv)
	number, _ := strconv.Atoi(os.Getenv(testWorkerNumberEnv))

	var t task.Task

	switch name {
	case "echo":
		t = &echoWorkerTask{out: os.Getenv(testWorkerOutEnv)}
	case "fail-even":
		t = &failEvenWorkerTask{out: os.Getenv(testWorkerOutEnv)}
	case "flap":
		t = &flapWorkerTask{}
	case "sleep":
		t = &sleepWorkerTask{}
	default:
		fmt.Fprintf(os.Stderr, "unknown test worker task %q\n", name)
		os.Exit(2)
	}

	rt := worker.NewRuntime(number, sock, false, t)
	os.Exit(rt.Main(context.Background()))
}

// appendLine appends one line to the shared result file. O_APPEND writes
// of this size are atomic across the pool.
func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	defer f.Close() //nolint:errcheck

	_, err = fmt.Fprintln(f, line)

	return err
}

type echoWorkerTask struct {
	out string
}

func (t *echoWorkerTask) Generate(_ context.Context, _ task.Emit) error { return nil }

func (t *echoWorkerTask) Process(_ context.Context, args task.Tuple) error {
	return appendLine(t.out, fmt.Sprintf("%d|%v", os.Getpid(), args[0]))
}

type failEvenWorkerTask struct {
	out string
}

func (t *failEvenWorkerTask) Generate(_ context.Context, _ task.Emit) error { return nil }

func (t *failEvenWorkerTask) Process(_ context.Context, args task.Tuple) error {
	n := args[0].(int64)
	if n%2 == 0 {
		return fmt.Errorf("refusing even number %d", n)
	}

	return appendLine(t.out, fmt.Sprintf("%d|%d", os.Getpid(), n))
}

type flapWorkerTask struct{}

func (t *flapWorkerTask) Generate(_ context.Context, _ task.Emit) error { return nil }
func (t *flapWorkerTask) Process(_ context.Context, _ task.Tuple) error { return nil }

// AfterSpawn exits before the worker ever connects: the flapping case.
func (t *flapWorkerTask) AfterSpawn(_ task.WorkerInfo) {
	os.Exit(1)
}

type sleepWorkerTask struct{}

func (t *sleepWorkerTask) Generate(_ context.Context, _ task.Emit) error { return nil }

func (t *sleepWorkerTask) Process(_ context.Context, _ task.Tuple) error {
	time.Sleep(60 * time.Second)
	return nil
}

// testWorkerCommand starts the test binary itself as the worker process.
func testWorkerCommand(t *testing.T, taskName string, extraEnv ...string) func(h *worker.Handle) worker.Command {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	return func(h *worker.Handle) worker.Command {
		env := append(os.Environ(),
			testWorkerTaskEnv+"="+taskName,
			testWorkerSocketEnv+"="+h.SocketPath(),
			testWorkerNumberEnv+"="+strconv.Itoa(h.Number()),
		)
		env = append(env, extraEnv...)

		return worker.Command{Path: exe, Args: []string{exe}, Env: env}
	}
}

// itemsGen emits a fixed list of tuples in the master.
type itemsGen struct {
	items   []task.Tuple
	emitErr error
}

func (g *itemsGen) Generate(_ context.Context, emit task.Emit) error {
	for _, it := range g.items {
		if err := emit(it); err != nil {
			g.emitErr = err
			return err
		}
	}

	return nil
}

func (g *itemsGen) Process(_ context.Context, _ task.Tuple) error {
	return errors.New("processor must never run in the master")
}

// infiniteGen emits numbered tuples until emit refuses one.
type infiniteGen struct {
	emitErr error
}

func (g *infiniteGen) Generate(_ context.Context, emit task.Emit) error {
	for i := 0; ; i++ {
		if err := emit(task.Tuple{int64(i)}); err != nil {
			g.emitErr = err
			return err
		}
	}
}

func (g *infiniteGen) Process(_ context.Context, _ task.Tuple) error {
	return errors.New("processor must never run in the master")
}

func runWithDeadline(t *testing.T, m *Master, timeout time.Duration) error {
	t.Helper()

	errCh := make(chan error, 1)

	go func() {
		errCh <- m.Run(context.Background())
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		t.Fatal("run did not return in time")
		return nil
	}
}

func readResultLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	require.NoError(t, err)

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func assertSocketGone(t *testing.T, m *Master) {
	t.Helper()

	_, err := os.Stat(m.SocketPath())
	assert.ErrorIs(t, err, os.ErrNotExist, "socket file must not exist after run")
}

func TestRun_SingleWorkerSingleItem(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	gen := &itemsGen{items: []task.Tuple{{"just one thing"}}}

	m, err := New(gen, Options{
		Workers:       1,
		WorkerCommand: testWorkerCommand(t, "echo", testWorkerOutEnv+"="+out),
	})
	require.NoError(t, err)

	require.NoError(t, runWithDeadline(t, m, 30*time.Second))

	c := m.Counters()
	assert.Equal(t, uint64(1), c.TasksDistributed)
	assert.Zero(t, c.Failures)
	assert.Equal(t, uint64(1), c.SpawnCount)

	lines := readResultLines(t, out)
	require.Len(t, lines, 1)

	pidStr, item, found := strings.Cut(lines[0], "|")
	require.True(t, found)
	assert.Equal(t, "just one thing", item)

	pid, err := strconv.Atoi(pidStr)
	require.NoError(t, err)
	assert.NotEqual(t, os.Getpid(), pid, "processor must run in a worker process")

	assertSocketGone(t, m)
}

func TestRun_FailureCounting(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")

	items := make([]task.Tuple, 0, 10)
	for i := range 10 {
		items = append(items, task.Tuple{int64(i)})
	}

	gen := &itemsGen{items: items}

	m, err := New(gen, Options{
		Workers:       5,
		WorkerCommand: testWorkerCommand(t, "fail-even", testWorkerOutEnv+"="+out),
	})
	require.NoError(t, err)

	require.NoError(t, runWithDeadline(t, m, 60*time.Second))

	c := m.Counters()
	assert.Equal(t, uint64(10), c.TasksDistributed)
	assert.Equal(t, uint64(5), c.Failures, "one failure per even item")

	lines := readResultLines(t, out)
	assert.Len(t, lines, 5, "odd items processed")

	assertSocketGone(t, m)
}

func TestRun_FlappingWorkersBootFailure(t *testing.T) {
	gen := &itemsGen{items: []task.Tuple{{"never delivered"}}}

	m, err := New(gen, Options{
		Workers:       1,
		WorkerCommand: testWorkerCommand(t, "flap"),
	})
	require.NoError(t, err)

	err = runWithDeadline(t, m, 30*time.Second)
	require.ErrorIs(t, err, ErrBootFailure)

	c := m.Counters()
	assert.Zero(t, c.TasksDistributed)
	assert.GreaterOrEqual(t, c.Failures, uint64(1))

	assertSocketGone(t, m)
	assert.ErrorIs(t, gen.emitErr, ErrBootFailure, "generator observes the boot failure from emit")
}

func TestRun_GracefulShutdownOnInterrupt(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	gen := &infiniteGen{}

	m, err := New(gen, Options{
		Workers:       2,
		WorkerCommand: testWorkerCommand(t, "echo", testWorkerOutEnv+"="+out),
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = unix.Kill(os.Getpid(), unix.SIGINT)
	}()

	require.NoError(t, runWithDeadline(t, m, 30*time.Second))

	c := m.Counters()
	assert.Positive(t, c.TasksDistributed)
	assert.Zero(t, c.Failures, "drained workers exit cleanly")

	// Every item written to a worker was fully processed: nothing was
	// interrupted mid-call.
	lines := readResultLines(t, out)
	assert.Equal(t, c.TasksDistributed, uint64(len(lines)))

	assert.ErrorIs(t, gen.emitErr, task.ErrStopDispatch)
	assertSocketGone(t, m)
}

func TestRun_ForcefulShutdownEscalation(t *testing.T) {
	gen := &infiniteGen{}

	m, err := New(gen, Options{
		Workers:       2,
		WorkerCommand: testWorkerCommand(t, "sleep"),
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = unix.Kill(os.Getpid(), unix.SIGTERM)
	}()

	start := time.Now()
	err = runWithDeadline(t, m, 30*time.Second)
	require.ErrorIs(t, err, ErrForcefulShutdown)

	// Workers sleeping 60s must be SIGKILLed, not waited for.
	assert.Less(t, time.Since(start), 10*time.Second)

	assertSocketGone(t, m)
}

func TestRun_CallerShutdownDrains(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	gen := &infiniteGen{}

	m, err := New(gen, Options{
		Workers:       2,
		WorkerCommand: testWorkerCommand(t, "echo", testWorkerOutEnv+"="+out),
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(200 * time.Millisecond)
		m.Shutdown()
	}()

	require.NoError(t, runWithDeadline(t, m, 30*time.Second))
	assert.ErrorIs(t, gen.emitErr, task.ErrStopDispatch)
	assertSocketGone(t, m)
}

func TestRun_ContextCancelDrains(t *testing.T) {
	gen := &infiniteGen{}

	m, err := New(gen, Options{
		Workers:       1,
		WorkerCommand: testWorkerCommand(t, "sleep"),
		// The sleeping worker cannot drain; the cap keeps the test fast.
		GracefulTimeout: time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		errCh <- m.Run(ctx)
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("run did not return after context cancel")
	}

	assertSocketGone(t, m)
}

func TestRun_GeneratorErrorPropagates(t *testing.T) {
	genErr := errors.New("generator blew up")

	gen := &errorGen{after: 1, err: genErr}

	m, err := New(gen, Options{
		Workers:       1,
		WorkerCommand: testWorkerCommand(t, "echo", testWorkerOutEnv+"="+filepath.Join(t.TempDir(), "out")),
	})
	require.NoError(t, err)

	err = runWithDeadline(t, m, 30*time.Second)
	require.ErrorIs(t, err, genErr)

	assertSocketGone(t, m)
}

// errorGen emits a few items then fails in the master.
type errorGen struct {
	after int
	err   error
}

func (g *errorGen) Generate(_ context.Context, emit task.Emit) error {
	for i := range g.after {
		if err := emit(task.Tuple{int64(i)}); err != nil {
			return err
		}
	}

	return g.err
}

func (g *errorGen) Process(_ context.Context, _ task.Tuple) error {
	return errors.New("processor must never run in the master")
}

func TestRun_EmptyGenerator(t *testing.T) {
	gen := &itemsGen{}

	m, err := New(gen, Options{
		Workers:       3,
		WorkerCommand: testWorkerCommand(t, "echo"),
	})
	require.NoError(t, err)

	require.NoError(t, runWithDeadline(t, m, 10*time.Second))

	c := m.Counters()
	assert.Zero(t, c.TasksDistributed)
	assert.Zero(t, c.SpawnCount, "workers boot lazily, per item")

	assertSocketGone(t, m)
}

func TestRun_RefusesSecondRun(t *testing.T) {
	gen := &itemsGen{}

	m, err := New(gen, Options{
		Workers:       1,
		WorkerCommand: testWorkerCommand(t, "echo"),
	})
	require.NoError(t, err)

	require.NoError(t, runWithDeadline(t, m, 10*time.Second))
	require.ErrorIs(t, m.Run(context.Background()), ErrListenerExists)
}

func TestRun_BindErrorBeforeAnySpawn(t *testing.T) {
	gen := &itemsGen{items: []task.Tuple{{"x"}}}

	m, err := New(gen, Options{
		Workers:       1,
		SocketPath:    filepath.Join(os.TempDir(), "no-such-dir-divvy", "d.sock"),
		WorkerCommand: testWorkerCommand(t, "echo"),
	})
	require.NoError(t, err)

	err = m.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, m.Counters().SpawnCount)
}

func TestNew_WorkerCountValidated(t *testing.T) {
	_, err := New(&itemsGen{}, Options{Workers: 0})
	require.ErrorIs(t, err, ErrWorkerCount)
}

func TestNew_DefaultsApplied(t *testing.T) {
	m, err := New(&itemsGen{}, Options{Workers: 2, TaskName: "sleep"})
	require.NoError(t, err)

	assert.NotEmpty(t, m.SocketPath())
	assert.Contains(t, m.SocketPath(), "divvy-")
	assert.Equal(t, DefaultGracefulTimeout, m.opts.GracefulTimeout)
	assert.NotNil(t, m.opts.WorkerCommand)
}
