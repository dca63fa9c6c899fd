// Package transport spawns an agent subprocess and exposes its stdin/stdout
// as a write/read/close NDJSON channel (spec §4.1, §4.2).
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kandev/agentbridge/internal/common/logger"
	"go.uber.org/zap"
)

// ErrTransportDead is returned by Write once a prior write or the child's
// exit has marked the transport unusable.
var ErrTransportDead = errors.New("transport: dead")

// StderrCallback receives each line the child writes to stderr, in addition
// to it being forwarded to the configured logger.
type StderrCallback func(line string)

// Transport owns one agent subprocess's stdin/stdout/stderr pipes.
type Transport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	logger *logger.Logger

	shutdownGrace time.Duration

	writeMu sync.Mutex
	dead    atomic.Bool

	stderrCallback StderrCallback

	lines  chan Line
	closed chan struct{}
	once   sync.Once
}

// Line is one parsed NDJSON object read from the child's stdout, or a
// terminal error/EOF marker.
type Line struct {
	Raw json.RawMessage
	Err error // set only on the final Line before the channel closes
}

// NewPipe wraps an already-connected pair of pipes as a Transport without
// spawning a process. Used to back transport/router/orchestrator tests with
// an in-process fake agent (see internal/bridge/testagent) instead of a real
// subprocess, with io.Pipe standing in for the subprocess's stdin/stdout.
func NewPipe(stdin io.WriteCloser, stdout io.ReadCloser, shutdownGrace time.Duration, log *logger.Logger) *Transport {
	t := &Transport{
		stdin:         stdin,
		stdout:        stdout,
		logger:        log.WithFields(zap.String("component", "transport"), zap.String("mode", "pipe")),
		shutdownGrace: shutdownGrace,
		lines:         make(chan Line, 64),
		closed:        make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Spawn starts the agent binary with the given options and begins reading
// its stdout in the background. The returned Transport's Lines() channel is
// closed when the child's stdout reaches EOF or a fatal read error occurs.
func Spawn(ctx context.Context, executable string, opts SpawnOptions, shutdownGrace time.Duration, log *logger.Logger) (*Transport, error) {
	bin := executable
	if opts.Executable != "" {
		bin = opts.Executable
	}
	if bin == "" {
		return nil, fmt.Errorf("transport: no executable configured")
	}

	cmd := exec.CommandContext(ctx, bin, opts.args()...)
	cmd.Dir = opts.WorkDir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	// Isolate the child in its own process group so Close can signal the
	// whole tree, not just the direct child (grounded on the teacher's
	// process.Runner, which does the same for backgrounded shell commands).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: start: %w", err)
	}

	t := &Transport{
		cmd:           cmd,
		stdin:         stdin,
		stdout:        stdout,
		logger:        log.WithFields(zap.String("component", "transport"), zap.Int("pid", cmd.Process.Pid)),
		shutdownGrace: shutdownGrace,
		lines:         make(chan Line, 64),
		closed:        make(chan struct{}),
	}

	go t.readLoop()
	go t.stderrLoop(stderr)

	return t, nil
}

// SetStderrCallback installs a callback invoked for every stderr line, in
// addition to the standard logger forwarding.
func (t *Transport) SetStderrCallback(cb StderrCallback) {
	t.stderrCallback = cb
}

// Write asynchronously pushes one serialised object with a trailing newline
// to the child's stdin.
func (t *Transport) Write(v any) error {
	if t.dead.Load() {
		return ErrTransportDead
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	_, err = t.stdin.Write(data)
	t.writeMu.Unlock()

	if err != nil {
		t.dead.Store(true)
		return fmt.Errorf("transport: write: %w", err)
	}
	t.logger.Debug("wrote line", zap.ByteString("data", data))
	return nil
}

// Lines returns the channel of inbound parsed NDJSON objects. It is closed
// (its final Line carries a non-nil Err, possibly io.EOF) once the child's
// stdout ends.
func (t *Transport) Lines() <-chan Line {
	return t.lines
}

// Dead reports whether a prior write failure or child exit has marked this
// transport unusable.
func (t *Transport) Dead() bool {
	return t.dead.Load()
}

// Close sends EOF to the child's stdin and reaps the process, escalating to
// a forced kill of the whole process group if it does not exit within the
// configured grace period.
func (t *Transport) Close() error {
	var closeErr error
	t.once.Do(func() {
		t.dead.Store(true)
		_ = t.stdin.Close()

		if t.cmd == nil {
			// Pipe-backed transport: no process to reap. Closing stdout
			// unblocks readLoop's scan, which closes the lines channel.
			if closer, ok := t.stdout.(io.Closer); ok {
				_ = closer.Close()
			}
			close(t.closed)
			return
		}

		done := make(chan error, 1)
		go func() { done <- t.cmd.Wait() }()

		select {
		case err := <-done:
			closeErr = err
		case <-time.After(t.shutdownGrace):
			t.logger.Warn("subprocess did not exit within grace period, escalating")
			if t.cmd.Process != nil {
				_ = syscall.Kill(-t.cmd.Process.Pid, syscall.SIGTERM)
			}
			select {
			case err := <-done:
				closeErr = err
			case <-time.After(t.shutdownGrace):
				if t.cmd.Process != nil {
					_ = syscall.Kill(-t.cmd.Process.Pid, syscall.SIGKILL)
				}
				closeErr = <-done
			}
		}
		close(t.closed)
	})
	return closeErr
}

func (t *Transport) readLoop() {
	defer close(t.lines)

	scanner := bufio.NewScanner(t.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		t.lines <- Line{Raw: cp}
	}

	t.dead.Store(true)
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	t.lines <- Line{Err: err}
}

func (t *Transport) stderrLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		t.logger.Warn("subprocess stderr", zap.String("line", line))
		if t.stderrCallback != nil {
			t.stderrCallback(line)
		}
	}
}
