package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// ProcConfig describes the subprocess a ProcTransport runs.
type ProcConfig struct {
	Command string
	Args    []string

	// Env entries ("KEY=VALUE") are appended to the parent environment.
	Env []string

	Logger *slog.Logger
}

// ProcTransport runs a tool service as a subprocess and speaks
// newline-delimited JSON-RPC over its stdin/stdout. The subprocess is
// started lazily on first use and outlives individual call contexts: a
// per-call timeout kills the process (there is no other way to abort a
// blocked pipe read), but an idle transport keeps its process warm.
//
// A one-slot semaphore serializes Send/Notify, since interleaved writes
// on a single pipe would corrupt the stream.
type ProcTransport struct {
	config ProcConfig
	logger *slog.Logger

	sem chan struct{}

	// Guarded by the semaphore.
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

// NewProcTransport creates a transport for the given subprocess. The
// process is not started until the first Send or Notify.
func NewProcTransport(cfg ProcConfig) *ProcTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcTransport{
		config: cfg,
		logger: logger,
		sem:    make(chan struct{}, 1),
	}
}

// acquire takes the transport slot, honoring ctx while waiting. The
// double-check after a successful take covers a ctx that was already
// cancelled when the slot happened to be free.
func (t *ProcTransport) acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
		if err := ctx.Err(); err != nil {
			<-t.sem
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *ProcTransport) release() {
	<-t.sem
}

// start launches the subprocess if it is not already running. Caller
// must hold the semaphore.
func (t *ProcTransport) start() error {
	if t.cmd != nil && t.cmd.ProcessState == nil {
		return nil
	}

	t.logger.Info("starting tool service process",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stderr.Close()
		stdout.Close()
		stdin.Close()
		return fmt.Errorf("start %s: %w", t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReaderSize(stdout, 1<<20) // tool output can be large

	// Service diagnostics land on stderr; keep them out of the protocol
	// stream but visible in our logs.
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
		for scanner.Scan() {
			t.logger.Debug("tool service stderr", "line", scanner.Text())
		}
	}()

	t.logger.Info("tool service process started", "pid", cmd.Process.Pid)
	return nil
}

type lineRead struct {
	line []byte
	err  error
}

// Send writes one request and reads lines until the response with the
// matching ID appears. The read runs in a goroutine so ctx cancellation
// can interrupt it; since a blocked pipe read cannot be aborted any
// other way, cancellation kills the subprocess.
func (t *ProcTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	if err := t.start(); err != nil {
		return nil, err
	}

	if err := t.writeLine(req); err != nil {
		return nil, err
	}

	for {
		ch := make(chan lineRead, 1)
		go func() {
			line, err := t.reader.ReadBytes('\n')
			ch <- lineRead{line: line, err: err}
		}()

		select {
		case <-ctx.Done():
			t.teardown()
			return nil, ctx.Err()
		case r := <-ch:
			if r.err != nil {
				t.teardown()
				return nil, fmt.Errorf("read from tool service: %w", r.err)
			}

			var resp Response
			if err := json.Unmarshal(r.line, &resp); err != nil {
				t.logger.Debug("ignoring non-JSON line from tool service", "line", string(r.line))
				continue
			}
			if resp.ID == req.ID {
				return &resp, nil
			}
			// Server-initiated notifications and stale replies are skipped.
			t.logger.Debug("ignoring unmatched message from tool service", "id", resp.ID)
		}
	}
}

// Notify writes one notification. No response is read.
func (t *ProcTransport) Notify(ctx context.Context, notif *Notification) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	if err := t.start(); err != nil {
		return err
	}
	return t.writeLine(notif)
}

// writeLine marshals v and writes it with the newline delimiter.
// Caller must hold the semaphore.
func (t *ProcTransport) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.teardown()
		return fmt.Errorf("write to tool service: %w", err)
	}
	return nil
}

// Close waits for any in-flight call, then stops the subprocess.
func (t *ProcTransport) Close() error {
	t.sem <- struct{}{}
	defer t.release()

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	t.logger.Info("stopping tool service process", "pid", t.cmd.Process.Pid)

	// Closing stdin asks the service to exit on its own.
	if t.stdin != nil {
		t.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case err := <-done:
		t.cmd = nil
		return err
	case <-time.After(5 * time.Second):
		t.logger.Warn("tool service did not exit, killing", "pid", t.cmd.Process.Pid)
		_ = t.cmd.Process.Kill()
		<-done
		t.cmd = nil
		return nil
	}
}

// teardown force-kills the subprocess after a protocol failure. The
// next call will start a fresh process. Caller must hold the semaphore.
func (t *ProcTransport) teardown() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	t.cmd = nil
	t.stdin = nil
	t.reader = nil
}
