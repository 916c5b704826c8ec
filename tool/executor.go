package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

const (
	defaultMaxOutputBytes = 8 << 20
	defaultWaitDelay      = 2 * time.Second
)

// ExecutorConfig tunes worker process handling.
type ExecutorConfig struct {
	// MaxOutputBytes bounds each captured stream. Stdout beyond the bound makes
	// the outcome malformed; stderr is truncated.
	MaxOutputBytes int64
	// WaitDelay bounds how long output pipes may stay open after the worker
	// is killed or exits.
	WaitDelay time.Duration
	// BaseEnv is the environment inherited by every worker. Nil means the
	// host environment.
	BaseEnv []string
}

// WorkerExecutor runs one worker subprocess per call. It holds no per-call
// state and is safe for concurrent use.
type WorkerExecutor struct {
	cfg ExecutorConfig
}

// NewWorkerExecutor creates an executor, filling unset config with defaults.
func NewWorkerExecutor(cfg ExecutorConfig) *WorkerExecutor {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	if cfg.BaseEnv == nil {
		cfg.BaseEnv = os.Environ()
	}
	return &WorkerExecutor{cfg: cfg}
}

// Execute spawns def's worker with args as its single argument document and
// blocks until the worker exits, the timeout elapses or ctx is cancelled. The
// worker is never retried and is always reaped before Execute returns.
func (e *WorkerExecutor) Execute(ctx context.Context, def Definition, args map[string]any, timeout time.Duration) Outcome {
	start := time.Now()
	outcome := e.run(ctx, def, args, timeout)
	outcome.Timeout = timeout
	outcome.Duration = time.Since(start)

	emitExecutionObservation(ExecutionObservation{
		ToolName:   def.Name,
		Category:   def.Category,
		Outcome:    outcome.Kind,
		ExitCode:   outcome.ExitCode,
		PID:        outcome.PID,
		DurationMS: outcome.Duration.Milliseconds(),
	})
	return outcome
}

func (e *WorkerExecutor) run(ctx context.Context, def Definition, args map[string]any, timeout time.Duration) Outcome {
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return Outcome{Kind: OutcomeProcessFailure, ExitCode: -1, Stderr: fmt.Sprintf("encoding arguments: %v", err)}
	}

	if err := ctx.Err(); err != nil {
		return contextOutcome(ctx, ctx)
	}

	execCtx, cancel := withExecTimeout(ctx, timeout)
	defer cancel()

	proc := newWorkerProcess(execCtx, def, payload, e.cfg)
	if err := proc.start(); err != nil {
		if execCtx.Err() != nil {
			return contextOutcome(ctx, execCtx)
		}
		return Outcome{Kind: OutcomeProcessFailure, ExitCode: -1, Stderr: fmt.Sprintf("starting worker: %v", err)}
	}

	waitErr := proc.wait()
	if execCtx.Err() != nil {
		outcome := contextOutcome(ctx, execCtx)
		outcome.PID = proc.pid()
		return outcome
	}

	stderr := proc.stderr.String()
	if waitErr != nil && !(errors.Is(waitErr, exec.ErrWaitDelay) && proc.exitedCleanly()) {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if stderr == "" {
			stderr = waitErr.Error()
		}
		return Outcome{Kind: OutcomeProcessFailure, ExitCode: exitCode, Stderr: stderr, PID: proc.pid()}
	}

	if proc.stdout.Overflowed() {
		return Outcome{
			Kind:       OutcomeMalformedOutput,
			Stderr:     stderr,
			ParseError: fmt.Errorf("stdout exceeded %d bytes", e.cfg.MaxOutputBytes),
			PID:        proc.pid(),
		}
	}

	document, err := decodeSingleDocument(proc.stdout.Bytes())
	if err != nil {
		return Outcome{Kind: OutcomeMalformedOutput, Stderr: stderr, ParseError: err, PID: proc.pid()}
	}
	return Outcome{Kind: OutcomeSuccess, Output: document, Stderr: stderr, PID: proc.pid()}
}

func withExecTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

// contextOutcome classifies a finished context: caller cancellation wins,
// any deadline is a timeout.
func contextOutcome(parent, execCtx context.Context) Outcome {
	if errors.Is(parent.Err(), context.Canceled) {
		return Outcome{Kind: OutcomeCancelled, ExitCode: -1}
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return Outcome{Kind: OutcomeTimeout, ExitCode: -1}
	}
	return Outcome{Kind: OutcomeCancelled, ExitCode: -1}
}

// decodeSingleDocument requires stdout to hold exactly one JSON value.
func decodeSingleDocument(data []byte) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("worker produced no output")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var document any
	if err := decoder.Decode(&document); err != nil {
		return nil, fmt.Errorf("decoding stdout: %w", err)
	}
	var extra any
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("stdout holds more than one JSON document")
	}
	return document, nil
}
