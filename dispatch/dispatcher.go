package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petal-labs/petalstat/tool"
)

const defaultCallTimeout = 60 * time.Second

// Executor runs one worker invocation. tool.WorkerExecutor is the production
// implementation.
type Executor interface {
	Execute(ctx context.Context, def tool.Definition, args map[string]any, timeout time.Duration) tool.Outcome
}

// Config configures a Dispatcher.
type Config struct {
	Registry *tool.Registry
	// Executor defaults to a tool.WorkerExecutor with default settings.
	Executor Executor
	// DefaultTimeout applies to tools without their own timeout_ms.
	DefaultTimeout time.Duration
	// MaxConcurrent caps simultaneously executing workers; 0 means no cap.
	MaxConcurrent int
	Observers     []CallObserver
	Logger        *slog.Logger
}

// Dispatcher orchestrates validation, execution and splitting for each call.
type Dispatcher struct {
	registry       *tool.Registry
	executor       Executor
	defaultTimeout time.Duration
	admission      *admission
	observers      []CallObserver
	logger         *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("dispatch: registry is nil")
	}
	if cfg.MaxConcurrent < 0 {
		return nil, fmt.Errorf("dispatch: max concurrent must not be negative, got %d", cfg.MaxConcurrent)
	}
	executor := cfg.Executor
	if executor == nil {
		executor = tool.NewWorkerExecutor(tool.ExecutorConfig{})
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:       cfg.Registry,
		executor:       executor,
		defaultTimeout: timeout,
		admission:      newAdmission(cfg.MaxConcurrent),
		observers:      append([]CallObserver(nil), cfg.Observers...),
		logger:         logger,
	}, nil
}

// Registry returns the catalogue the dispatcher serves.
func (d *Dispatcher) Registry() *tool.Registry {
	return d.registry
}

// Stats reports admission control counters.
func (d *Dispatcher) Stats() Stats {
	return d.admission.stats()
}

// call tracks the state of one in-flight request.
type call struct {
	req     Request
	def     tool.Definition
	phase   Phase
	started time.Time
	logger  *slog.Logger
}

func (c *call) advance(phase Phase) {
	c.phase = phase
	c.logger.Debug("call phase", slog.String("phase", string(phase)))
}

// Dispatch runs req to completion and always returns a response carrying
// req.ID. Failures of any kind are folded into the response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	c := &call{
		req:     req,
		phase:   PhaseReceived,
		started: time.Now(),
		logger: d.logger.With(
			slog.Any("call_id", req.ID),
			slog.String("tool", req.Tool),
		),
	}

	split, err := d.run(ctx, c)
	duration := time.Since(c.started)

	var resp Response
	kind := ""
	if err != nil {
		kind = tool.ErrorKind(err, tool.KindProcessFailure)
		resp = ErrorResponse(req.ID, err)
		c.logger.Log(ctx, failureLevel(kind), "call failed",
			slog.String("phase", string(c.phase)),
			slog.String("kind", kind),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		c.phase = PhaseFailed
	} else {
		resp = Response{ID: req.ID, Result: split.Body, Presentation: split.Presentation}
		c.advance(PhaseResponded)
		c.logger.Info("call completed", slog.Duration("duration", duration))
	}

	observation := CallObservation{
		ID:        req.ID,
		Tool:      req.Tool,
		Category:  c.def.Category,
		Transport: TransportFrom(ctx),
		Kind:      kind,
		Phase:     c.phase,
		Duration:  duration,
	}
	for _, observer := range d.observers {
		observer.ObserveCall(observation)
	}
	return resp
}

func (d *Dispatcher) run(ctx context.Context, c *call) (tool.SplitResult, error) {
	def, err := d.registry.Lookup(c.req.Tool)
	if err != nil {
		return tool.SplitResult{}, err
	}
	c.def = def

	if result := tool.ValidateInput(def, c.req.Args); result.HasErrors() {
		violations := result.Errors()
		return tool.SplitResult{}, tool.NewToolError(
			tool.KindInvalidArguments,
			fmt.Sprintf("%d argument violation(s) for tool %q", len(violations), def.Name),
			nil,
		).WithDetails(map[string]any{"violations": violations})
	}
	c.advance(PhaseInputValidated)

	// The worker's lifetime bound is fixed here and never changes mid-flight.
	timeout := def.Timeout(d.defaultTimeout)

	if err := ctx.Err(); err != nil {
		return tool.SplitResult{}, cancelledError(c.phase, err)
	}
	release, err := d.admission.acquire(ctx)
	if err != nil {
		return tool.SplitResult{}, cancelledError(c.phase, err)
	}
	c.advance(PhaseExecuting)
	outcome := d.executor.Execute(ctx, def, c.req.Args, timeout)
	release()
	c.logger.Debug("worker finished",
		slog.String("outcome", string(outcome.Kind)),
		slog.Int("pid", outcome.PID),
		slog.Duration("duration", outcome.Duration),
	)
	if err := outcome.Err(); err != nil {
		return tool.SplitResult{}, err
	}

	split, err := tool.Split(outcome.Output)
	if err != nil {
		return tool.SplitResult{}, err
	}
	c.advance(PhaseOutputSplit)

	if result := tool.ValidateOutput(def, split.Body); result.HasErrors() {
		violations := result.Errors()
		return tool.SplitResult{}, tool.NewToolError(
			tool.KindInvalidOutput,
			fmt.Sprintf("worker result for tool %q does not match its output schema", def.Name),
			nil,
		).WithDetails(map[string]any{"violations": violations})
	}
	c.advance(PhaseOutputValidated)

	return split, nil
}

func cancelledError(phase Phase, cause error) error {
	return tool.NewToolError(
		tool.KindCancelled,
		fmt.Sprintf("call was cancelled after %s", phase),
		cause,
	)
}

// failureLevel separates server-side defects from client and worker errors
// in the log.
func failureLevel(kind string) slog.Level {
	switch kind {
	case tool.KindInvalidOutput, tool.KindMalformedOutput:
		return slog.LevelWarn
	case tool.KindUnknownTool, tool.KindInvalidArguments, tool.KindCancelled:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
