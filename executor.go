package aifetchly

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ToolResult is the normalized outcome of one tool execution. Failures are
// carried as data, never as Go errors: a failed execution still produces a
// ToolResult so the turn can surface it and continue.
type ToolResult struct {
	Success bool

	// Data is the machine-readable result, present on success.
	Data map[string]any

	// Summary is a short natural-language description of the result, suitable
	// for feeding back to the remote agent.
	Summary string

	// Error is the failure description, present when Success is false.
	Error string

	DurationMS int64
}

// ToolExecutor resolves tool names, enforces rate limiting, executes tools,
// and normalizes results and errors into ToolResult.
type ToolExecutor struct {
	registry *Registry
	limiter  *RateLimiter
	logger   *slog.Logger
}

// ExecutorOption configures a ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// WithExecutorRateLimiter replaces the default rate limiter. Useful for
// sharing one limiter across executors.
func WithExecutorRateLimiter(limiter *RateLimiter) ExecutorOption {
	return func(x *ToolExecutor) {
		x.limiter = limiter
	}
}

// WithExecutorLogger sets the logger. Default is discard.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(x *ToolExecutor) {
		x.logger = logger
	}
}

// NewToolExecutor creates an executor over the given registry.
func NewToolExecutor(registry *Registry, options ...ExecutorOption) *ToolExecutor {
	x := &ToolExecutor{
		registry: registry,
		limiter:  NewRateLimiter(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range options {
		opt(x)
	}
	return x
}

// Execute runs the named tool with the given parameters. It always returns a
// ToolResult: unknown names, invalid arguments, tool errors, and tool panics
// all normalize into a failed result. The rate-limit slot is released on
// every exit path.
func (x *ToolExecutor) Execute(ctx context.Context, name string, params map[string]any, conversationID string) *ToolResult {
	start := time.Now()
	logger := x.logger.With("tool", name, "conversation_id", conversationID)

	tool, ok := x.registry.Lookup(name)
	if !ok {
		logger.Warn("tool not found")
		return x.finish(name, start, nil, goerr.Wrap(ErrUnknownTool, name+" is not registered"))
	}

	category := CategoryForTool(name)
	if err := x.limiter.Acquire(ctx, category); err != nil {
		return x.finish(name, start, nil, goerr.Wrap(err, "rate limit wait aborted", goerr.V("category", category)))
	}
	defer x.limiter.Release(category)

	if err := x.registry.ValidateArgs(name, params); err != nil {
		logger.Warn("tool arguments rejected", "error", err)
		return x.finish(name, start, nil, err)
	}

	logger.Info("executing tool", "category", category)
	data, err := x.runTool(ctx, tool, params)
	if err != nil {
		logger.Warn("tool execution failed", "error", err, "duration", time.Since(start))
	} else {
		logger.Info("tool execution finished", "duration", time.Since(start))
	}

	return x.finish(name, start, data, err)
}

// runTool invokes the tool and converts a panic into an error so a crashing
// tool cannot take down the turn.
func (x *ToolExecutor) runTool(ctx context.Context, tool Tool, params map[string]any) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerr.New(fmt.Sprintf("tool panicked: %v", r), goerr.V("tool_name", tool.Spec().Name))
		}
	}()
	return tool.Run(ctx, params)
}

func (x *ToolExecutor) finish(name string, start time.Time, data map[string]any, err error) *ToolResult {
	elapsed := time.Since(start)
	result := &ToolResult{DurationMS: elapsed.Milliseconds()}

	if err != nil {
		result.Error = err.Error()
		toolExecutionsTotal.WithLabelValues(name, "failure").Inc()
	} else {
		result.Success = true
		result.Data = data
		if summary, ok := data["summary"].(string); ok {
			result.Summary = summary
		}
		toolExecutionsTotal.WithLabelValues(name, "success").Inc()
	}
	toolExecutionSeconds.WithLabelValues(name).Observe(elapsed.Seconds())

	return result
}
