package tools

import (
	"context"
	"sync"
	"time"

	"llmbroker/pkg/logx"
)

// Executor runs batches of tool calls against a registry. Failures are
// isolated per call: the result list always has one entry per input call,
// in input order, regardless of individual outcomes.
type Executor struct {
	registry *Registry
	logger   *logx.Logger

	historyMu sync.Mutex
	history   []ExecutionResult
}

// NewExecutor creates an executor bound to a registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry: registry,
		logger:   logx.NewLogger("tools"),
	}
}

// Registry returns the registry this executor resolves tools from.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs all calls and returns one ExecutionResult per call, positions
// matching the input. Parallel is the default mode; Sequential runs calls in
// array order. Neither mode short-circuits: every call is attempted.
func (e *Executor) Execute(ctx context.Context, calls []ToolCall, opts ExecuteOptions) []ExecutionResult {
	results := make([]ExecutionResult, len(calls))

	if opts.Sequential {
		for i := range calls {
			results[i] = e.executeOne(ctx, &calls[i], opts.Confirm)
		}
	} else {
		var wg sync.WaitGroup
		for i := range calls {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = e.executeOne(ctx, &calls[i], opts.Confirm)
			}(i)
		}
		wg.Wait()
	}

	e.appendHistory(results)
	return results
}

// executeOne resolves, validates, and runs a single call. Every failure path
// produces a failed result with a code; nothing here returns a Go error.
func (e *Executor) executeOne(ctx context.Context, call *ToolCall, confirm ConfirmFunc) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
	fail := func(code, msg string) ExecutionResult {
		result.Success = false
		result.ErrorCode = code
		result.Error = msg
		result.Duration = time.Since(start)
		e.logger.Debug("tool %s (%s) failed: %s", call.Name, call.ID, msg)
		return result
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return fail(ErrCodeToolNotFound, "tool not found: "+call.Name)
	}

	args, err := ParseArguments(call.Arguments)
	if err != nil {
		return fail(ErrCodeArgumentParse, err.Error())
	}

	if err := ValidateArgs(&tool.Definition.InputSchema, args); err != nil {
		return fail(ErrCodeValidation, err.Error())
	}

	if tool.RequiresConfirmation {
		if confirm == nil || !confirm(*call) {
			return fail(ErrCodeDeclined, "declined")
		}
	}

	content, err := tool.Exec(ctx, args)
	result.Duration = time.Since(start)
	if err != nil {
		result.Success = false
		result.ErrorCode = ErrCodeExecution
		result.Error = err.Error()
		e.logger.Debug("tool %s (%s) errored after %s: %v", call.Name, call.ID, result.Duration, err)
		return result
	}

	result.Success = true
	result.Content = content
	e.logger.Debug("tool %s (%s) completed in %s", call.Name, call.ID, result.Duration)
	return result
}

func (e *Executor) appendHistory(results []ExecutionResult) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	e.history = append(e.history, results...)
}

// History returns a copy of every result recorded since the last clear. The
// log grows without bound until the caller clears it.
func (e *Executor) History() []ExecutionResult {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	out := make([]ExecutionResult, len(e.history))
	copy(out, e.history)
	return out
}

// ClearHistory empties the execution log.
func (e *Executor) ClearHistory() {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	e.history = nil
}
