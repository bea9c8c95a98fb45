package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatforge/core/internal/backoff"
	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/pkg/chatmodels"
)

const (
	maxWorkflowSteps  = 20
	maxParallelTasks  = 8
	minRetryAttempts  = 1
	maxRetryAttempts  = 10
)

// Request is the caller context passed through to a recursively-dispatched
// tool call, mirroring toolregistry.Request's shape without importing it.
type Request struct {
	CompletionID string
	Model        string
	User         *chatmodels.User
	AppURL       string
}

// Dispatcher re-enters the tool dispatcher for a named tool. Implemented by
// *toolregistry.Registry.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args json.RawMessage, req Request) (chatmodels.ToolResult, error)
}

// OnErrorMode controls a compose_functions step's failure handling.
type OnErrorMode string

const (
	OnErrorStop OnErrorMode = "stop"
	OnErrorSkip OnErrorMode = "skip"
)

// ComposeStep is one step of a compose_functions workflow.
type ComposeStep struct {
	Function  string          `json:"function"`
	Args      json.RawMessage `json:"args"`
	OutputVar string          `json:"output_var,omitempty"`
	OnError   OnErrorMode     `json:"on_error,omitempty"`
}

// ComposeFunctionsArgs is compose_functions' argument shape.
type ComposeFunctionsArgs struct {
	Steps []ComposeStep `json:"steps"`
}

// StepLog records one compose_functions step's outcome.
type StepLog struct {
	Function string `json:"function"`
	Error    string `json:"error,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
}

// ComposeFunctions runs an ordered list of tool invocations, resolving
// $var.path references against prior steps' outputs by output_var.
func ComposeFunctions(ctx context.Context, d Dispatcher, req Request, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	var args ComposeFunctionsArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: unmarshal compose_functions args", err)
	}
	if len(args.Steps) > maxWorkflowSteps {
		return chatmodels.ToolResult{}, corekind.New(corekind.Validation, fmt.Sprintf("workflow: compose_functions exceeds %d steps", maxWorkflowSteps))
	}

	outputs := make(map[string]any)
	var logs []StepLog
	var lastErr error

	for _, step := range args.Steps {
		resolvedArgs, err := resolveRefs(step.Args, outputs)
		if err != nil {
			logs = append(logs, StepLog{Function: step.Function, Error: err.Error()})
			lastErr = err
			if step.OnError == OnErrorSkip {
				continue
			}
			break
		}

		result, err := d.Dispatch(ctx, step.Function, resolvedArgs, req)
		if err != nil {
			logs = append(logs, StepLog{Function: step.Function, Error: err.Error()})
			lastErr = err
			if step.OnError == OnErrorSkip {
				continue
			}
			break
		}

		logs = append(logs, StepLog{Function: step.Function})
		if step.OutputVar != "" {
			var decoded any
			if len(result.Data) > 0 {
				_ = json.Unmarshal(result.Data, &decoded)
			} else {
				decoded = map[string]any{"content": result.Content}
			}
			outputs[step.OutputVar] = decoded
		}
	}

	data, _ := json.Marshal(map[string]any{"outputs": outputs, "steps": logs})
	if lastErr != nil && hasUnskippedFailure(logs, args.Steps) {
		return chatmodels.ToolResult{Status: chatmodels.ToolStatusError, Name: "compose_functions", Content: lastErr.Error(), Data: data}, lastErr
	}
	return chatmodels.ToolResult{Status: chatmodels.ToolStatusSuccess, Name: "compose_functions", Data: data}, nil
}

func hasUnskippedFailure(logs []StepLog, steps []ComposeStep) bool {
	for i, l := range logs {
		if l.Error == "" {
			continue
		}
		if i < len(steps) && steps[i].OnError == OnErrorSkip {
			continue
		}
		return true
	}
	return false
}

// IfThenElseArgs is if_then_else's argument shape.
type IfThenElseArgs struct {
	Condition  ComposeStep   `json:"condition"`
	ThenSteps  []ComposeStep `json:"then_steps"`
	ElseSteps  []ComposeStep `json:"else_steps"`
}

// IfThenElse runs a condition tool, coerces its output to a boolean, and
// runs the corresponding branch sequentially.
func IfThenElse(ctx context.Context, d Dispatcher, req Request, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	var args IfThenElseArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: unmarshal if_then_else args", err)
	}

	condResult, err := d.Dispatch(ctx, args.Condition.Function, args.Condition.Args, req)
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Invariant, "workflow: condition tool failed", err)
	}

	cond, err := coerceBool(condResult)
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: condition output not coercible to boolean", err)
	}

	branch := args.ElseSteps
	if cond {
		branch = args.ThenSteps
	}
	branchArgs, err := json.Marshal(ComposeFunctionsArgs{Steps: branch})
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Invariant, "workflow: marshal branch steps", err)
	}
	return ComposeFunctions(ctx, d, req, branchArgs)
}

func coerceBool(result chatmodels.ToolResult) (bool, error) {
	if len(result.Data) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(result.Data, &decoded); err == nil {
			for _, key := range []string{"result", "value", "condition"} {
				if v, ok := decoded[key]; ok {
					return asBool(v)
				}
			}
		}
	}
	switch strings.ToLower(strings.TrimSpace(result.Content)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("cannot coerce condition output to boolean")
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("cannot coerce %v to boolean", v)
}

// ParallelExecuteArgs is parallel_execute's argument shape.
type ParallelExecuteArgs struct {
	Tasks []ComposeStep `json:"tasks"`
}

type parallelOutcome struct {
	Function string `json:"function"`
	Status   string `json:"status"`
	Content  string `json:"content,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ParallelExecute runs up to maxParallelTasks tools concurrently and awaits
// all of them, reporting error iff any task failed.
func ParallelExecute(ctx context.Context, d Dispatcher, req Request, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	var args ParallelExecuteArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: unmarshal parallel_execute args", err)
	}
	if len(args.Tasks) > maxParallelTasks {
		return chatmodels.ToolResult{}, corekind.New(corekind.Validation, fmt.Sprintf("workflow: parallel_execute exceeds %d tasks", maxParallelTasks))
	}

	outcomes := make([]parallelOutcome, len(args.Tasks))
	var wg sync.WaitGroup
	var anyFailed bool
	var mu sync.Mutex

	for i, task := range args.Tasks {
		wg.Add(1)
		go func(i int, task ComposeStep) {
			defer wg.Done()
			result, err := d.Dispatch(ctx, task.Function, task.Args, req)
			if err != nil {
				mu.Lock()
				anyFailed = true
				mu.Unlock()
				outcomes[i] = parallelOutcome{Function: task.Function, Status: "error", Error: err.Error()}
				return
			}
			outcomes[i] = parallelOutcome{Function: task.Function, Status: "success", Content: result.Content}
		}(i, task)
	}
	wg.Wait()

	data, _ := json.Marshal(outcomes)
	status := chatmodels.ToolStatusSuccess
	if anyFailed {
		status = chatmodels.ToolStatusError
	}
	result := chatmodels.ToolResult{Status: status, Name: "parallel_execute", Data: data}
	if anyFailed {
		return result, corekind.New(corekind.Invariant, "workflow: one or more parallel tasks failed")
	}
	return result, nil
}

// RetryWithBackoffArgs is retry_with_backoff's argument shape.
type RetryWithBackoffArgs struct {
	Function     string          `json:"function"`
	Args         json.RawMessage `json:"args"`
	BackoffFactor float64        `json:"backoff_factor"`
	MaxBackoff    float64        `json:"max_backoff"`
	MaxAttempts   int             `json:"max_attempts"`
}

type attemptLog struct {
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// RetryWithBackoff re-invokes a named tool with exponential backoff:
// delay = min(backoff_factor * 2^(attempt-1), max_backoff) seconds.
func RetryWithBackoff(ctx context.Context, d Dispatcher, req Request, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	var args RetryWithBackoffArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: unmarshal retry_with_backoff args", err)
	}
	maxAttempts := args.MaxAttempts
	if maxAttempts < minRetryAttempts {
		maxAttempts = minRetryAttempts
	}
	if maxAttempts > maxRetryAttempts {
		maxAttempts = maxRetryAttempts
	}

	var attempts []attemptLog
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := d.Dispatch(ctx, args.Function, args.Args, req)
		if err == nil {
			data, _ := json.Marshal(map[string]any{"attempts": attempts, "result": result.Content})
			return chatmodels.ToolResult{Status: chatmodels.ToolStatusSuccess, Name: "retry_with_backoff", Content: result.Content, Data: data}, nil
		}
		attempts = append(attempts, attemptLog{Attempt: attempt, Error: err.Error()})
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		delay := backoffDelay(args.BackoffFactor, args.MaxBackoff, attempt)
		select {
		case <-ctx.Done():
			return chatmodels.ToolResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	data, _ := json.Marshal(map[string]any{"attempts": attempts})
	return chatmodels.ToolResult{Status: chatmodels.ToolStatusError, Name: "retry_with_backoff", Content: lastErr.Error(), Data: data}, lastErr
}

func backoffDelay(backoffFactor, maxBackoff float64, attempt int) time.Duration {
	policy := backoff.BackoffPolicy{InitialMs: backoffFactor * 1000, MaxMs: maxBackoff * 1000, Factor: 2, Jitter: 0}
	// ComputeBackoff's formula is initialMs * factor^(attempt-1); spec wants
	// backoff_factor * 2^(attempt-1) directly, so seed InitialMs with
	// backoff_factor*1000 and let attempt 1 contribute factor^0 = 1.
	return backoff.ComputeBackoffWithRand(policy, attempt, 0)
}

// FallbackArgs is fallback's argument shape.
type FallbackArgs struct {
	Primary  ComposeStep `json:"primary"`
	Fallback ComposeStep `json:"fallback"`
}

// Fallback runs the primary tool; on error, runs the fallback tool.
func Fallback(ctx context.Context, d Dispatcher, req Request, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	var args FallbackArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: unmarshal fallback args", err)
	}

	primaryResult, primaryErr := d.Dispatch(ctx, args.Primary.Function, args.Primary.Args, req)
	if primaryErr == nil {
		return primaryResult, nil
	}

	fallbackResult, fallbackErr := d.Dispatch(ctx, args.Fallback.Function, args.Fallback.Args, req)
	if fallbackErr == nil {
		return fallbackResult, nil
	}

	combined := fmt.Errorf("primary: %w; fallback: %s", primaryErr, fallbackErr.Error())
	return chatmodels.ToolResult{Status: chatmodels.ToolStatusError, Name: "fallback", Content: combined.Error()}, combined
}

// RequestApprovalArgs is request_approval/ask_user's argument shape.
type RequestApprovalArgs struct {
	Type    string   `json:"type"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// RequestApproval builds a non-blocking pending result; the orchestrator
// surfaces it to the caller and the resolution arrives in a later turn as a
// role=tool message bound by the same tool-call id.
func RequestApproval(rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	var args RequestApprovalArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: unmarshal request_approval args", err)
	}
	if args.Type == "" {
		args.Type = "approval"
	}
	return chatmodels.ToolResult{
		Status: chatmodels.ToolStatusPending,
		Name:   "request_approval",
		HumanInTheLoop: &chatmodels.HumanInTheLoop{
			Type:               args.Type,
			Status:             "pending",
			RequiresUserAction: true,
			Prompt:             args.Prompt,
			Options:            args.Options,
		},
	}, nil
}

// AskUser is request_approval's twin for open-ended user input rather than a
// bounded approval decision.
func AskUser(rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	var args RequestApprovalArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: unmarshal ask_user args", err)
	}
	return chatmodels.ToolResult{
		Status: chatmodels.ToolStatusPending,
		Name:   "ask_user",
		HumanInTheLoop: &chatmodels.HumanInTheLoop{
			Type:               "question",
			Status:             "pending",
			RequiresUserAction: true,
			Prompt:             args.Prompt,
			Options:            args.Options,
		},
	}, nil
}
