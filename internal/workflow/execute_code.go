package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/internal/sandbox"
	"github.com/chatforge/core/pkg/chatmodels"
)

const (
	defaultExecuteCodeTimeout = 30 * time.Second
	maxExecuteCodeTimeout     = 120 * time.Second
)

// ExecuteCodeArgs is execute_code's argument shape: one snippet, run once
// inside a disposable microVM.
type ExecuteCodeArgs struct {
	Language       string `json:"language"`
	Code           string `json:"code"`
	Stdin          string `json:"stdin,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ExecuteCodeResult is execute_code's structured response.
type ExecuteCodeResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
	Timeout  bool   `json:"timeout,omitempty"`
}

// SandboxConfig is the kernel/rootfs pair every ExecuteCode call boots.
// Supplied by the caller that wires this tool into a registry, since it
// names host paths rather than anything the model should choose.
type SandboxConfig = sandbox.Config

// DefaultSandboxConfig returns the microVM defaults ExecuteCode falls back
// to when no SandboxConfig is supplied.
func DefaultSandboxConfig() SandboxConfig {
	cfg := sandbox.DefaultConfig()
	cfg.KernelPath = "/var/lib/firecracker/vmlinux"
	cfg.RootFSPath = "/var/lib/firecracker/rootfs.ext4"
	return cfg
}

// ExecuteCode runs one code snippet to completion inside a fresh,
// single-use microVM and tears the VM down afterward.
func ExecuteCode(cfg SandboxConfig) func(ctx context.Context, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	return func(ctx context.Context, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
		var args ExecuteCodeArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: unmarshal execute_code args", err)
		}
		if args.Language == "" {
			return chatmodels.ToolResult{}, corekind.New(corekind.Validation, "workflow: execute_code requires a language")
		}
		if args.Code == "" {
			return chatmodels.ToolResult{}, corekind.New(corekind.Validation, "workflow: execute_code requires code")
		}

		timeout := defaultExecuteCodeTimeout
		if args.TimeoutSeconds > 0 {
			timeout = time.Duration(args.TimeoutSeconds) * time.Second
		}
		if timeout > maxExecuteCodeTimeout {
			timeout = maxExecuteCodeTimeout
		}

		resp, err := sandbox.RunOnce(ctx, cfg, args.Code, args.Language, args.Stdin, timeout)
		if err != nil {
			return chatmodels.ToolResult{}, corekind.Wrap(corekind.UpstreamTransient, "workflow: execute_code sandbox run failed", err)
		}

		result := ExecuteCodeResult{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode, Error: resp.Error, Timeout: resp.Timeout}
		data, err := json.Marshal(result)
		if err != nil {
			return chatmodels.ToolResult{}, corekind.Wrap(corekind.Invariant, "workflow: marshal execute_code result", err)
		}

		status := chatmodels.ToolStatusSuccess
		var asErr error
		if !resp.Success {
			status = chatmodels.ToolStatusError
			asErr = corekind.New(corekind.UpstreamPermanent, "workflow: execute_code snippet failed")
		}
		return chatmodels.ToolResult{Status: status, Name: "execute_code", Data: data}, asErr
	}
}
