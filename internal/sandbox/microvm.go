//go:build linux

// Package sandbox runs untrusted code inside a Firecracker microVM: boot a
// minimal kernel+rootfs pair, hand the guest agent a snippet over vsock, and
// tear the VM down once the result comes back.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"
	"github.com/google/uuid"
)

// VMState is a MicroVM's lifecycle stage.
type VMState int

const (
	VMStateCreating VMState = iota
	VMStateRunning
	VMStateStopped
	VMStateFailed
)

// Config configures a single-use MicroVM.
type Config struct {
	KernelPath string `yaml:"kernel_path"`
	RootFSPath string `yaml:"rootfs_path"`
	VCPUs      int64  `yaml:"vcpus"`
	MemSizeMB  int64  `yaml:"mem_size_mb"`
	VsockCID   uint32 `yaml:"vsock_cid"`
	BootArgs   string `yaml:"boot_args"`
}

// DefaultConfig returns sensible single-vCPU, 512MiB defaults.
func DefaultConfig() Config {
	return Config{
		VCPUs:     1,
		MemSizeMB: 512,
		VsockCID:  3, // CIDs 0-2 are reserved
		BootArgs:  "console=ttyS0 reboot=k panic=1 pci=off",
	}
}

// MicroVM is one Firecracker guest, booted for a single execution and
// discarded.
type MicroVM struct {
	id      string
	config  Config
	workDir string

	mu      sync.Mutex
	state   VMState
	machine *firecracker.Machine
	cmd     *exec.Cmd
	vsock   *VsockConnection
}

// New allocates a MicroVM's working directory and socket paths without
// starting it.
func New(config Config) (*MicroVM, error) {
	if config.KernelPath == "" {
		return nil, fmt.Errorf("sandbox: kernel path is required")
	}
	if config.RootFSPath == "" {
		return nil, fmt.Errorf("sandbox: rootfs path is required")
	}

	id := uuid.New().String()
	workDir := filepath.Join(os.TempDir(), "chatcore-sandbox", id)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create work directory: %w", err)
	}

	return &MicroVM{
		id:      id,
		config:  config,
		workDir: workDir,
		state:   VMStateCreating,
	}, nil
}

// Start boots the guest and opens its vsock channel.
func (vm *MicroVM) Start(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state == VMStateRunning {
		return nil
	}

	socketPath := filepath.Join(vm.workDir, "api.sock")
	logPath := filepath.Join(vm.workDir, "vm.log")
	vsockPath := filepath.Join(vm.workDir, "vsock.sock")

	fcBin, err := exec.LookPath("firecracker")
	if err != nil {
		vm.state = VMStateFailed
		return fmt.Errorf("sandbox: firecracker binary not found: %w", err)
	}

	fcConfig := firecracker.Config{
		SocketPath:      socketPath,
		LogPath:         logPath,
		LogLevel:        "Warning",
		KernelImagePath: vm.config.KernelPath,
		KernelArgs:      vm.config.BootArgs,
		Drives: []models.Drive{{
			DriveID:      firecracker.String("rootfs"),
			PathOnHost:   firecracker.String(vm.config.RootFSPath),
			IsRootDevice: firecracker.Bool(true),
			IsReadOnly:   firecracker.Bool(false),
		}},
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  firecracker.Int64(vm.config.VCPUs),
			MemSizeMib: firecracker.Int64(vm.config.MemSizeMB),
			Smt:        firecracker.Bool(false),
		},
		VsockDevices: []firecracker.VsockDevice{{
			Path: vsockPath,
			CID:  vm.config.VsockCID,
		}},
	}

	cmd := firecracker.VMCommandBuilder{}.
		WithBin(fcBin).
		WithSocketPath(socketPath).
		Build(ctx)
	vm.cmd = cmd

	machine, err := firecracker.NewMachine(ctx, fcConfig, firecracker.WithProcessRunner(cmd))
	if err != nil {
		vm.state = VMStateFailed
		return fmt.Errorf("sandbox: create machine: %w", err)
	}
	vm.machine = machine

	if err := machine.Start(ctx); err != nil {
		vm.state = VMStateFailed
		return fmt.Errorf("sandbox: start machine: %w", err)
	}
	vm.state = VMStateRunning

	vsock, err := NewVsockConnection(socketPath, vm.config.VsockCID, GuestAgentPort)
	if err != nil {
		return fmt.Errorf("sandbox: open vsock connection: %w", err)
	}
	vm.vsock = vsock

	return nil
}

// Execute runs one snippet on the guest agent and returns its result.
func (vm *MicroVM) Execute(ctx context.Context, code, language, stdin string, timeoutSeconds int) (*GuestResponse, error) {
	vm.mu.Lock()
	vsock := vm.vsock
	vm.mu.Unlock()
	if vsock == nil {
		return nil, fmt.Errorf("sandbox: VM is not running")
	}
	return vsock.Execute(ctx, code, language, stdin, timeoutSeconds)
}

// Stop shuts down the guest and removes its working directory.
func (vm *MicroVM) Stop(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state == VMStateStopped {
		return nil
	}
	if vm.vsock != nil {
		_ = vm.vsock.Close()
		vm.vsock = nil
	}
	if vm.machine != nil {
		_ = vm.machine.StopVMM()
		vm.machine = nil
	}
	vm.state = VMStateStopped
	return os.RemoveAll(vm.workDir)
}

// RunOnce boots a fresh VM, runs one snippet, and tears the VM down —
// the shape execute_code needs.
func RunOnce(ctx context.Context, config Config, code, language, stdin string, timeout time.Duration) (*GuestResponse, error) {
	vm, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := vm.Start(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = vm.Stop(context.Background()) }()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return vm.Execute(runCtx, code, language, stdin, int(timeout.Seconds()))
}
