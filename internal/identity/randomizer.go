// Package identity randomizes the network adapter's hardware address via
// an external tool (spoof-mac compatible: `<tool> randomize <class>`).
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hieund/wifiwarden/internal/core"
)

// Randomizer invokes the external randomization tool. Tool discovery runs
// once per process; an absent tool disables the capability for the
// process lifetime.
type Randomizer struct {
	cfg    core.IdentityConfig
	logger *slog.Logger

	discoverOnce sync.Once
	toolPath     string

	// runCommand is swappable for tests
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New creates a Randomizer from config.
func New(cfg core.IdentityConfig, logger *slog.Logger) *Randomizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Randomizer{
		cfg:    cfg,
		logger: logger,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// ToolPath returns the resolved tool path, discovering it on first call.
// Empty means the tool is unavailable; discovery is never retried.
func (r *Randomizer) ToolPath() string {
	r.discoverOnce.Do(func() {
		for _, candidate := range r.cfg.ToolPaths {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				r.toolPath = candidate
				return
			}
		}
		if path, err := exec.LookPath(r.cfg.Tool); err == nil {
			r.toolPath = path
		}
	})
	return r.toolPath
}

// Available reports whether the randomization tool exists.
func (r *Randomizer) Available() bool {
	return r.ToolPath() != ""
}

// StabilizationDelay is how long callers must wait after a successful
// Randomize before trusting new connectivity reads. Part of the
// capability's contract, not a hidden implementation detail.
func (r *Randomizer) StabilizationDelay() time.Duration {
	return r.cfg.StabilizationDelay
}

// Randomize runs the tool with a bounded execution timeout. Any non-zero
// exit or timeout is a failure.
func (r *Randomizer) Randomize(ctx context.Context) error {
	tool := r.ToolPath()
	if tool == "" {
		return fmt.Errorf("randomization tool %q: %w", r.cfg.Tool, core.ErrCapabilityUnavailable)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.ExecTimeout)
	defer cancel()

	r.logger.Info("Randomizing adapter hardware address", "tool", tool, "class", r.cfg.InterfaceClass)

	output, err := r.runCommand(execCtx, tool, "randomize", r.cfg.InterfaceClass)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("randomization timed out after %s", r.cfg.ExecTimeout)
		}
		return fmt.Errorf("randomization failed: %w (output: %s)", err, string(output))
	}

	r.logger.Info("Hardware address randomized")
	return nil
}
