// Package daemon wires the components together and runs the monitoring
// loop until a shutdown signal arrives.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hieund/wifiwarden/internal/core"
	"github.com/hieund/wifiwarden/internal/identity"
	"github.com/hieund/wifiwarden/internal/portal"
	"github.com/hieund/wifiwarden/internal/probe"
	"github.com/hieund/wifiwarden/internal/sharing"
	"github.com/hieund/wifiwarden/internal/supervisor"
)

// Daemon owns the component lifecycle and the tick loop.
type Daemon struct {
	cfg    *core.Config
	logger *slog.Logger

	sup  *supervisor.Supervisor
	auth *portal.Authenticator

	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

func New(cfg *core.Config) *Daemon {
	return &Daemon{cfg: cfg}
}

// Run assembles the components, discovers capabilities and ticks until
// SIGINT/SIGTERM. It blocks for the daemon's lifetime.
func (d *Daemon) Run() error {
	d.logger = setupLogging(d.cfg.Verbose)

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	defer d.shutdown()

	connProbe := probe.New(d.cfg.Probe, d.logger)
	d.auth = portal.New(d.cfg.Portal, d.logger)

	// Capabilities are resolved once at startup. A missing capability is
	// logged here and its escalation step stays disabled for the process
	// lifetime.
	caps := core.Capabilities{}

	var randomizer supervisor.IdentityRandomizer
	if d.cfg.Identity.Enabled {
		r := identity.New(d.cfg.Identity, d.logger)
		caps.IdentityTool = r.ToolPath()
		caps.IdentityAvailable = r.Available()
		if caps.IdentityAvailable {
			randomizer = r
		} else {
			d.logger.Warn("Identity randomization tool not found, escalation step disabled",
				"tool", d.cfg.Identity.Tool)
		}
	}

	var share supervisor.ShareController
	if d.cfg.Sharing.Enabled {
		ctrl, err := sharing.New(d.cfg.Sharing, d.logger)
		switch {
		case errors.Is(err, core.ErrCapabilityUnavailable):
			d.logger.Warn("Connection sharing unavailable, continuing without it", "error", err)
		case err != nil:
			return err
		default:
			caps.SharingAuthorized = ctrl.Authorized()
			if !caps.SharingAuthorized {
				d.logger.Warn("Not authorized to toggle connection sharing, requests will be skipped")
			}
			share = ctrl
		}
	}

	d.sup = supervisor.New(d.cfg, connProbe, d.auth, randomizer, share, d.logger)

	d.watchConfig(ctx)

	// Graceful shutdown on SIGTERM/SIGINT
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		d.logger.Info("Shutdown signal received", "signal", sig.String())
		d.shutdown()
	}()

	d.logger.Info("Monitoring started",
		"check_interval", d.cfg.CheckInterval,
		"identity_tool", caps.IdentityTool,
		"sharing", share != nil)

	status := newStatusRenderer()
	defer status.clear()

	ticker := time.NewTicker(d.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		state := d.sup.Tick(ctx)
		d.logger.Debug("Tick complete", "state", string(state))
		status.render(d.sup.Snapshot(), caps.IdentityAvailable, func() string {
			return sharingState(ctx, share)
		})

		select {
		case <-ctx.Done():
			d.logger.Info("Monitoring stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// sharingState resolves the hotspot state for status rendering,
// bypassing the controller's cache.
func sharingState(ctx context.Context, share supervisor.ShareController) string {
	if share == nil {
		return ""
	}
	active, err := share.Active(ctx, true)
	if err != nil {
		return "unknown"
	}
	if active {
		return "active"
	}
	return "inactive"
}

// shutdown is idempotent and safe to call from the signal handler and
// from Run's defer.
func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		if d.auth != nil {
			d.auth.Close()
		}
		if d.cancel != nil {
			d.cancel()
		}
	})
}

// Snapshot exposes the supervisor's state for status rendering.
func (d *Daemon) Snapshot() supervisor.Snapshot {
	if d.sup == nil {
		return supervisor.Snapshot{State: supervisor.StateDisconnected}
	}
	return d.sup.Snapshot()
}
