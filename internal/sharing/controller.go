// Package sharing toggles the downstream connection-sharing hotspot
// through NetworkManager's D-Bus API. Mutations require the wifi share
// permission; status reads are cached with a short TTL.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hieund/wifiwarden/internal/core"
	"github.com/hieund/wifiwarden/internal/netcache"
)

// ErrNotAuthorized is returned by Activate/Deactivate when the process
// lacks the sharing permission. The underlying toggle is never attempted.
var ErrNotAuthorized = errors.New("not authorized to control connection sharing")

// NetworkManager active connection states. Only Activated means the
// hotspot is up; Unknown/Activating/Deactivating/Deactivated all read as
// inactive.
const (
	nmStateUnknown      uint32 = 0
	nmStateActivating   uint32 = 1
	nmStateActivated    uint32 = 2
	nmStateDeactivating uint32 = 3
	nmStateDeactivated  uint32 = 4
)

const sharePermission = "org.freedesktop.NetworkManager.wifi.share.open"

// activeConnection is one entry of NetworkManager's ActiveConnections.
type activeConnection struct {
	Path  string
	ID    string
	State uint32
}

// nmAPI is the slice of NetworkManager's D-Bus surface the controller
// needs. Faked in tests.
type nmAPI interface {
	Permissions(ctx context.Context) (map[string]string, error)
	ActiveConnections(ctx context.Context) ([]activeConnection, error)
	ConnectionPathByID(ctx context.Context, id string) (string, error)
	Activate(ctx context.Context, settingsPath string) error
	Deactivate(ctx context.Context, activePath string) error
}

// Controller manages the sharing toggle for one named NetworkManager
// connection.
type Controller struct {
	cfg    core.SharingConfig
	api    nmAPI
	logger *slog.Logger

	authOnce   sync.Once
	authorized bool

	cache *netcache.Bool

	// sleep is swappable for tests
	sleep func(ctx context.Context, d time.Duration)
}

// New connects to the system bus and returns a Controller. A missing bus
// wraps core.ErrCapabilityUnavailable: sharing is disabled for the
// process, the loop keeps running.
func New(cfg core.SharingConfig, logger *slog.Logger) (*Controller, error) {
	api, err := dialNetworkManager()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCapabilityUnavailable, err)
	}
	return newController(cfg, api, logger), nil
}

func newController(cfg core.SharingConfig, api nmAPI, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:    cfg,
		api:    api,
		logger: logger,
		sleep:  sleepCtx,
	}
	c.cache = netcache.NewBool(cfg.StatusCacheTTL, c.queryActive)
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Authorized reports whether the process may toggle sharing. Resolved
// once per process and never re-checked.
func (c *Controller) Authorized() bool {
	c.authOnce.Do(func() {
		perms, err := c.api.Permissions(context.Background())
		if err != nil {
			// Permission map unavailable - root can still toggle
			c.authorized = os.Geteuid() == 0
			c.logger.Debug("Sharing permission query failed, falling back to euid check",
				"error", err, "authorized", c.authorized)
			return
		}
		c.authorized = perms[sharePermission] == "yes"
	})
	return c.authorized
}

// Active reports whether the hotspot connection is up. Served from cache
// unless bypassed; only the explicit activated state maps to true.
func (c *Controller) Active(ctx context.Context, bypassCache bool) (bool, error) {
	return c.cache.Get(ctx, bypassCache)
}

func (c *Controller) queryActive(ctx context.Context) (bool, error) {
	conns, err := c.api.ActiveConnections(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to query active connections: %w", err)
	}
	for _, conn := range conns {
		if conn.ID == c.cfg.ConnectionID {
			return conn.State == nmStateActivated, nil
		}
	}
	return false, nil
}

// Activate brings the sharing connection up. No-op success when already
// active. Fails with ErrNotAuthorized before touching the API when the
// permission is missing.
func (c *Controller) Activate(ctx context.Context) error {
	if !c.Authorized() {
		return ErrNotAuthorized
	}

	active, err := c.Active(ctx, false)
	if err != nil {
		return err
	}
	if active {
		c.logger.Debug("Sharing already active", "connection", c.cfg.ConnectionID)
		return nil
	}

	path, err := c.api.ConnectionPathByID(ctx, c.cfg.ConnectionID)
	if err != nil {
		return fmt.Errorf("sharing connection %q not found: %w", c.cfg.ConnectionID, err)
	}
	if err := c.api.Activate(ctx, path); err != nil {
		return fmt.Errorf("failed to activate sharing: %w", err)
	}

	c.cache.Invalidate()
	c.sleep(ctx, c.cfg.TransitionWait)
	c.logger.Info("Connection sharing activated", "connection", c.cfg.ConnectionID)
	return nil
}

// Deactivate takes the sharing connection down. No-op success when
// already inactive.
func (c *Controller) Deactivate(ctx context.Context) error {
	if !c.Authorized() {
		return ErrNotAuthorized
	}

	conns, err := c.api.ActiveConnections(ctx)
	if err != nil {
		return fmt.Errorf("failed to query active connections: %w", err)
	}
	var target *activeConnection
	for i := range conns {
		if conns[i].ID == c.cfg.ConnectionID {
			target = &conns[i]
			break
		}
	}
	if target == nil || target.State == nmStateDeactivated || target.State == nmStateUnknown {
		c.logger.Debug("Sharing already inactive", "connection", c.cfg.ConnectionID)
		return nil
	}

	if err := c.api.Deactivate(ctx, target.Path); err != nil {
		return fmt.Errorf("failed to deactivate sharing: %w", err)
	}

	c.cache.Invalidate()
	c.logger.Info("Connection sharing deactivated", "connection", c.cfg.ConnectionID)
	return nil
}
