// Package supervisor owns the monitoring state machine. One Tick performs
// a full monitor-and-remediate cycle: probe connectivity, then escalate
// through sharing adjustment, identity randomization and portal
// authentication under cooldown and counter constraints. All orchestration
// state lives here and is touched only from the tick goroutine.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hieund/wifiwarden/internal/core"
	"github.com/hieund/wifiwarden/internal/portal"
)

// State is the supervisor's connection state. Every tick funnels back
// through Connected or Disconnected; the remaining states are transient
// within a single tick.
type State string

const (
	StateDisconnected        State = "disconnected"
	StateConnected           State = "connected"
	StateAuthenticating      State = "authenticating"
	StateRandomizingIdentity State = "randomizing_identity"
	StateAdjustingSharing    State = "adjusting_sharing"
)

// ConnectivityProbe answers "is the internet reachable right now?".
type ConnectivityProbe interface {
	Reachable(ctx context.Context) bool
	Invalidate()
}

// Authenticator performs one captive portal login attempt.
type Authenticator interface {
	AttemptLogin(ctx context.Context) portal.Result
}

// IdentityRandomizer randomizes the adapter's hardware address.
// StabilizationDelay is part of the contract: after a successful
// Randomize the caller must wait it out before trusting new probes.
type IdentityRandomizer interface {
	Available() bool
	Randomize(ctx context.Context) error
	StabilizationDelay() time.Duration
}

// ShareController queries and toggles the connection-sharing state.
type ShareController interface {
	Authorized() bool
	Active(ctx context.Context, bypassCache bool) (bool, error)
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
}

// Snapshot is a copy of the supervisor's observable state, for status
// rendering.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastIdentityReset   time.Time
}

// Supervisor runs the escalation policy. Single-threaded by contract:
// Tick runs to completion before the next tick begins.
type Supervisor struct {
	identity core.IdentityConfig
	sharing  core.SharingConfig

	probe      ConnectivityProbe
	auth       Authenticator
	randomizer IdentityRandomizer // nil when the capability is unavailable
	share      ShareController    // nil when the capability is unavailable
	logger     *slog.Logger

	state             State
	failures          int
	lastIdentityReset time.Time // zero until the first successful reset
	identityRetryAt   time.Time // earliest next attempt after a failed reset

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Supervisor. Pass nil for randomizer or share when the
// capability was found unavailable at startup; the corresponding
// escalation step is then skipped for the process lifetime.
func New(cfg *core.Config, probe ConnectivityProbe, auth Authenticator, randomizer IdentityRandomizer, share ShareController, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		identity:   cfg.Identity,
		sharing:    cfg.Sharing,
		probe:      probe,
		auth:       auth,
		randomizer: randomizer,
		share:      share,
		logger:     logger,
		state:      StateDisconnected,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Snapshot returns the current observable state.
func (s *Supervisor) Snapshot() Snapshot {
	return Snapshot{
		State:               s.state,
		ConsecutiveFailures: s.failures,
		LastIdentityReset:   s.lastIdentityReset,
	}
}

// Tick performs one full monitoring-and-remediation cycle and returns the
// resulting state. It never panics out: an unexpected error counts as a
// failed tick so the escalation policy keeps making forward progress.
func (s *Supervisor) Tick(ctx context.Context) (result State) {
	entryFailures := s.failures
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Unexpected error during tick, treating as connection failure", "panic", r)
			s.state = StateDisconnected
			// One tick counts one failure, even when handleDisconnected
			// already incremented before the panic
			s.failures = entryFailures + 1
			result = s.state
		}
	}()

	if s.probe.Reachable(ctx) {
		s.handleConnected(ctx)
	} else {
		s.handleDisconnected(ctx)
	}
	return s.state
}

func (s *Supervisor) handleConnected(ctx context.Context) {
	if s.state != StateConnected {
		s.logger.Info("Internet connection established")
		s.failures = 0
		// The cached observation predates the recovery; next probe must be fresh
		s.probe.Invalidate()
	}
	s.state = StateConnected
	s.maintainSharing(ctx)
}

// maintainSharing activates sharing on confirmed connectivity when
// configured to.
func (s *Supervisor) maintainSharing(ctx context.Context) {
	if !s.sharing.Enabled || s.share == nil {
		return
	}
	if !s.sharing.AutoEnableOnConnect && !s.sharing.AlwaysOn {
		return
	}

	active, err := s.share.Active(ctx, false)
	if err != nil {
		s.logger.Error("Failed to read sharing state", "error", err)
		return
	}
	if active {
		return
	}

	s.state = StateAdjustingSharing
	if err := s.share.Activate(ctx); err != nil {
		s.logger.Error("Failed to activate sharing", "error", err)
	}
	s.state = StateConnected
}

func (s *Supervisor) handleDisconnected(ctx context.Context) {
	s.state = StateDisconnected
	s.failures++
	s.logger.Warn("Connection failure", "consecutive_failures", s.failures)

	s.dropSharingOnLoss(ctx)

	if s.shouldResetIdentity() {
		s.performIdentityReset(ctx)
		// An identity reset attempt consumes the tick: after a success the
		// new identity likely already clears the block, and after a failure
		// the cooldown applies either way
		return
	}

	s.authenticate(ctx)
}

// dropSharingOnLoss deactivates sharing before any escalation step when
// configured to disable on loss.
func (s *Supervisor) dropSharingOnLoss(ctx context.Context) {
	if !s.sharing.Enabled || !s.sharing.DisableOnLoss || s.share == nil {
		return
	}

	active, err := s.share.Active(ctx, false)
	if err != nil {
		s.logger.Error("Failed to read sharing state", "error", err)
		return
	}
	if !active {
		return
	}

	s.state = StateAdjustingSharing
	if err := s.share.Deactivate(ctx); err != nil {
		s.logger.Error("Failed to deactivate sharing on connection loss", "error", err)
	}
	s.state = StateDisconnected
}

func (s *Supervisor) shouldResetIdentity() bool {
	if !s.identity.Enabled || s.randomizer == nil {
		return false
	}
	if !s.randomizer.Available() {
		return false
	}
	if s.failures < s.identity.FailureThreshold {
		return false
	}
	if !s.lastIdentityReset.IsZero() && s.now().Sub(s.lastIdentityReset) < s.identity.Cooldown {
		return false
	}
	if s.now().Before(s.identityRetryAt) {
		return false
	}
	return true
}

func (s *Supervisor) performIdentityReset(ctx context.Context) {
	s.state = StateRandomizingIdentity

	if err := s.randomizer.Randomize(ctx); err != nil {
		s.logger.Error("Identity reset failed", "error", err)
		if s.identity.CooldownBlocksTick {
			// Original throttling behavior: block the whole tick for the
			// cooldown. Starves connectivity probing for that window.
			s.sleep(ctx, s.identity.Cooldown)
		} else {
			// Only suppress further reset attempts; probing continues
			s.identityRetryAt = s.now().Add(s.identity.Cooldown)
		}
		s.state = StateDisconnected
		return
	}

	s.failures = 0
	s.lastIdentityReset = s.now()
	s.identityRetryAt = time.Time{}
	s.probe.Invalidate()

	delay := s.randomizer.StabilizationDelay()
	s.logger.Info("Waiting for network adapter to stabilize", "delay", delay)
	s.sleep(ctx, delay)

	s.state = StateDisconnected
}

func (s *Supervisor) authenticate(ctx context.Context) {
	s.state = StateAuthenticating

	switch result := s.auth.AttemptLogin(ctx); result {
	case portal.ResultSuccess:
		// Don't trust the cached "unreachable": re-probe next tick
		s.probe.Invalidate()
	default:
		// Next tick's counter increment and eventual escalation is the retry
		s.logger.Error("Captive portal authentication did not succeed", "result", result.String())
	}

	s.state = StateDisconnected
}
