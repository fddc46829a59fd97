package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hieund/wifiwarden/internal/core"
	"github.com/hieund/wifiwarden/internal/portal"
)

// fakes

type fakeProbe struct {
	results       []bool
	idx           int
	invalidations int
}

func (f *fakeProbe) Reachable(ctx context.Context) bool {
	if f.idx < len(f.results) {
		v := f.results[f.idx]
		f.idx++
		return v
	}
	if len(f.results) == 0 {
		return false
	}
	return f.results[len(f.results)-1]
}

func (f *fakeProbe) Invalidate() { f.invalidations++ }

type fakeAuth struct {
	result portal.Result
	calls  int
	events *[]string
}

func (f *fakeAuth) AttemptLogin(ctx context.Context) portal.Result {
	f.calls++
	if f.events != nil {
		*f.events = append(*f.events, "auth")
	}
	return f.result
}

type fakeRandomizer struct {
	available bool
	err       error
	delay     time.Duration
	calls     int
	events    *[]string
}

func (f *fakeRandomizer) Available() bool { return f.available }

func (f *fakeRandomizer) Randomize(ctx context.Context) error {
	f.calls++
	if f.events != nil {
		*f.events = append(*f.events, "randomize")
	}
	return f.err
}

func (f *fakeRandomizer) StabilizationDelay() time.Duration { return f.delay }

type fakeShare struct {
	authorized      bool
	active          bool
	activeErr       error
	activateCalls   int
	deactivateCalls int
	events          *[]string
}

func (f *fakeShare) Authorized() bool { return f.authorized }

func (f *fakeShare) Active(ctx context.Context, bypass bool) (bool, error) {
	return f.active, f.activeErr
}

func (f *fakeShare) Activate(ctx context.Context) error {
	f.activateCalls++
	if f.events != nil {
		*f.events = append(*f.events, "activate")
	}
	if !f.authorized {
		return errors.New("not authorized")
	}
	f.active = true
	return nil
}

func (f *fakeShare) Deactivate(ctx context.Context) error {
	f.deactivateCalls++
	if f.events != nil {
		*f.events = append(*f.events, "deactivate")
	}
	if !f.authorized {
		return errors.New("not authorized")
	}
	f.active = false
	return nil
}

// harness

type harness struct {
	sup        *Supervisor
	probe      *fakeProbe
	auth       *fakeAuth
	randomizer *fakeRandomizer
	share      *fakeShare
	clock      time.Time
	slept      []time.Duration
}

func testSupervisorConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.Identity.FailureThreshold = 3
	cfg.Identity.Cooldown = 300 * time.Second
	cfg.Identity.StabilizationDelay = 15 * time.Second
	cfg.Sharing.ConnectionID = "Hotspot"
	return cfg
}

func newHarness(cfg *core.Config, probeResults ...bool) *harness {
	h := &harness{
		probe:      &fakeProbe{results: probeResults},
		auth:       &fakeAuth{result: portal.ResultFailed},
		randomizer: &fakeRandomizer{available: true, delay: cfg.Identity.StabilizationDelay},
		share:      &fakeShare{authorized: true},
		clock:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.sup = New(cfg, h.probe, h.auth, h.randomizer, h.share, nil)
	h.sup.now = func() time.Time { return h.clock }
	h.sup.sleep = func(ctx context.Context, d time.Duration) { h.slept = append(h.slept, d) }
	return h
}

// tick advances the clock by the check interval and runs one tick,
// mirroring the outer loop.
func (h *harness) tick(t *testing.T) State {
	t.Helper()
	h.clock = h.clock.Add(10 * time.Second)
	return h.sup.Tick(context.Background())
}

// tests

func TestFailureCounterTracksConsecutiveFailures(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Identity.Enabled = false
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false, false, true, false)

	h.tick(t)
	h.tick(t)
	if got := h.sup.Snapshot().ConsecutiveFailures; got != 2 {
		t.Fatalf("failures after two losses = %d, want 2", got)
	}

	if st := h.tick(t); st != StateConnected {
		t.Fatalf("state = %v, want connected", st)
	}
	if got := h.sup.Snapshot().ConsecutiveFailures; got != 0 {
		t.Fatalf("failures after recovery = %d, want 0", got)
	}

	h.tick(t)
	if got := h.sup.Snapshot().ConsecutiveFailures; got != 1 {
		t.Errorf("failures after new loss = %d, want 1", got)
	}
}

func TestRecoveryInvalidatesProbeCache(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Identity.Enabled = false
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false, true, true)

	h.tick(t)
	invalidationsBefore := h.probe.invalidations
	h.tick(t) // disconnected -> connected
	if h.probe.invalidations <= invalidationsBefore {
		t.Error("probe cache not invalidated on transition to connected")
	}

	// Staying connected must not keep invalidating
	after := h.probe.invalidations
	h.tick(t)
	if h.probe.invalidations != after {
		t.Error("probe cache invalidated while already connected")
	}
}

func TestNoIdentityResetBelowThreshold(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false)

	h.tick(t)
	h.tick(t)
	if h.randomizer.calls != 0 {
		t.Errorf("identity reset after %d failures, threshold is 3", 2)
	}
	if h.auth.calls != 2 {
		t.Errorf("auth calls = %d, want one per failed tick", h.auth.calls)
	}
}

func TestIdentityResetAtThreshold(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false)

	h.tick(t)
	h.tick(t)
	h.tick(t) // third consecutive failure
	if h.randomizer.calls != 1 {
		t.Fatalf("randomizer calls = %d, want 1 at threshold", h.randomizer.calls)
	}

	snap := h.sup.Snapshot()
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("failures after successful reset = %d, want 0", snap.ConsecutiveFailures)
	}
	if !snap.LastIdentityReset.Equal(h.clock) {
		t.Errorf("LastIdentityReset = %v, want tick time %v", snap.LastIdentityReset, h.clock)
	}
}

func TestSuccessfulResetSkipsAuthenticatorThatTickOnly(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false)

	h.tick(t)
	h.tick(t)
	authBefore := h.auth.calls
	h.tick(t) // reset succeeds here
	if h.auth.calls != authBefore {
		t.Fatal("authenticator invoked on the identity-reset tick")
	}

	h.tick(t) // still failing: authentication resumes
	if h.auth.calls != authBefore+1 {
		t.Error("authenticator not invoked on the tick after a reset")
	}
}

func TestResetHonorsCooldown(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false)

	// Drive to first reset
	h.tick(t)
	h.tick(t)
	h.tick(t)
	if h.randomizer.calls != 1 {
		t.Fatalf("first reset missing, calls = %d", h.randomizer.calls)
	}

	// Many more failing ticks inside the 300s cooldown (10s per tick)
	for i := 0; i < 20; i++ {
		h.tick(t)
	}
	if h.randomizer.calls != 1 {
		t.Fatalf("reset repeated inside cooldown, calls = %d", h.randomizer.calls)
	}

	// Push past the cooldown; threshold is already exceeded
	h.clock = h.clock.Add(cfg.Identity.Cooldown)
	h.tick(t)
	if h.randomizer.calls != 2 {
		t.Errorf("reset not attempted after cooldown elapsed, calls = %d", h.randomizer.calls)
	}
}

func TestSuccessfulResetInvalidatesCacheAndWaitsStabilization(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false)

	h.tick(t)
	h.tick(t)
	invalidationsBefore := h.probe.invalidations
	h.tick(t)

	if h.probe.invalidations <= invalidationsBefore {
		t.Error("probe cache not invalidated after successful reset")
	}
	found := false
	for _, d := range h.slept {
		if d == cfg.Identity.StabilizationDelay {
			found = true
		}
	}
	if !found {
		t.Errorf("stabilization delay not waited, sleeps = %v", h.slept)
	}
}

func TestFailedResetSuppressModeKeepsTicking(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Sharing.Enabled = false
	cfg.Identity.CooldownBlocksTick = false
	h := newHarness(cfg, false)
	h.randomizer.err = errors.New("adapter busy")

	h.tick(t)
	h.tick(t)
	h.tick(t) // failed reset
	if h.randomizer.calls != 1 {
		t.Fatalf("randomizer calls = %d, want 1", h.randomizer.calls)
	}
	if len(h.slept) != 0 {
		t.Errorf("suppress mode slept %v, want no blocking backoff", h.slept)
	}
	if !h.sup.Snapshot().LastIdentityReset.IsZero() {
		t.Error("LastIdentityReset set on a failed reset")
	}

	// Further ticks within the retry window must not re-attempt
	h.tick(t)
	h.tick(t)
	if h.randomizer.calls != 1 {
		t.Errorf("reset re-attempted during retry window, calls = %d", h.randomizer.calls)
	}

	// Past the window it retries
	h.clock = h.clock.Add(cfg.Identity.Cooldown)
	h.tick(t)
	if h.randomizer.calls != 2 {
		t.Errorf("reset not retried after window, calls = %d", h.randomizer.calls)
	}
}

func TestFailedResetBlockingModeSleepsCooldown(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Sharing.Enabled = false
	cfg.Identity.CooldownBlocksTick = true
	h := newHarness(cfg, false)
	h.randomizer.err = errors.New("adapter busy")

	h.tick(t)
	h.tick(t)
	h.tick(t) // failed reset, blocking backoff

	if len(h.slept) != 1 || h.slept[0] != cfg.Identity.Cooldown {
		t.Errorf("blocking mode sleeps = %v, want [%v]", h.slept, cfg.Identity.Cooldown)
	}
}

func TestRandomizerUnavailableDisablesEscalation(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false)
	h.randomizer.available = false

	for i := 0; i < 6; i++ {
		h.tick(t)
	}
	if h.randomizer.calls != 0 {
		t.Errorf("randomizer invoked while unavailable, calls = %d", h.randomizer.calls)
	}
	if h.auth.calls != 6 {
		t.Errorf("auth calls = %d, want 6 (every failed tick)", h.auth.calls)
	}
}

func TestNilCapabilitiesAreSkipped(t *testing.T) {
	cfg := testSupervisorConfig()
	h := newHarness(cfg, false)
	h.sup = New(cfg, h.probe, h.auth, nil, nil, nil)
	h.sup.now = func() time.Time { return h.clock }
	h.sup.sleep = func(ctx context.Context, d time.Duration) {}

	for i := 0; i < 4; i++ {
		if st := h.tick(t); st != StateDisconnected {
			t.Fatalf("state = %v, want disconnected", st)
		}
	}
	if h.auth.calls != 4 {
		t.Errorf("auth calls = %d, want 4", h.auth.calls)
	}
}

func TestSharingDisabledOnLossBeforeEscalation(t *testing.T) {
	cfg := testSupervisorConfig()
	h := newHarness(cfg, false)
	var events []string
	h.auth.events = &events
	h.randomizer.events = &events
	h.share.events = &events
	h.share.active = true

	// Drive straight to the escalation tick
	h.tick(t)
	h.share.active = true // re-arm: fake deactivation cleared it
	h.tick(t)
	h.share.active = true
	h.tick(t)

	sawDeactivate := false
	for _, ev := range events {
		switch ev {
		case "deactivate":
			sawDeactivate = true
		case "randomize", "auth":
			if !sawDeactivate {
				t.Fatalf("remediation %q ran before sharing deactivation: %v", ev, events)
			}
			sawDeactivate = false // each tick must deactivate first
		}
	}
	if h.share.deactivateCalls == 0 {
		t.Error("sharing never deactivated on loss")
	}
}

func TestSharingActivatedOnConnect(t *testing.T) {
	cfg := testSupervisorConfig()
	h := newHarness(cfg, true)
	h.share.active = false

	if st := h.tick(t); st != StateConnected {
		t.Fatalf("state = %v, want connected", st)
	}
	if h.share.activateCalls != 1 {
		t.Errorf("activate calls = %d, want 1", h.share.activateCalls)
	}

	// Already active: no further activation
	h.tick(t)
	if h.share.activateCalls != 1 {
		t.Errorf("activate calls = %d after second tick, want 1", h.share.activateCalls)
	}
}

func TestSharingNotActivatedWhenModesOff(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Sharing.AutoEnableOnConnect = false
	cfg.Sharing.AlwaysOn = false
	h := newHarness(cfg, true)
	h.share.active = false

	h.tick(t)
	if h.share.activateCalls != 0 {
		t.Errorf("activate calls = %d, want 0 with both modes off", h.share.activateCalls)
	}
}

func TestSharingFailureDoesNotAffectCounters(t *testing.T) {
	cfg := testSupervisorConfig()
	h := newHarness(cfg, true)
	h.share.authorized = false
	h.share.active = false

	if st := h.tick(t); st != StateConnected {
		t.Fatalf("state = %v, want connected despite sharing failure", st)
	}
	if got := h.sup.Snapshot().ConsecutiveFailures; got != 0 {
		t.Errorf("failures = %d, want 0 after sharing failure", got)
	}
}

func TestAuthSuccessInvalidatesCache(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Identity.Enabled = false
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false)
	h.auth.result = portal.ResultSuccess

	h.tick(t)
	if h.probe.invalidations != 1 {
		t.Errorf("invalidations = %d, want 1 after successful login", h.probe.invalidations)
	}
}

func TestAuthTimeoutTreatedAsFailure(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Identity.Enabled = false
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false)
	h.auth.result = portal.ResultTimeout

	if st := h.tick(t); st != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", st)
	}
	if h.probe.invalidations != 0 {
		t.Error("cache invalidated on failed login")
	}
	if h.sup.Snapshot().ConsecutiveFailures != 1 {
		t.Errorf("failures = %d, want 1", h.sup.Snapshot().ConsecutiveFailures)
	}
}

func TestTickRecoversFromPanic(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.Identity.Enabled = false
	cfg.Sharing.Enabled = false
	h := newHarness(cfg, false)
	h.sup.auth = panickingAuth{}

	st := h.sup.Tick(context.Background())
	if st != StateDisconnected {
		t.Errorf("state after panic = %v, want disconnected", st)
	}
	// One tick counts one failure, even though the failure counter was
	// already incremented before the authenticator blew up
	if got := h.sup.Snapshot().ConsecutiveFailures; got != 1 {
		t.Errorf("failures after one panicking tick = %d, want 1", got)
	}

	// The loop must be able to keep ticking
	h.sup.auth = h.auth
	h.sup.Tick(context.Background())
	if got := h.sup.Snapshot().ConsecutiveFailures; got != 2 {
		t.Errorf("failures after follow-up failing tick = %d, want 2", got)
	}
}

type panickingAuth struct{}

func (panickingAuth) AttemptLogin(ctx context.Context) portal.Result {
	panic("browser driver exploded")
}
