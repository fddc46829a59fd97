package core

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	BaseDirName    = ".config/wifiwarden"
	ConfigFileName = "config.hcl"
)

// Endpoint is a single reachability target. A response with exactly
// ExpectStatus counts as reachable; anything else (including captive
// portal redirects) does not.
type Endpoint struct {
	URL          string
	ExpectStatus int
}

// ProbeConfig controls connectivity verification.
type ProbeConfig struct {
	Endpoints []Endpoint
	Timeout   time.Duration // per-request timeout
	CacheTTL  time.Duration // how long a probe result stays valid
}

// SelectorSet holds the captive portal element selectors. StepOne and
// StepTwo are required; the rest are optional.
type SelectorSet struct {
	PopupDismiss  string
	StepOne       string
	StepTwo       string
	UsernameField string
	PasswordField string
	Submit        string
}

// PortalConfig controls the captive portal authenticator.
type PortalConfig struct {
	BootstrapURL     string // non-HTTPS URL that triggers the portal redirect
	Selectors        SelectorSet
	OperationTimeout time.Duration // overall budget for one login attempt
	PopupTimeout     time.Duration // how long to wait for a dismissible popup
	InteractionDelay time.Duration // portals often require a pause between clicks
	PostLoginWait    time.Duration // settle time before trusting connectivity
	CredentialsKey   string        // keyring item holding "user\npassword", optional
}

// IdentityConfig controls hardware address randomization.
type IdentityConfig struct {
	Enabled            bool
	Tool               string   // executable name, resolved via PATH
	ToolPaths          []string // extra candidate paths checked before PATH
	InterfaceClass     string   // second argument to the tool, e.g. "wi-fi"
	ExecTimeout        time.Duration
	FailureThreshold   int           // consecutive failures before a reset
	Cooldown           time.Duration // minimum interval between resets
	StabilizationDelay time.Duration // adapter settle time after a reset
	CooldownBlocksTick bool          // sleep out the cooldown on reset failure
}

// SharingConfig controls the downstream connection-sharing toggle.
type SharingConfig struct {
	Enabled             bool
	ConnectionID        string // NetworkManager connection name to toggle
	AutoEnableOnConnect bool
	AlwaysOn            bool
	DisableOnLoss       bool
	StatusCacheTTL      time.Duration
	TransitionWait      time.Duration // settle time after activate/deactivate
}

// Config is the validated runtime configuration. Immutable for the
// process lifetime once Load returns.
type Config struct {
	ConfigPath    string // path of the loaded config file
	Verbose       int
	CheckInterval time.Duration
	Probe         ProbeConfig
	Portal        PortalConfig
	Identity      IdentityConfig
	Sharing       SharingConfig
}

// Capabilities is the startup discovery snapshot. It is resolved once
// after config validation and never mutated mid-tick.
type Capabilities struct {
	IdentityTool      string // resolved tool path, empty when unavailable
	IdentityAvailable bool
	SharingAuthorized bool
}

// HCL parsing structs

type hclConfig struct {
	CheckInterval string       `hcl:"check_interval,optional"`
	Probe         *hclProbe    `hcl:"probe,block"`
	Portal        *hclPortal   `hcl:"portal,block"`
	Identity      *hclIdentity `hcl:"identity,block"`
	Sharing       *hclSharing  `hcl:"sharing,block"`
}

type hclProbe struct {
	Endpoints []hclEndpoint `hcl:"endpoint,block"`
	Timeout   string        `hcl:"timeout,optional"`
	CacheTTL  string        `hcl:"cache_ttl,optional"`
}

type hclEndpoint struct {
	URL          string `hcl:"url,label"`
	ExpectStatus int    `hcl:"expect_status,optional"`
}

type hclPortal struct {
	BootstrapURL     string        `hcl:"bootstrap_url,optional"`
	Selectors        *hclSelectors `hcl:"selectors,block"`
	OperationTimeout string        `hcl:"operation_timeout,optional"`
	PopupTimeout     string        `hcl:"popup_timeout,optional"`
	InteractionDelay string        `hcl:"interaction_delay,optional"`
	PostLoginWait    string        `hcl:"post_login_wait,optional"`
	CredentialsKey   string        `hcl:"credentials_key,optional"`
}

type hclSelectors struct {
	PopupDismiss  string `hcl:"popup_dismiss,optional"`
	StepOne       string `hcl:"step_one"`
	StepTwo       string `hcl:"step_two"`
	UsernameField string `hcl:"username_field,optional"`
	PasswordField string `hcl:"password_field,optional"`
	Submit        string `hcl:"submit,optional"`
}

type hclIdentity struct {
	Enabled            *bool    `hcl:"enabled,optional"`
	Tool               string   `hcl:"tool,optional"`
	ToolPaths          []string `hcl:"tool_paths,optional"`
	InterfaceClass     string   `hcl:"interface_class,optional"`
	ExecTimeout        string   `hcl:"exec_timeout,optional"`
	FailureThreshold   int      `hcl:"failure_threshold,optional"`
	Cooldown           string   `hcl:"cooldown,optional"`
	StabilizationDelay string   `hcl:"stabilization_delay,optional"`
	CooldownBlocksTick *bool    `hcl:"cooldown_blocks_tick,optional"`
}

type hclSharing struct {
	Enabled             *bool  `hcl:"enabled,optional"`
	ConnectionID        string `hcl:"connection_id,optional"`
	AutoEnableOnConnect *bool  `hcl:"auto_enable_on_connect,optional"`
	AlwaysOn            *bool  `hcl:"always_on,optional"`
	DisableOnLoss       *bool  `hcl:"disable_on_loss,optional"`
	StatusCacheTTL      string `hcl:"status_cache_ttl,optional"`
	TransitionWait      string `hcl:"transition_wait,optional"`
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, BaseDirName, ConfigFileName)
}

// DefaultConfig returns a Config with default values. The portal selector
// set is intentionally left empty: portals differ, so selectors must come
// from the config file.
func DefaultConfig() *Config {
	return &Config{
		CheckInterval: 10 * time.Second,
		Probe: ProbeConfig{
			Endpoints: []Endpoint{
				{URL: "http://connectivitycheck.gstatic.com/generate_204", ExpectStatus: 204},
				{URL: "https://www.google.com", ExpectStatus: 200},
				{URL: "https://www.cloudflare.com", ExpectStatus: 200},
			},
			Timeout:  10 * time.Second,
			CacheTTL: 10 * time.Second,
		},
		Portal: PortalConfig{
			BootstrapURL:     "http://neverssl.com",
			OperationTimeout: 40 * time.Second,
			PopupTimeout:     15 * time.Second,
			InteractionDelay: 6 * time.Second,
			PostLoginWait:    10 * time.Second,
		},
		Identity: IdentityConfig{
			Enabled:            true,
			Tool:               "spoof-mac",
			InterfaceClass:     "wi-fi",
			ExecTimeout:        30 * time.Second,
			FailureThreshold:   3,
			Cooldown:           300 * time.Second,
			StabilizationDelay: 15 * time.Second,
		},
		Sharing: SharingConfig{
			Enabled:             true,
			AutoEnableOnConnect: true,
			AlwaysOn:            true,
			DisableOnLoss:       true,
			StatusCacheTTL:      10 * time.Second,
			TransitionWait:      3 * time.Second,
		},
	}
}

// Load reads and validates the HCL configuration file. Missing file is a
// ConfigError: the portal selector set cannot be defaulted.
func Load(path string) (*Config, error) {
	var hclCfg hclConfig
	if err := hclsimple.DecodeFile(path, nil, &hclCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	cfg.ConfigPath = path

	if hclCfg.CheckInterval != "" {
		d, err := parseDuration("check_interval", hclCfg.CheckInterval)
		if err != nil {
			return nil, err
		}
		cfg.CheckInterval = d
	}

	if err := applyProbe(cfg, hclCfg.Probe); err != nil {
		return nil, err
	}
	if err := applyPortal(cfg, hclCfg.Portal); err != nil {
		return nil, err
	}
	if err := applyIdentity(cfg, hclCfg.Identity); err != nil {
		return nil, err
	}
	if err := applySharing(cfg, hclCfg.Sharing); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyProbe(cfg *Config, h *hclProbe) error {
	if h == nil {
		return nil
	}
	if len(h.Endpoints) > 0 {
		cfg.Probe.Endpoints = nil
		for _, ep := range h.Endpoints {
			expect := ep.ExpectStatus
			if expect == 0 {
				expect = 200
			}
			cfg.Probe.Endpoints = append(cfg.Probe.Endpoints, Endpoint{URL: ep.URL, ExpectStatus: expect})
		}
	}
	var err error
	if cfg.Probe.Timeout, err = overrideDuration("probe.timeout", h.Timeout, cfg.Probe.Timeout); err != nil {
		return err
	}
	if cfg.Probe.CacheTTL, err = overrideDuration("probe.cache_ttl", h.CacheTTL, cfg.Probe.CacheTTL); err != nil {
		return err
	}
	return nil
}

func applyPortal(cfg *Config, h *hclPortal) error {
	if h == nil {
		return nil
	}
	if h.BootstrapURL != "" {
		cfg.Portal.BootstrapURL = h.BootstrapURL
	}
	if h.Selectors != nil {
		cfg.Portal.Selectors = SelectorSet{
			PopupDismiss:  h.Selectors.PopupDismiss,
			StepOne:       h.Selectors.StepOne,
			StepTwo:       h.Selectors.StepTwo,
			UsernameField: h.Selectors.UsernameField,
			PasswordField: h.Selectors.PasswordField,
			Submit:        h.Selectors.Submit,
		}
	}
	cfg.Portal.CredentialsKey = h.CredentialsKey
	var err error
	if cfg.Portal.OperationTimeout, err = overrideDuration("portal.operation_timeout", h.OperationTimeout, cfg.Portal.OperationTimeout); err != nil {
		return err
	}
	if cfg.Portal.PopupTimeout, err = overrideDuration("portal.popup_timeout", h.PopupTimeout, cfg.Portal.PopupTimeout); err != nil {
		return err
	}
	if cfg.Portal.InteractionDelay, err = overrideDuration("portal.interaction_delay", h.InteractionDelay, cfg.Portal.InteractionDelay); err != nil {
		return err
	}
	if cfg.Portal.PostLoginWait, err = overrideDuration("portal.post_login_wait", h.PostLoginWait, cfg.Portal.PostLoginWait); err != nil {
		return err
	}
	return nil
}

func applyIdentity(cfg *Config, h *hclIdentity) error {
	if h == nil {
		return nil
	}
	if h.Enabled != nil {
		cfg.Identity.Enabled = *h.Enabled
	}
	if h.Tool != "" {
		cfg.Identity.Tool = h.Tool
	}
	if len(h.ToolPaths) > 0 {
		cfg.Identity.ToolPaths = h.ToolPaths
	}
	if h.InterfaceClass != "" {
		cfg.Identity.InterfaceClass = h.InterfaceClass
	}
	if h.FailureThreshold > 0 {
		cfg.Identity.FailureThreshold = h.FailureThreshold
	}
	if h.CooldownBlocksTick != nil {
		cfg.Identity.CooldownBlocksTick = *h.CooldownBlocksTick
	}
	var err error
	if cfg.Identity.ExecTimeout, err = overrideDuration("identity.exec_timeout", h.ExecTimeout, cfg.Identity.ExecTimeout); err != nil {
		return err
	}
	if cfg.Identity.Cooldown, err = overrideDuration("identity.cooldown", h.Cooldown, cfg.Identity.Cooldown); err != nil {
		return err
	}
	if cfg.Identity.StabilizationDelay, err = overrideDuration("identity.stabilization_delay", h.StabilizationDelay, cfg.Identity.StabilizationDelay); err != nil {
		return err
	}
	return nil
}

func applySharing(cfg *Config, h *hclSharing) error {
	if h == nil {
		return nil
	}
	if h.Enabled != nil {
		cfg.Sharing.Enabled = *h.Enabled
	}
	if h.ConnectionID != "" {
		cfg.Sharing.ConnectionID = h.ConnectionID
	}
	if h.AutoEnableOnConnect != nil {
		cfg.Sharing.AutoEnableOnConnect = *h.AutoEnableOnConnect
	}
	if h.AlwaysOn != nil {
		cfg.Sharing.AlwaysOn = *h.AlwaysOn
	}
	if h.DisableOnLoss != nil {
		cfg.Sharing.DisableOnLoss = *h.DisableOnLoss
	}
	var err error
	if cfg.Sharing.StatusCacheTTL, err = overrideDuration("sharing.status_cache_ttl", h.StatusCacheTTL, cfg.Sharing.StatusCacheTTL); err != nil {
		return err
	}
	if cfg.Sharing.TransitionWait, err = overrideDuration("sharing.transition_wait", h.TransitionWait, cfg.Sharing.TransitionWait); err != nil {
		return err
	}
	return nil
}

// placeholderMarkers are strings that indicate a selector was copied from
// an example config and never customized.
var placeholderMarkers = []string{"PLACEHOLDER", "CHANGE_ME", "PASTE_XPATH"}

// Validate checks the assembled configuration. Called once at startup;
// any error here is fatal.
func (c *Config) Validate() error {
	if c.CheckInterval <= 0 {
		return NewConfigError("check_interval", "must be positive")
	}
	if len(c.Probe.Endpoints) == 0 {
		return NewConfigError("probe.endpoint", "at least one endpoint is required")
	}
	for _, ep := range c.Probe.Endpoints {
		u, err := url.Parse(ep.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewConfigError("probe.endpoint", "invalid URL %q", ep.URL)
		}
	}
	if c.Portal.Selectors.StepOne == "" || c.Portal.Selectors.StepTwo == "" {
		return NewConfigError("portal.selectors", "step_one and step_two are required")
	}
	selectors := []string{
		c.Portal.Selectors.PopupDismiss,
		c.Portal.Selectors.StepOne,
		c.Portal.Selectors.StepTwo,
		c.Portal.Selectors.UsernameField,
		c.Portal.Selectors.PasswordField,
		c.Portal.Selectors.Submit,
	}
	for _, sel := range selectors {
		for _, marker := range placeholderMarkers {
			if strings.Contains(sel, marker) {
				return NewConfigError("portal.selectors",
					"selector contains placeholder %q - customize it for your portal", marker)
			}
		}
	}
	if c.Identity.Enabled {
		if c.Identity.FailureThreshold < 1 {
			return NewConfigError("identity.failure_threshold", "must be at least 1")
		}
		if c.Identity.Cooldown <= 0 {
			return NewConfigError("identity.cooldown", "must be positive")
		}
	}
	if c.Sharing.Enabled && c.Sharing.ConnectionID == "" {
		return NewConfigError("sharing.connection_id",
			"required when sharing is enabled (NetworkManager connection name)")
	}
	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, NewConfigError(field, "invalid duration %q", value)
	}
	if d <= 0 {
		return 0, NewConfigError(field, "duration must be positive")
	}
	return d, nil
}

func overrideDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return parseDuration(field, value)
}
