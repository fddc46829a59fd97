// Package probe answers "is the internet reachable right now?" with
// short-lived caching. Reachability is judged by status code alone so a
// captive portal's injected page is never mistaken for the real target.
package probe

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hieund/wifiwarden/internal/core"
	"github.com/hieund/wifiwarden/internal/netcache"
)

// Probe checks internet reachability against an ordered endpoint list.
// The first endpoint answering with its expected status short-circuits
// the rest.
type Probe struct {
	endpoints []core.Endpoint
	timeout   time.Duration
	client    *http.Client
	cache     *netcache.Bool
	logger    *slog.Logger
}

// New creates a connectivity probe from config.
func New(cfg core.ProbeConfig, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Probe{
		endpoints: cfg.Endpoints,
		timeout:   cfg.Timeout,
		client: &http.Client{
			// A captive portal redirect must not be followed into a 200
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
	p.cache = netcache.NewBool(cfg.CacheTTL, p.check)
	return p
}

// Reachable reports internet reachability, served from cache while fresh.
func (p *Probe) Reachable(ctx context.Context) bool {
	v, err := p.cache.Get(ctx, false)
	if err != nil {
		// check never returns an error; unreachable is a valid result
		return false
	}
	return v
}

// Invalidate forces the next Reachable call to re-probe. Called after a
// remediation action makes the previous cached value unreliable.
func (p *Probe) Invalidate() {
	p.cache.Invalidate()
}

func (p *Probe) check(ctx context.Context) (bool, error) {
	for _, ep := range p.endpoints {
		if p.tryEndpoint(ctx, ep) {
			p.logger.Debug("Connectivity confirmed", "endpoint", ep.URL)
			return true, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	p.logger.Debug("No endpoint reachable")
	return false, nil
}

func (p *Probe) tryEndpoint(ctx context.Context, ep core.Endpoint) bool {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return false
	}
	// Bypass intermediary caches so a stale portal page can't answer
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == ep.ExpectStatus
}
