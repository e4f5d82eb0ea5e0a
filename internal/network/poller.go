// Package network provides a concrete edgequeue.NetworkMonitor that probes
// connectivity on a jittered ticker, the same startup-jitter shape the
// teacher's reconciliation worker uses to avoid thundering-herd effects.
package network

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"
)

// PollerConfig configures a Poller.
type PollerConfig struct {
	// ProbeURL is fetched with HTTP HEAD to determine connectivity. A
	// transport error or a 5xx status counts as disconnected.
	ProbeURL string
	// Interval between probes (default: 30s).
	Interval time.Duration
	// MaxStartupJitter delays the first probe by up to this much, spread
	// across instances starting at the same time. Zero means no startup
	// delay; DefaultPollerConfig sets 5s.
	MaxStartupJitter time.Duration
	// Timeout bounds a single probe request (default: 5s).
	Timeout time.Duration
	// Logger receives probe failures at debug level.
	Logger *slog.Logger
}

// DefaultPollerConfig returns sensible defaults probing a well-known
// always-up endpoint.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		ProbeURL:          "https://connectivitycheck.gstatic.com/generate_204",
		Interval:          30 * time.Second,
		MaxStartupJitter:  5 * time.Second,
		Timeout:           5 * time.Second,
	}
}

// Poller implements edgequeue.NetworkMonitor by periodically issuing an
// HTTP HEAD request and tracking edge transitions.
type Poller struct {
	cfg    PollerConfig
	client *http.Client
	logger *slog.Logger

	mu          sync.RWMutex
	connected   bool
	subscribers map[int]func(bool)
	nextID      int
}

// NewPoller constructs a Poller. Call Run in its own goroutine to start probing.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = DefaultPollerConfig().ProbeURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
		connected:   true,
		subscribers: make(map[int]func(bool)),
	}
}

// IsConnected implements edgequeue.NetworkMonitor.
func (p *Poller) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Subscribe implements edgequeue.NetworkMonitor.
func (p *Poller) Subscribe(fn func(isConnected bool)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subscribers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}
}

// Run probes on a jittered ticker until ctx is cancelled. It is meant to be
// started once, e.g. `go poller.Run(ctx)`.
func (p *Poller) Run(ctx context.Context) {
	if p.cfg.MaxStartupJitter > 0 {
		jitter := rand.N(p.cfg.MaxStartupJitter)
		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	p.probeOnce(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *Poller) probeOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, p.cfg.ProbeURL, nil)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build connectivity probe request", slog.String("error", err.Error()))
		return
	}

	resp, err := p.client.Do(req)
	connected := err == nil && resp.StatusCode < http.StatusInternalServerError
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		p.logger.DebugContext(ctx, "connectivity probe failed", slog.String("error", err.Error()))
	} else if !connected {
		p.logger.DebugContext(ctx, "connectivity probe returned a server error", slog.Int("status", resp.StatusCode))
	}

	p.setConnected(connected)
}

func (p *Poller) setConnected(connected bool) {
	p.mu.Lock()
	changed := p.connected != connected
	p.connected = connected
	var subs []func(bool)
	if changed {
		subs = make([]func(bool), 0, len(p.subscribers))
		for _, fn := range p.subscribers {
			subs = append(subs, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(connected)
	}
}
