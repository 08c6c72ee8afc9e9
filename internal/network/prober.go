package network

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/httpclient"
	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/privacy"
)

const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// ProberConfig configures a Prober
type ProberConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
}

// ProberConfigFromSettings maps network settings to a prober config
func ProberConfigFromSettings(s *conf.NetworkSettings) ProberConfig {
	return ProberConfig{URL: s.ProbeURL, Interval: s.Interval, Timeout: s.Timeout}
}

// Prober periodically sends a HEAD request and reports the result to a Monitor.
// Any HTTP response counts as online; only transport failures count as offline.
type Prober struct {
	cfg     ProberConfig
	client  *httpclient.Client
	monitor *Monitor
	clock   clock.Clock
}

// NewProber creates a prober
func NewProber(cfg ProberConfig, client *httpclient.Client, monitor *Monitor) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Prober{cfg: cfg, client: client, monitor: monitor, clock: cfg.Clock}
}

// Check probes once and updates the monitor
func (p *Prober) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	online := true
	resp, err := p.client.Head(probeCtx, p.cfg.URL)
	if err != nil {
		// shutting down, the result says nothing about connectivity
		if ctx.Err() != nil {
			return p.monitor.Online()
		}
		online = false
		GetLogger().Debug("connectivity probe failed",
			logger.String("url", privacy.RedactURL(p.cfg.URL)),
			logger.Error(err))
	} else {
		_ = resp.Body.Close()
	}
	p.monitor.Set(online)
	return online
}

// Run probes immediately and then every interval until ctx is done
func (p *Prober) Run(ctx context.Context) error {
	ticker := p.clock.Ticker(p.cfg.Interval)
	defer ticker.Stop()

	GetLogger().Info("connectivity prober started",
		logger.String("url", privacy.RedactURL(p.cfg.URL)),
		logger.Duration("interval", p.cfg.Interval))

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
