package connectivity

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger checks whether the API answers at all
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober feeds the monitor from periodic reachability checks
type Prober struct {
	monitor  *Monitor
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	seeded   chan struct{}
}

// NewProber creates a prober. The pinger is usually the remote gateway.
func NewProber(monitor *Monitor, pinger Pinger, interval, timeout time.Duration, logger *zap.Logger) *Prober {
	return &Prober{
		monitor:  monitor,
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		seeded:   make(chan struct{}),
	}
}

// Check runs one probe and returns whether the API was reachable
func (p *Prober) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.pinger.Ping(ctx); err != nil {
		p.logger.Debug("reachability probe failed", zap.Error(err))
		return false
	}
	return true
}

// Start seeds the monitor with a startup probe, without firing listeners, and then
// polls until ctx is cancelled.
func (p *Prober) Start(ctx context.Context) {
	initial := p.Check(ctx)
	p.monitor.online.Store(initial)
	p.logger.Info("initial connectivity state", zap.Bool("online", initial))
	close(p.seeded)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reachability prober stopped")
			return
		case <-ticker.C:
			p.monitor.Set(p.Check(ctx))
		}
	}
}

// Seeded is closed once Start has recorded the startup probe
func (p *Prober) Seeded() <-chan struct{} {
	return p.seeded
}

// HTTPPinger treats any HTTP response from url as reachable
type HTTPPinger struct {
	URL    string
	Client *http.Client
}

// Ping implements Pinger
func (h HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
