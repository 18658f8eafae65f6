// Package proxymgr rotates outbound proxies for both extraction backends.
// Proxies that fail repeatedly are parked with exponential backoff and
// brought back by a periodic TCP health check.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"vidgrab/internal/config"
	"vidgrab/internal/observability"
	"vidgrab/pkg/urls"
)

// State represents the current state of a proxy.
type State int

const (
	// StateAvailable indicates the proxy is available for use.
	StateAvailable State = iota
	// StateFailed indicates the proxy has failed and is in backoff.
	StateFailed
)

func (s State) String() string {
	if s == StateFailed {
		return "failed"
	}

	return "available"
}

const (
	healthCheckTimeout = 10 * time.Second
	maxBackoff         = time.Hour
)

var defaultPorts = map[string]string{
	"socks5":  "1080",
	"socks5h": "1080",
	"http":    "80",
	"https":   "443",
}

type proxyInfo struct {
	url          string
	state        State
	failures     int
	lastFailure  time.Time
	backoffUntil time.Time
	lastCheck    time.Time
}

func (p *proxyInfo) availableAt(now time.Time) bool {
	return p.state == StateAvailable || now.After(p.backoffUntil)
}

// Stats is a snapshot of one proxy.
type Stats struct {
	State        State
	FailureCount int
	LastFailure  time.Time
	BackoffUntil time.Time
	LastCheck    time.Time
}

// Manager manages proxy rotation and health.
type Manager struct {
	log     *slog.Logger
	cfg     config.Proxy
	metrics *observability.Metrics
	now     func() time.Time
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	mu      sync.Mutex
	proxies map[string]*proxyInfo
	order   []string
}

// New creates a proxy manager over cfg.Proxies.
func New(log *slog.Logger, cfg config.Proxy, metrics *observability.Metrics) *Manager {
	dialer := &net.Dialer{Timeout: healthCheckTimeout}

	mgr := &Manager{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
		dial:    dialer.DialContext,
		proxies: make(map[string]*proxyInfo, len(cfg.Proxies)),
		order:   make([]string, 0, len(cfg.Proxies)),
	}

	for _, proxy := range cfg.Proxies {
		if _, dup := mgr.proxies[proxy]; dup {
			continue
		}

		mgr.proxies[proxy] = &proxyInfo{url: proxy, state: StateAvailable}
		mgr.order = append(mgr.order, proxy)
	}

	metrics.SetProxiesAvailable(len(mgr.order))

	return mgr
}

// Pick returns a random available proxy, or "" when none is configured or all are in backoff.
func (m *Manager) Pick() string {
	if m == nil {
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.available()
	if len(available) == 0 {
		return ""
	}

	proxy := available[rand.IntN(len(available))]
	m.metrics.RecordProxyRequest(urls.Redact(proxy))

	return proxy
}

// Report feeds the outcome of a download that used proxy back into rotation.
func (m *Manager) Report(proxy string, err error) {
	if m == nil || proxy == "" {
		return
	}

	if err != nil {
		m.MarkFailed(proxy)

		return
	}

	m.MarkSuccess(proxy)
}

// MarkFailed counts a failure and parks the proxy once MaxFailures is reached.
func (m *Manager) MarkFailed(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.proxies[proxy]
	if !ok {
		return
	}

	now := m.now()
	info.failures++
	info.lastFailure = now

	m.metrics.RecordProxyFailure(urls.Redact(proxy))

	if info.failures >= max(m.cfg.MaxFailures, 1) {
		backoff := m.cfg.FailureBackoff << min(info.failures-max(m.cfg.MaxFailures, 1), 16)
		if backoff <= 0 || backoff > maxBackoff {
			backoff = maxBackoff
		}

		info.state = StateFailed
		info.backoffUntil = now.Add(backoff)

		m.log.Warn("proxy marked as failed",
			slog.String("proxy", urls.Redact(proxy)),
			slog.Int("failure_count", info.failures),
			slog.Duration("backoff", backoff))
	}

	m.metrics.SetProxiesAvailable(len(m.available()))
}

// MarkSuccess resets the failure count of proxy.
func (m *Manager) MarkSuccess(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.proxies[proxy]
	if !ok {
		return
	}

	info.state = StateAvailable
	info.failures = 0
	info.backoffUntil = time.Time{}

	m.metrics.SetProxiesAvailable(len(m.available()))
}

// HealthCheck dials the proxy host, filling in the scheme's default port when the URL has none.
func (m *Manager) HealthCheck(ctx context.Context, proxy string) error {
	addr, err := dialAddr(proxy)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", addr)
	if err != nil {
		m.MarkFailed(proxy)

		return fmt.Errorf("dial proxy: %w", err)
	}

	conn.Close()

	m.mu.Lock()
	if info, ok := m.proxies[proxy]; ok {
		info.lastCheck = m.now()
	}
	m.mu.Unlock()

	m.MarkSuccess(proxy)

	return nil
}

func dialAddr(proxy string) (string, error) {
	u, err := url.Parse(proxy)
	if err != nil {
		return "", fmt.Errorf("parse proxy URL: %w", err)
	}

	if u.Hostname() == "" {
		return "", fmt.Errorf("proxy URL %q: missing host", urls.Redact(proxy))
	}

	port := u.Port()
	if port == "" {
		port = defaultPorts[strings.ToLower(u.Scheme)]
	}

	if port == "" {
		return "", fmt.Errorf("proxy URL %q: unknown scheme %q", urls.Redact(proxy), u.Scheme)
	}

	return net.JoinHostPort(u.Hostname(), port), nil
}

// StartHealthChecker starts background health checking for all proxies.
func (m *Manager) StartHealthChecker(ctx context.Context) {
	if m.cfg.HealthCheckInterval <= 0 || len(m.order) == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAll(ctx)
			}
		}
	}()

	m.log.Info("proxy health checker started",
		slog.Duration("interval", m.cfg.HealthCheckInterval),
		slog.Int("proxy_count", len(m.order)))
}

func (m *Manager) checkAll(ctx context.Context) {
	for _, proxy := range m.order {
		if ctx.Err() != nil {
			return
		}

		if err := m.HealthCheck(ctx, proxy); err != nil {
			m.log.Debug("proxy health check failed",
				slog.String("proxy", urls.Redact(proxy)),
				slog.Any("error", err))
		}
	}
}

// Stats returns a snapshot keyed by proxy URL.
func (m *Manager) Stats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Stats, len(m.proxies))
	for proxy, info := range m.proxies {
		out[proxy] = Stats{
			State:        info.state,
			FailureCount: info.failures,
			LastFailure:  info.lastFailure,
			BackoffUntil: info.backoffUntil,
			LastCheck:    info.lastCheck,
		}
	}

	return out
}

// Count returns the number of configured proxies.
func (m *Manager) Count() int {
	if m == nil {
		return 0
	}

	return len(m.order)
}

// AvailableCount returns the number of proxies not in backoff.
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.available())
}

func (m *Manager) available() []string {
	now := m.now()
	out := make([]string, 0, len(m.order))

	for _, proxy := range m.order {
		if m.proxies[proxy].availableAt(now) {
			out = append(out, proxy)
		}
	}

	return out
}

// HTTPClient returns base routed through proxy, or base itself when proxy is "".
func HTTPClient(base *http.Client, proxy string) (*http.Client, error) {
	if proxy == "" {
		return base, nil
	}

	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy URL: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(u)

	client := *base
	client.Transport = transport

	return &client, nil
}
