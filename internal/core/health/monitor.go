// Package health probes downstream dependencies in the background and keeps
// a per-service status map behind one circuit breaker per dependency.
//
// A service whose breaker is open is reported as circuit_open without any
// outbound call, which stops a known-bad dependency from being hammered.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/contentmesh/gatekeeper/internal/core"
	"github.com/contentmesh/gatekeeper/internal/core/breaker"
	"github.com/contentmesh/gatekeeper/internal/metrics"
)

// Monitor owns the breakers and statuses of a fixed set of services.
type Monitor struct {
	Client *http.Client
	Clock  func() time.Time
	Logger *logging.Logger

	cfg      Config
	names    []string
	services map[string]*monitored

	mu sync.RWMutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type monitored struct {
	def     Service
	breaker *breaker.Breaker
	status  core.ServiceStatus
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithHTTPClient replaces the probe client.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Monitor) {
		if client != nil {
			m.Client = client
		}
	}
}

// WithClock injects a time source for status timestamps and breakers.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) {
		m.Clock = clock
	}
}

// WithLogger sets the logger used for probe failures and transitions.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Monitor) {
		m.Logger = logger
	}
}

// NewMonitor validates both configurations and creates one breaker per
// service. Every status starts as unknown.
func NewMonitor(cfg Config, breakerCfg breaker.Config, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := breakerCfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		Client:   &http.Client{},
		cfg:      cfg,
		services: make(map[string]*monitored, len(cfg.Services)),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, svc := range cfg.Services {
		svc.Name = strings.TrimSpace(svc.Name)
		b, err := breaker.New(svc.Name, breakerCfg)
		if err != nil {
			return nil, err
		}
		b.Clock = m.Clock
		b.OnStateChange = m.onBreakerChange

		m.names = append(m.names, svc.Name)
		m.services[svc.Name] = &monitored{
			def:     svc,
			breaker: b,
			status: core.ServiceStatus{
				Name:         svc.Name,
				Health:       core.HealthUnknown,
				CircuitState: string(breaker.StateClosed),
			},
		}
	}
	sort.Strings(m.names)
	return m, nil
}

// Services returns the monitored service names in sorted order.
func (m *Monitor) Services() []string {
	return append([]string(nil), m.names...)
}

// Breaker returns the breaker guarding name so other call paths to the same
// dependency can share it.
func (m *Monitor) Breaker(name string) (*breaker.Breaker, bool) {
	svc, ok := m.services[strings.TrimSpace(name)]
	if !ok {
		return nil, false
	}
	return svc.breaker, true
}

// CheckServiceHealth checks one service and returns its refreshed status.
func (m *Monitor) CheckServiceHealth(ctx context.Context, name string) (core.ServiceStatus, error) {
	svc, ok := m.services[strings.TrimSpace(name)]
	if !ok {
		return core.ServiceStatus{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	if !svc.breaker.ShouldAttemptRequest() {
		now := m.now()
		m.mu.Lock()
		svc.status.TotalChecks++
		svc.status.Health = core.HealthCircuitOpen
		svc.status.LastCheck = &now
		svc.status.ResponseTimeMS = nil
		svc.status.ErrorMessage = stringPtr("Circuit breaker open")
		svc.status.CircuitState = string(svc.breaker.State())
		status := m.snapshot(svc)
		m.mu.Unlock()

		metrics.RecordHealthProbe(name, string(core.HealthCircuitOpen), 0)
		return status, nil
	}

	result := m.probe(ctx, svc.def)
	if ctx.Err() != nil {
		// Shutdown interrupted the probe; the dependency did not fail.
		svc.breaker.Abandon()
		return m.Status(name), ctx.Err()
	}

	if result.err == "" {
		svc.breaker.RecordSuccess()
	} else {
		svc.breaker.RecordFailure()
	}

	now := m.now()
	m.mu.Lock()
	svc.status.TotalChecks++
	svc.status.LastCheck = &now
	svc.status.ResponseTimeMS = result.elapsedMS
	if result.err == "" {
		svc.status.Health = core.HealthHealthy
		svc.status.ErrorMessage = nil
		svc.status.SuccessfulChecks++
		svc.status.ConsecutiveFailures = 0
	} else {
		svc.status.Health = core.HealthUnhealthy
		svc.status.ErrorMessage = stringPtr(result.err)
		svc.status.ConsecutiveFailures++
	}
	svc.status.CircuitState = string(svc.breaker.State())
	status := m.snapshot(svc)
	m.mu.Unlock()

	metrics.RecordHealthProbe(name, string(status.Health), result.elapsed)
	if result.err != "" && m.Logger != nil {
		m.Logger.Warn("Dependency health check failed",
			zap.String("service", name),
			zap.String("error", result.err),
			zap.Int("consecutive_failures", status.ConsecutiveFailures),
		)
	}
	return status, nil
}

// CheckAllServices checks every service concurrently, waits for all of them,
// and returns the aggregated report.
func (m *Monitor) CheckAllServices(ctx context.Context) core.HealthReport {
	var wg sync.WaitGroup
	for _, name := range m.names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logError("Health check panicked", zap.String("service", name), zap.Any("panic", r))
				}
			}()
			if _, err := m.CheckServiceHealth(ctx, name); err != nil && ctx.Err() == nil {
				m.logError("Health check failed", zap.String("service", name), zap.Error(err))
			}
		}(name)
	}
	wg.Wait()
	return m.GetStatus()
}

// Trigger runs an immediate sweep outside the background schedule.
func (m *Monitor) Trigger(ctx context.Context) core.HealthReport {
	return m.CheckAllServices(ctx)
}

// GetStatus aggregates the current statuses. Overall health is healthy when
// every service is healthy, degraded when at least one is, unhealthy otherwise.
func (m *Monitor) GetStatus() core.HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := core.HealthReport{
		Timestamp: m.now(),
		Services:  make(map[string]core.ServiceStatus, len(m.services)),
	}

	healthy := 0
	for name, svc := range m.services {
		status := m.snapshot(svc)
		report.Services[name] = status
		if status.Health == core.HealthHealthy {
			healthy++
		}
	}

	switch {
	case healthy == len(m.services):
		report.OverallHealth = core.OverallHealthy
	case healthy > 0:
		report.OverallHealth = core.OverallDegraded
	default:
		report.OverallHealth = core.OverallUnhealthy
	}
	return report
}

// Status returns the current status of one service.
func (m *Monitor) Status(name string) core.ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[strings.TrimSpace(name)]
	if !ok {
		return core.ServiceStatus{}
	}
	return m.snapshot(svc)
}

// Start launches the background loop. Calling Start on a running monitor is
// a no-op. The loop stops when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.done != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.loop(loopCtx, done)

	if m.Logger != nil {
		m.Logger.Info("Health monitor started",
			zap.Int("services", len(m.names)),
			zap.Duration("check_interval", m.cfg.CheckInterval),
		)
	}
}

// Stop cancels the background loop and waits for it to exit. It is safe to
// call repeatedly and on a monitor that was never started.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.done == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil

	if m.Logger != nil {
		m.Logger.Info("Health monitor stopped")
	}
}

// Running reports whether the background loop is active.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.done != nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		m.sweep(ctx)
		timer.Reset(m.cfg.CheckInterval)
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logError("Health sweep panicked", zap.Any("panic", r))
		}
	}()
	report := m.CheckAllServices(ctx)
	if m.Logger != nil && ctx.Err() == nil {
		m.Logger.Debug("Health sweep completed", zap.String("overall_health", string(report.OverallHealth)))
	}
}

type probeResult struct {
	err       string
	elapsed   time.Duration
	elapsedMS *float64
}

func (m *Monitor) probe(ctx context.Context, svc Service) probeResult {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, svc.Endpoint(), nil)
	if err != nil {
		return probeResult{err: fmt.Sprintf("Connection error: %v", err)}
	}

	start := time.Now()
	resp, err := m.Client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if isTimeout(err) {
			return probeResult{err: "Timeout"}
		}
		return probeResult{err: fmt.Sprintf("Connection error: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	ms := float64(elapsed) / float64(time.Millisecond)
	result := probeResult{elapsed: elapsed, elapsedMS: &ms}
	if resp.StatusCode != http.StatusOK {
		result.err = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return result
}

func (m *Monitor) onBreakerChange(name string, from, to breaker.State) {
	metrics.RecordBreakerTransition(name, string(from), string(to))
	if m.Logger != nil {
		m.Logger.Info("Circuit breaker state changed",
			zap.String("service", name),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
}

// snapshot copies a status; callers hold m.mu.
func (m *Monitor) snapshot(svc *monitored) core.ServiceStatus {
	status := svc.status
	status.UptimePercentage = status.Uptime()
	return status
}

func (m *Monitor) logError(msg string, fields ...zap.Field) {
	if m.Logger != nil {
		m.Logger.Error(msg, fields...)
	}
}

func (m *Monitor) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now().UTC()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func stringPtr(s string) *string {
	return &s
}
