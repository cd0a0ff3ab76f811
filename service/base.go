package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HongGunKR/CoE-Backend/health"
	"github.com/HongGunKR/CoE-Backend/metric"
	"github.com/HongGunKR/CoE-Backend/natsclient"
)

// Status represents the current status of a service
type Status int

// Possible service statuses
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Service is the contract for everything the Manager runs
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Status() Status
	IsHealthy() bool
	Health() health.Status
}

// HealthCheckFunc defines a custom health check function
type HealthCheckFunc func() error

// Option is a functional option for configuring BaseService
type Option func(*BaseService)

// WithNATS sets the NATS client; its connection state feeds the default
// health check
func WithNATS(client *natsclient.Client) Option {
	return func(s *BaseService) {
		s.nats = client
	}
}

// WithMetrics sets the metrics registry for lifecycle reporting
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *BaseService) {
		s.metricsRegistry = registry
	}
}

// WithLogger sets a custom logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *BaseService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck sets a custom health check function
func WithHealthCheck(fn HealthCheckFunc) Option {
	return func(s *BaseService) {
		s.healthCheckFunc = fn
	}
}

// WithHealthInterval sets the health check interval
func WithHealthInterval(interval time.Duration) Option {
	return func(s *BaseService) {
		s.healthInterval = interval
	}
}

// BaseService provides common lifecycle and health functionality for
// concrete services to embed
type BaseService struct {
	name            string
	nats            *natsclient.Client
	metricsRegistry *metric.MetricsRegistry
	logger          *slog.Logger

	status  atomic.Value // Status
	healthy atomic.Bool

	healthCheckFunc HealthCheckFunc
	healthInterval  time.Duration
	healthTicker    *time.Ticker
	failedChecks    atomic.Int64

	done      chan struct{}
	waitGroup sync.WaitGroup
	mu        sync.Mutex
}

// NewBaseService creates a base service with the given options
func NewBaseService(name string, opts ...Option) *BaseService {
	s := &BaseService{
		name:           name,
		healthInterval: 30 * time.Second,
		logger:         slog.Default().With("service", name),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.status.Store(StatusStopped)
	s.recordStatus(StatusStopped)
	return s
}

// Name returns the service name
func (s *BaseService) Name() string {
	return s.name
}

// Status returns the current service status
func (s *BaseService) Status() Status {
	return s.status.Load().(Status)
}

// IsHealthy returns whether the last health check passed
func (s *BaseService) IsHealthy() bool {
	return s.healthy.Load()
}

// Health returns the standard health status for the service
func (s *BaseService) Health() health.Status {
	if !s.healthy.Load() {
		return health.NewUnhealthy(s.name,
			fmt.Sprintf("Service is unhealthy (failed checks: %d)", s.failedChecks.Load()))
	}

	switch s.Status() {
	case StatusRunning:
		return health.NewHealthy(s.name, "Service operating normally")
	case StatusStarting:
		return health.NewDegraded(s.name, "Service is starting")
	case StatusStopping:
		return health.NewDegraded(s.name, "Service is stopping")
	default:
		return health.NewUnhealthy(s.name, "Service is stopped")
	}
}

// SetHealthCheck sets a custom health check function
func (s *BaseService) SetHealthCheck(fn HealthCheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthCheckFunc = fn
}

// Start transitions the service to running and begins health monitoring
func (s *BaseService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Status()
	if current == StatusRunning || current == StatusStarting {
		return nil
	}

	s.setStatus(StatusStarting)
	s.done = make(chan struct{})

	if s.healthInterval > 0 {
		s.healthTicker = time.NewTicker(s.healthInterval)
		s.waitGroup.Add(1)
		go s.healthMonitor()
		s.performHealthCheck()
	}

	s.waitGroup.Add(1)
	go s.contextMonitor(ctx)

	s.setStatus(StatusRunning)
	return nil
}

// Stop transitions the service to stopped, waiting up to timeout for
// background goroutines
func (s *BaseService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Status()
	if current == StatusStopped || current == StatusStopping {
		return nil
	}

	s.setStatus(StatusStopping)

	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
	if s.healthTicker != nil {
		s.healthTicker.Stop()
	}

	if timeout == 0 {
		timeout = 5 * time.Second
	}

	finished := make(chan struct{})
	go func() {
		s.waitGroup.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(timeout):
	}

	s.setStatus(StatusStopped)
	s.healthy.Store(false)
	return nil
}

func (s *BaseService) setStatus(status Status) {
	s.status.Store(status)
	s.recordStatus(status)
}

func (s *BaseService) recordStatus(status Status) {
	if s.metricsRegistry != nil {
		s.metricsRegistry.CoreMetrics().RecordServiceStatus(s.name, int(status))
	}
}

func (s *BaseService) healthMonitor() {
	defer s.waitGroup.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.healthTicker.C:
			s.performHealthCheck()
		}
	}
}

func (s *BaseService) performHealthCheck() {
	var err error
	if s.healthCheckFunc != nil {
		err = s.healthCheckFunc()
	}
	if err == nil && s.nats != nil && !s.nats.IsConnected() {
		err = fmt.Errorf("nats connection lost")
	}

	if err != nil {
		s.failedChecks.Add(1)
	}
	s.healthy.Store(err == nil)
}

func (s *BaseService) contextMonitor(ctx context.Context) {
	defer s.waitGroup.Done()
	select {
	case <-ctx.Done():
		if s.healthTicker != nil {
			s.healthTicker.Stop()
		}
		s.status.Store(StatusStopped)
		s.recordStatus(StatusStopped)
		s.healthy.Store(false)
	case <-s.done:
	}
}
