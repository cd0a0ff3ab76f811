package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HongGunKR/CoE-Backend/config"
	"github.com/HongGunKR/CoE-Backend/errors"
	"github.com/HongGunKR/CoE-Backend/gateway"
	"github.com/HongGunKR/CoE-Backend/health"
	"github.com/HongGunKR/CoE-Backend/metric"
	"github.com/HongGunKR/CoE-Backend/natsclient"
	"github.com/HongGunKR/CoE-Backend/pkg/cache"
)

// openAPICacheKey is the single entry held in the document cache
const openAPICacheKey = "openapi.json"

// Manager owns the shared HTTP server and the lifecycle of all
// registered services. Services that implement HTTPHandler get their
// endpoints mounted under a per-service prefix; the combined OpenAPI
// document is generated from their fragments plus the dynamic routes
// and cached until the route table changes.
type Manager struct {
	*BaseService

	cfg             *config.Config
	managerLogger   *slog.Logger
	natsClient      *natsclient.Client
	metricsRegistry *metric.MetricsRegistry
	middleware      func(http.Handler) http.Handler
	routeSource     func() []gateway.RouteInfo

	httpMux    *http.ServeMux
	httpServer *http.Server
	docCache   *cache.Store[[]byte]

	mu       sync.RWMutex
	services map[string]Service
	prefixes map[string]string
	order    []string
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.managerLogger = logger
		}
	}
}

// WithManagerNATS sets the NATS client whose connection state feeds the
// system health endpoint
func WithManagerNATS(client *natsclient.Client) ManagerOption {
	return func(m *Manager) {
		m.natsClient = client
	}
}

// WithManagerMetrics sets the registry served at /metrics
func WithManagerMetrics(registry *metric.MetricsRegistry) ManagerOption {
	return func(m *Manager) {
		m.metricsRegistry = registry
	}
}

// WithMiddleware wraps the whole HTTP surface, including system
// endpoints, with the given middleware
func WithMiddleware(fn func(http.Handler) http.Handler) ManagerOption {
	return func(m *Manager) {
		m.middleware = fn
	}
}

// WithRouteSource supplies the dynamic routes included in the OpenAPI
// document
func WithRouteSource(fn func() []gateway.RouteInfo) ManagerOption {
	return func(m *Manager) {
		m.routeSource = fn
	}
}

// NewManager creates a service manager for the given configuration
func NewManager(cfg *config.Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(nil, "service", "NewManager", "config cannot be nil")
	}

	m := &Manager{
		cfg:      cfg,
		httpMux:  http.NewServeMux(),
		docCache: cache.New[[]byte](),
		services: make(map[string]Service),
		prefixes: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}

	baseOpts := []Option{WithHealthInterval(0)}
	if m.managerLogger != nil {
		baseOpts = append(baseOpts, WithLogger(m.managerLogger))
	}
	if m.metricsRegistry != nil {
		baseOpts = append(baseOpts, WithMetrics(m.metricsRegistry))
	}
	m.BaseService = NewBaseService("service-manager", baseOpts...)
	return m, nil
}

// SetRouteSource supplies the dynamic routes after construction, for
// wiring orders where the registry needs the manager's mux first
func (m *Manager) SetRouteSource(fn func() []gateway.RouteInfo) {
	m.routeSource = fn
}

// Mux returns the shared mux so callers can attach handlers, such as
// the dynamic route registry, before StartAll
func (m *Manager) Mux() *http.ServeMux {
	return m.httpMux
}

// Register adds a service to the managed set. Services start in
// registration order and stop in reverse. The prefix mounts the
// service's HTTP handlers; empty means the service has no HTTP surface.
func (m *Manager) Register(svc Service, prefix string) error {
	if svc == nil {
		return errors.WrapInvalid(nil, "service", "Register", "service cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := svc.Name()
	if _, exists := m.services[name]; exists {
		return errors.WrapInvalid(nil, "service", "Register",
			"service "+name+" already registered")
	}

	m.services[name] = svc
	m.prefixes[name] = strings.TrimSuffix(prefix, "/")
	m.order = append(m.order, name)
	return nil
}

// StartAll starts every registered service and then the HTTP server
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	started := m.httpServer != nil
	m.mu.RUnlock()
	if started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "service", "StartAll",
			"manager already running")
	}

	if err := m.BaseService.Start(ctx); err != nil {
		return err
	}

	m.registerSystemEndpoints()

	m.mu.RLock()
	order := make([]string, len(m.order))
	copy(order, m.order)
	m.mu.RUnlock()

	for _, name := range order {
		m.mu.RLock()
		svc := m.services[name]
		prefix := m.prefixes[name]
		m.mu.RUnlock()

		if err := svc.Start(ctx); err != nil {
			return errors.Wrap(err, "service", "StartAll", "start "+name)
		}
		if handler, ok := svc.(HTTPHandler); ok && prefix != "" {
			handler.RegisterHTTPHandlers(prefix, m.httpMux)
		}
		m.logger.Info("service started", "service", name)
	}

	return m.startHTTPServer()
}

// StopAll stops the HTTP server and every service in reverse order
func (m *Manager) StopAll(timeout time.Duration) error {
	var errs []error

	if err := m.stopHTTPServer(); err != nil {
		errs = append(errs, err)
	}

	m.mu.RLock()
	order := make([]string, len(m.order))
	copy(order, m.order)
	m.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		m.mu.RLock()
		svc := m.services[name]
		m.mu.RUnlock()

		if err := svc.Stop(timeout); err != nil {
			m.logger.Error("service stop failed", "service", name, "error", err)
			errs = append(errs, err)
		} else {
			m.logger.Info("service stopped", "service", name)
		}
	}

	if err := m.BaseService.Stop(timeout); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Wrap(errs[0], "service", "StopAll",
			fmt.Sprintf("%d services failed to stop", len(errs)))
	}
	return nil
}

// InvalidateOpenAPIDocument drops the cached document so the next
// /openapi.json request regenerates it. Wired as the route registry's
// change hook.
func (m *Manager) InvalidateOpenAPIDocument() {
	m.docCache.Delete(openAPICacheKey)
}

func (m *Manager) startHTTPServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpServer != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "service", "startHTTPServer",
			"HTTP server already running")
	}

	var handler http.Handler = m.httpMux
	if m.middleware != nil {
		handler = m.middleware(handler)
	}

	m.httpServer = &http.Server{
		Addr:         ":" + strconv.Itoa(m.cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	server := m.httpServer
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("HTTP server error", "error", err)
		}
	}()

	m.logger.Info("HTTP server started", "port", m.cfg.Server.Port)
	return nil
}

func (m *Manager) stopHTTPServer() error {
	m.mu.Lock()
	server := m.httpServer
	m.httpServer = nil
	m.mu.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "service", "stopHTTPServer", "graceful shutdown")
	}
	return nil
}

// registerSystemEndpoints mounts health, discovery, metrics, and API
// documentation endpoints
func (m *Manager) registerSystemEndpoints() {
	m.httpMux.HandleFunc("GET /health", m.handleSystemHealth)
	m.httpMux.HandleFunc("GET /healthz", m.handleLiveness)
	m.httpMux.HandleFunc("GET /readyz", m.handleReadiness)
	m.httpMux.HandleFunc("GET /services", m.handleServiceList)
	m.httpMux.HandleFunc("GET /openapi.json", m.handleOpenAPIDocument)

	if m.metricsRegistry != nil {
		m.httpMux.Handle("GET /metrics", m.metricsRegistry.Handler())
	}
	if m.cfg.Server.SwaggerUI {
		m.httpMux.HandleFunc("GET /docs", m.handleSwaggerUI)
	}
}

func (m *Manager) handleSystemHealth(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	subStatuses := make([]health.Status, 0, len(m.services)+1)
	for _, svc := range m.services {
		subStatuses = append(subStatuses, svc.Health())
	}
	m.mu.RUnlock()

	if m.natsClient != nil {
		if m.natsClient.IsConnected() {
			subStatuses = append(subStatuses, health.NewHealthy("nats", "Connected"))
		} else {
			subStatuses = append(subStatuses, health.NewUnhealthy("nats", "Disconnected"))
		}
	}

	systemHealth := health.Aggregate("system", subStatuses)

	w.Header().Set("Content-Type", "application/json")
	if systemHealth.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(systemHealth); err != nil {
		m.logger.Error("encode system health failed", "error", err)
	}
}

func (m *Manager) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (m *Manager) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	ready := true
	for _, svc := range m.services {
		if svc.Status() != StatusRunning || !svc.IsHealthy() {
			ready = false
			break
		}
	}
	m.mu.RUnlock()

	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT READY"))
	}
}

func (m *Manager) handleServiceList(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	services := make([]map[string]any, 0, len(m.services))
	for _, name := range m.order {
		svc := m.services[name]
		services = append(services, map[string]any{
			"name":    name,
			"status":  svc.Status().String(),
			"healthy": svc.IsHealthy(),
		})
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"services": services,
		"count":    len(services),
	}); err != nil {
		m.logger.Error("encode service list failed", "error", err)
	}
}

func (m *Manager) handleOpenAPIDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if doc, ok := m.docCache.Get(openAPICacheKey); ok {
		_, _ = w.Write(doc)
		return
	}

	data, err := json.Marshal(m.generateOpenAPIDocument())
	if err != nil {
		http.Error(w, "failed to encode OpenAPI document", http.StatusInternalServerError)
		return
	}
	m.docCache.Set(openAPICacheKey, data)
	_, _ = w.Write(data)
}

// generateOpenAPIDocument merges the service fragments and the dynamic
// route table into one document
func (m *Manager) generateOpenAPIDocument() *OpenAPIDocument {
	doc := &OpenAPIDocument{
		OpenAPI: "3.0.0",
		Info: InfoSpec{
			Title:       m.cfg.Server.Title,
			Description: m.cfg.Server.Description,
			Version:     m.cfg.Server.APIVersion,
		},
		Servers: []ServerSpec{
			{
				URL:         fmt.Sprintf("http://localhost:%d", m.cfg.Server.Port),
				Description: "Development server",
			},
		},
		Paths: make(map[string]PathSpec),
		Tags:  make([]TagSpec, 0),
	}

	m.mu.RLock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		m.mu.RLock()
		svc := m.services[name]
		prefix := m.prefixes[name]
		m.mu.RUnlock()

		handler, ok := svc.(HTTPHandler)
		if !ok || prefix == "" {
			continue
		}
		fragment := handler.OpenAPISpec()
		if fragment == nil {
			continue
		}
		for path, pathSpec := range fragment.Paths {
			doc.Paths[prefix+path] = pathSpec
		}
		doc.Tags = append(doc.Tags, fragment.Tags...)
	}

	if m.routeSource != nil {
		for _, route := range m.routeSource() {
			summary := route.Description
			if summary == "" {
				summary = "Execute flow " + route.EndpointName
			}
			doc.Paths[route.Path] = PathSpec{
				POST: &OperationSpec{
					Summary: summary,
					Tags:    []string{"Run"},
					Responses: map[string]ResponseSpec{
						"200": {
							Description: "Execution envelope",
							ContentType: "application/json",
						},
						"400": {Description: "Malformed request body"},
					},
				},
			}
		}
	}

	return doc
}

func (m *Manager) handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>` + m.cfg.Server.Title + ` Documentation</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@3.52.5/swagger-ui.css" />
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@3.52.5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: '/openapi.json',
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.presets.standalone],
        });
    </script>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(html))
}
