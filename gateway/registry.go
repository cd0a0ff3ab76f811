package gateway

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/HongGunKR/CoE-Backend/errors"
	"github.com/HongGunKR/CoE-Backend/flowstore"
	"github.com/HongGunKR/CoE-Backend/metric"
)

// RunPathPrefix is where dynamic flow endpoints are mounted
const RunPathPrefix = "/run/"

// RouteInfo describes one active dynamic route for schema generation
// and admin listings
type RouteInfo struct {
	EndpointName string `json:"endpoint_name"`
	Path         string `json:"path"`
	Description  string `json:"description,omitempty"`
}

// binding is the mux attachment for one endpoint name. http.ServeMux
// cannot unregister a pattern, so a binding is created once per name
// and only its flow pointer changes afterwards; a nil flow means the
// route was deactivated and the handler answers 404.
type binding struct {
	mu   sync.RWMutex
	flow *flowstore.FlowDefinition
}

func (b *binding) get() *flowstore.FlowDefinition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.flow
}

func (b *binding) set(flow *flowstore.FlowDefinition) {
	b.mu.Lock()
	b.flow = flow
	b.mu.Unlock()
}

// Registry maintains the set of live /run/ endpoints on a shared mux
type Registry struct {
	mux     *http.ServeMux
	bridge  *Bridge
	logger  *slog.Logger
	metrics *metric.Metrics

	// onChange fires after every registry mutation so the cached API
	// schema can be invalidated
	onChange func()

	mu       sync.Mutex
	routes   map[string]*flowstore.FlowDefinition
	attached map[string]*binding
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for route lifecycle events
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryMetrics sets the metric sink for the active route gauge
func WithRegistryMetrics(m *metric.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithChangeHook sets the callback fired after each mutation
func WithChangeHook(fn func()) RegistryOption {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry creates a route registry bound to the given mux and bridge
func NewRegistry(mux *http.ServeMux, bridge *Bridge, opts ...RegistryOption) (*Registry, error) {
	if mux == nil {
		return nil, errors.WrapInvalid(nil, "gateway", "NewRegistry", "mux cannot be nil")
	}
	if bridge == nil {
		return nil, errors.WrapInvalid(nil, "gateway", "NewRegistry", "bridge cannot be nil")
	}

	r := &Registry{
		mux:      mux,
		bridge:   bridge,
		logger:   slog.Default(),
		routes:   make(map[string]*flowstore.FlowDefinition),
		attached: make(map[string]*binding),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// AddRoute makes the flow callable at POST /run/{endpoint_name}.
// Adding a name that is already active is a logged no-op keeping the
// existing definition; a previously removed name is rebound.
func (r *Registry) AddRoute(flow *flowstore.FlowDefinition) error {
	if flow == nil {
		return errors.WrapInvalid(nil, "gateway", "AddRoute", "flow cannot be nil")
	}
	if err := flow.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, active := r.routes[flow.EndpointName]; active {
		r.mu.Unlock()
		r.logger.Info("route already exists, skipping",
			"endpoint", flow.EndpointName,
			"path", RunPathPrefix+flow.EndpointName)
		return nil
	}
	r.bind(flow)
	active := len(r.routes)
	r.mu.Unlock()

	r.updateGauge(active)
	r.notify()
	r.logger.Info("route registered",
		"endpoint", flow.EndpointName,
		"path", RunPathPrefix+flow.EndpointName)
	return nil
}

// UpdateRoute replaces the definition served at the endpoint's path,
// registering it if it is not currently active.
func (r *Registry) UpdateRoute(flow *flowstore.FlowDefinition) error {
	if flow == nil {
		return errors.WrapInvalid(nil, "gateway", "UpdateRoute", "flow cannot be nil")
	}
	if err := flow.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.bind(flow)
	active := len(r.routes)
	r.mu.Unlock()

	r.updateGauge(active)
	r.notify()
	r.logger.Info("route updated",
		"endpoint", flow.EndpointName,
		"path", RunPathPrefix+flow.EndpointName)
	return nil
}

// bind upserts the flow into the route table and mux attachment.
// Caller holds r.mu.
func (r *Registry) bind(flow *flowstore.FlowDefinition) {
	b, attached := r.attached[flow.EndpointName]
	if !attached {
		b = &binding{}
		r.attached[flow.EndpointName] = b
		r.mux.Handle("POST "+RunPathPrefix+flow.EndpointName, r.runHandler(b))
	}
	b.set(flow)
	r.routes[flow.EndpointName] = flow
}

// RemoveRoute deactivates the endpoint. The mux pattern stays in place
// because patterns cannot be unregistered; the path keeps answering,
// with 404, until the process restarts or the name is re-added.
// Removing an unknown name logs a warning and is otherwise a no-op.
func (r *Registry) RemoveRoute(endpointName string) error {
	if endpointName == "" {
		return errors.WrapInvalid(nil, "gateway", "RemoveRoute", "endpoint name cannot be empty")
	}

	r.mu.Lock()
	_, existed := r.routes[endpointName]
	if existed {
		delete(r.routes, endpointName)
		r.attached[endpointName].set(nil)
	}
	active := len(r.routes)
	r.mu.Unlock()

	if !existed {
		r.logger.Warn("route not found for removal", "endpoint", endpointName)
		return nil
	}

	r.updateGauge(active)
	r.notify()
	r.logger.Info("route deactivated", "endpoint", endpointName)
	return nil
}

// Routes returns the active routes sorted by endpoint name
func (r *Registry) Routes() []RouteInfo {
	r.mu.Lock()
	infos := make([]RouteInfo, 0, len(r.routes))
	for name, flow := range r.routes {
		infos = append(infos, RouteInfo{
			EndpointName: name,
			Path:         RunPathPrefix + name,
			Description:  flow.Description,
		})
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].EndpointName < infos[j].EndpointName
	})
	return infos
}

// Has reports whether the endpoint name is actively registered
func (r *Registry) Has(endpointName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.routes[endpointName]
	return ok
}

// runHandler serves one dynamic endpoint through its binding
func (r *Registry) runHandler(b *binding) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		flow := b.get()
		if flow == nil {
			writeError(w, http.StatusNotFound, "endpoint is not registered")
			return
		}
		r.bridge.Run(w, req, flow)
	})
}

func (r *Registry) updateGauge(active int) {
	if r.metrics != nil {
		r.metrics.ActiveRoutes.Set(float64(active))
	}
}

func (r *Registry) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}
