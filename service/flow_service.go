package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/HongGunKR/CoE-Backend/errors"
	"github.com/HongGunKR/CoE-Backend/flowstore"
	"github.com/HongGunKR/CoE-Backend/gateway"
)

// FlowStore is the persistence surface the flow service needs
type FlowStore interface {
	Create(ctx context.Context, flow *flowstore.FlowDefinition) error
	Get(ctx context.Context, endpointName string) (*flowstore.FlowDefinition, error)
	List(ctx context.Context) ([]*flowstore.FlowDefinition, error)
	Update(ctx context.Context, flow *flowstore.FlowDefinition) error
	Delete(ctx context.Context, endpointName string) error
}

var _ FlowStore = (*flowstore.Store)(nil)

// FlowService provides the flow administration API: CRUD over stored
// flow definitions, kept in lockstep with the dynamic route registry.
// On start it replays every stored flow into the registry so persisted
// endpoints come back after a restart.
type FlowService struct {
	*BaseService

	store    FlowStore
	registry *gateway.Registry
}

// NewFlowService creates the flow administration service
func NewFlowService(store FlowStore, registry *gateway.Registry, opts ...Option) (*FlowService, error) {
	if store == nil {
		return nil, errors.WrapInvalid(nil, "service", "NewFlowService", "store cannot be nil")
	}
	if registry == nil {
		return nil, errors.WrapInvalid(nil, "service", "NewFlowService", "registry cannot be nil")
	}

	return &FlowService{
		BaseService: NewBaseService("flow-service", opts...),
		store:       store,
		registry:    registry,
	}, nil
}

// Start starts the service and registers every stored flow as a route
func (fs *FlowService) Start(ctx context.Context) error {
	if err := fs.BaseService.Start(ctx); err != nil {
		return err
	}

	flows, err := fs.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "service", "Start", "load stored flows")
	}

	registered := 0
	for _, flow := range flows {
		if err := fs.registry.AddRoute(flow); err != nil {
			// A flow that fails validation stays stored but unserved
			fs.logger.Warn("skipping unregistrable flow",
				"endpoint", flow.EndpointName,
				"error", err)
			continue
		}
		registered++
	}

	fs.logger.Info("flow routes synchronized",
		"stored", len(flows),
		"registered", registered)
	return nil
}

// Stop stops the flow service
func (fs *FlowService) Stop(timeout time.Duration) error {
	return fs.BaseService.Stop(timeout)
}

// RegisterHTTPHandlers mounts the admin endpoints under prefix
func (fs *FlowService) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("GET "+prefix, fs.handleList)
	mux.HandleFunc("POST "+prefix, fs.handleCreate)
	mux.HandleFunc("GET "+prefix+"/{endpoint}", fs.handleGet)
	mux.HandleFunc("PUT "+prefix+"/{endpoint}", fs.handleUpdate)
	mux.HandleFunc("DELETE "+prefix+"/{endpoint}", fs.handleDelete)

	fs.logger.Info("flow admin handlers registered", "prefix", prefix)
}

// flowSummary is the list representation of a stored flow
type flowSummary struct {
	EndpointName string    `json:"endpoint_name"`
	Description  string    `json:"description,omitempty"`
	Path         string    `json:"path"`
	Active       bool      `json:"active"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (fs *FlowService) handleList(w http.ResponseWriter, r *http.Request) {
	flows, err := fs.store.List(r.Context())
	if err != nil {
		fs.writeStoreError(w, err)
		return
	}

	summaries := make([]flowSummary, 0, len(flows))
	for _, flow := range flows {
		summaries = append(summaries, flowSummary{
			EndpointName: flow.EndpointName,
			Description:  flow.Description,
			Path:         gateway.RunPathPrefix + flow.EndpointName,
			Active:       fs.registry.Has(flow.EndpointName),
			Version:      flow.Version,
			UpdatedAt:    flow.UpdatedAt,
		})
	}

	fs.writeJSON(w, http.StatusOK, map[string]any{
		"flows": summaries,
		"count": len(summaries),
	})
}

func (fs *FlowService) handleCreate(w http.ResponseWriter, r *http.Request) {
	var flow flowstore.FlowDefinition
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		fs.writeErrorBody(w, http.StatusBadRequest, "invalid flow definition: "+err.Error())
		return
	}

	if err := fs.store.Create(r.Context(), &flow); err != nil {
		fs.writeStoreError(w, err)
		return
	}

	if err := fs.registry.AddRoute(&flow); err != nil {
		// Stored but not live; surfaced so the caller can retry
		fs.logger.Error("route registration failed after create",
			"endpoint", flow.EndpointName, "error", err)
		fs.writeErrorBody(w, http.StatusInternalServerError,
			"flow stored but route registration failed")
		return
	}

	fs.writeJSON(w, http.StatusCreated, &flow)
}

func (fs *FlowService) handleGet(w http.ResponseWriter, r *http.Request) {
	flow, err := fs.store.Get(r.Context(), r.PathValue("endpoint"))
	if err != nil {
		fs.writeStoreError(w, err)
		return
	}
	fs.writeJSON(w, http.StatusOK, flow)
}

func (fs *FlowService) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var flow flowstore.FlowDefinition
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		fs.writeErrorBody(w, http.StatusBadRequest, "invalid flow definition: "+err.Error())
		return
	}
	flow.EndpointName = r.PathValue("endpoint")

	if err := fs.store.Update(r.Context(), &flow); err != nil {
		fs.writeStoreError(w, err)
		return
	}

	// Rebind so the live route serves the new body
	if err := fs.registry.UpdateRoute(&flow); err != nil {
		fs.logger.Error("route rebind failed after update",
			"endpoint", flow.EndpointName, "error", err)
	}

	fs.writeJSON(w, http.StatusOK, &flow)
}

func (fs *FlowService) handleDelete(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	if err := fs.store.Delete(r.Context(), endpoint); err != nil {
		fs.writeStoreError(w, err)
		return
	}
	if err := fs.registry.RemoveRoute(endpoint); err != nil {
		fs.logger.Error("route deactivation failed after delete",
			"endpoint", endpoint, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (fs *FlowService) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fs.logger.Error("encode response failed", "error", err)
	}
}

func (fs *FlowService) writeErrorBody(w http.ResponseWriter, status int, message string) {
	fs.writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps store errors onto HTTP status codes
func (fs *FlowService) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrFlowNotFound):
		fs.writeErrorBody(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errors.ErrFlowExists):
		fs.writeErrorBody(w, http.StatusConflict, err.Error())
	case errors.IsInvalid(err):
		fs.writeErrorBody(w, http.StatusBadRequest, err.Error())
	default:
		fs.logger.Error("flow store error", "error", err)
		fs.writeErrorBody(w, http.StatusServiceUnavailable, "flow store unavailable")
	}
}

// OpenAPISpec returns the fragment for the admin endpoints
func (fs *FlowService) OpenAPISpec() *OpenAPISpec {
	spec := NewOpenAPISpec()
	spec.AddTag("Flows", "Flow definition administration")

	spec.AddPath("", PathSpec{
		GET: &OperationSpec{
			Summary: "List flows",
			Tags:    []string{"Flows"},
			Responses: map[string]ResponseSpec{
				"200": {Description: "Stored flows", ContentType: "application/json"},
			},
		},
		POST: &OperationSpec{
			Summary: "Create a flow",
			Tags:    []string{"Flows"},
			Responses: map[string]ResponseSpec{
				"201": {Description: "Flow created", ContentType: "application/json"},
				"400": {Description: "Invalid flow definition"},
				"409": {Description: "Endpoint name already taken"},
			},
		},
	})

	endpointParam := ParameterSpec{
		Name:        "endpoint",
		In:          "path",
		Required:    true,
		Description: "Flow endpoint name",
		Schema:      Schema{Type: "string"},
	}
	spec.AddPath("/{endpoint}", PathSpec{
		GET: &OperationSpec{
			Summary:    "Get a flow",
			Tags:       []string{"Flows"},
			Parameters: []ParameterSpec{endpointParam},
			Responses: map[string]ResponseSpec{
				"200": {Description: "Flow definition", ContentType: "application/json"},
				"404": {Description: "Flow not found"},
			},
		},
		PUT: &OperationSpec{
			Summary:    "Update a flow",
			Tags:       []string{"Flows"},
			Parameters: []ParameterSpec{endpointParam},
			Responses: map[string]ResponseSpec{
				"200": {Description: "Flow updated", ContentType: "application/json"},
				"400": {Description: "Invalid flow definition"},
				"404": {Description: "Flow not found"},
			},
		},
		DELETE: &OperationSpec{
			Summary:    "Delete a flow",
			Tags:       []string{"Flows"},
			Parameters: []ParameterSpec{endpointParam},
			Responses: map[string]ResponseSpec{
				"204": {Description: "Flow deleted"},
				"404": {Description: "Flow not found"},
			},
		},
	})

	return spec
}
