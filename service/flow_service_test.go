package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HongGunKR/CoE-Backend/engine"
	"github.com/HongGunKR/CoE-Backend/errors"
	"github.com/HongGunKR/CoE-Backend/flowstore"
	"github.com/HongGunKR/CoE-Backend/gateway"
)

// memoryFlowStore is an in-memory FlowStore for tests
type memoryFlowStore struct {
	mu    sync.Mutex
	flows map[string]*flowstore.FlowDefinition
}

func newMemoryFlowStore() *memoryFlowStore {
	return &memoryFlowStore{flows: make(map[string]*flowstore.FlowDefinition)}
}

func (m *memoryFlowStore) Create(_ context.Context, flow *flowstore.FlowDefinition) error {
	if err := flow.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.flows[flow.EndpointName]; exists {
		return errors.WrapInvalid(errors.ErrFlowExists, "flowstore", "Create", "exists")
	}
	flow.Version = 1
	flow.UpdatedAt = time.Now()
	m.flows[flow.EndpointName] = flow
	return nil
}

func (m *memoryFlowStore) Get(_ context.Context, name string) (*flowstore.FlowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flow, ok := m.flows[name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrFlowNotFound, "flowstore", "Get", "not found")
	}
	return flow, nil
}

func (m *memoryFlowStore) List(_ context.Context) ([]*flowstore.FlowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.flows))
	for name := range m.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	flows := make([]*flowstore.FlowDefinition, 0, len(names))
	for _, name := range names {
		flows = append(flows, m.flows[name])
	}
	return flows, nil
}

func (m *memoryFlowStore) Update(_ context.Context, flow *flowstore.FlowDefinition) error {
	if err := flow.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.flows[flow.EndpointName]
	if !ok {
		return errors.WrapInvalid(errors.ErrFlowNotFound, "flowstore", "Update", "not found")
	}
	flow.Version = current.Version + 1
	flow.UpdatedAt = time.Now()
	m.flows[flow.EndpointName] = flow
	return nil
}

func (m *memoryFlowStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flows[name]; !ok {
		return errors.WrapInvalid(errors.ErrFlowNotFound, "flowstore", "Delete", "not found")
	}
	delete(m.flows, name)
	return nil
}

// okEngine always reports a successful execution
type okEngine struct{}

func (okEngine) Execute(context.Context, json.RawMessage, map[string]any) (*engine.ExecutionResult, error) {
	return &engine.ExecutionResult{Success: true, SessionID: "test"}, nil
}

func flowBody() json.RawMessage {
	return json.RawMessage(`{"nodes":[{"id":"n1","type":"llm"}]}`)
}

func newFlowServiceFixture(t *testing.T) (*FlowService, *memoryFlowStore, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	registry, err := gateway.NewRegistry(mux, gateway.NewBridge(okEngine{}))
	require.NoError(t, err)

	store := newMemoryFlowStore()
	fs, err := NewFlowService(store, registry)
	require.NoError(t, err)
	fs.RegisterHTTPHandlers("/flows", mux)
	return fs, store, mux
}

func TestFlowServiceCreateServesRoute(t *testing.T) {
	_, _, mux := newFlowServiceFixture(t)

	body := `{"endpoint_name":"summarize","description":"Summarize","body":{"nodes":[{"id":"n1","type":"llm"}]}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flows", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	// The dynamic route is live immediately
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run/summarize", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope gateway.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
}

func TestFlowServiceCreateConflict(t *testing.T) {
	_, store, mux := newFlowServiceFixture(t)
	require.NoError(t, store.Create(context.Background(), &flowstore.FlowDefinition{
		EndpointName: "taken", Body: flowBody(),
	}))

	body := `{"endpoint_name":"taken","body":{"nodes":[]}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flows", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFlowServiceCreateInvalid(t *testing.T) {
	_, _, mux := newFlowServiceFixture(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flows",
		strings.NewReader(`{"endpoint_name":"Bad Name","body":{}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flows", strings.NewReader("{broken")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlowServiceGetAndList(t *testing.T) {
	_, store, mux := newFlowServiceFixture(t)
	require.NoError(t, store.Create(context.Background(), &flowstore.FlowDefinition{
		EndpointName: "alpha", Body: flowBody(),
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flows/alpha", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var flow flowstore.FlowDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flow))
	assert.Equal(t, "alpha", flow.EndpointName)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flows", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Flows []flowSummary `json:"flows"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)
	assert.Equal(t, "/run/alpha", listing.Flows[0].Path)
	assert.False(t, listing.Flows[0].Active, "stored but never registered")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flows/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlowServiceDeleteDeactivatesRoute(t *testing.T) {
	_, _, mux := newFlowServiceFixture(t)

	body := `{"endpoint_name":"doomed","body":{"nodes":[]}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flows", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/flows/doomed", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Route pattern remains bound but answers 404
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run/doomed", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/flows/doomed", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlowServiceStartReplaysStoredFlows(t *testing.T) {
	fs, store, mux := newFlowServiceFixture(t)
	for _, name := range []string{"one", "two"} {
		require.NoError(t, store.Create(context.Background(), &flowstore.FlowDefinition{
			EndpointName: name, Body: flowBody(),
		}))
	}

	require.NoError(t, fs.Start(context.Background()))
	defer func() { _ = fs.Stop(time.Second) }()

	for _, name := range []string{"one", "two"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run/"+name, strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusOK, rec.Code, "stored flow %s must be live after start", name)
	}
}

func TestFlowServiceUpdateRebindsRoute(t *testing.T) {
	_, store, mux := newFlowServiceFixture(t)

	create := `{"endpoint_name":"mut","body":{"nodes":[]}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flows", strings.NewReader(create)))
	require.Equal(t, http.StatusCreated, rec.Code)

	update := `{"description":"updated","body":{"nodes":[{"id":"n1","type":"llm"}]},"version":1}`
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/flows/mut", strings.NewReader(update)))
	require.Equal(t, http.StatusOK, rec.Code)

	flow, err := store.Get(context.Background(), "mut")
	require.NoError(t, err)
	assert.Equal(t, "updated", flow.Description)
	assert.Equal(t, int64(2), flow.Version)
}
