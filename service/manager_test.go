package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HongGunKR/CoE-Backend/config"
	"github.com/HongGunKR/CoE-Backend/gateway"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m, err := NewManager(config.Default(), opts...)
	require.NoError(t, err)
	return m
}

func TestNewManagerRequiresConfig(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	m := newTestManager(t)
	svc := NewBaseService("dup")

	require.NoError(t, m.Register(svc, "/dup"))
	assert.Error(t, m.Register(svc, "/dup"))
	assert.Error(t, m.Register(nil, "/nil"))
}

func TestSystemEndpoints(t *testing.T) {
	m := newTestManager(t)
	svc := NewBaseService("worker")
	require.NoError(t, m.Register(svc, ""))
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	m.registerSystemEndpoints()

	rec := httptest.NewRecorder()
	m.httpMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	m.httpMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "READY", rec.Body.String())

	rec = httptest.NewRecorder()
	m.httpMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Services []map[string]any `json:"services"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)
	assert.Equal(t, "worker", listing.Services[0]["name"])

	rec = httptest.NewRecorder()
	m.httpMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessFailsWithStoppedService(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Register(NewBaseService("stopped"), ""))
	m.registerSystemEndpoints()

	rec := httptest.NewRecorder()
	m.httpMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT READY", rec.Body.String())
}

func TestOpenAPIDocumentGenerationAndCaching(t *testing.T) {
	routes := []gateway.RouteInfo{
		{EndpointName: "summarize", Path: "/run/summarize", Description: "Summarize text"},
	}
	m := newTestManager(t, WithRouteSource(func() []gateway.RouteInfo { return routes }))
	m.registerSystemEndpoints()

	getDoc := func() *OpenAPIDocument {
		rec := httptest.NewRecorder()
		m.httpMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var doc OpenAPIDocument
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		return &doc
	}

	doc := getDoc()
	assert.Equal(t, "3.0.0", doc.OpenAPI)
	require.Contains(t, doc.Paths, "/run/summarize")
	assert.Equal(t, "Summarize text", doc.Paths["/run/summarize"].POST.Summary)

	// A route change without invalidation still serves the cached doc
	routes = append(routes, gateway.RouteInfo{EndpointName: "classify", Path: "/run/classify"})
	doc = getDoc()
	assert.NotContains(t, doc.Paths, "/run/classify")

	// Invalidation regenerates on the next request
	m.InvalidateOpenAPIDocument()
	doc = getDoc()
	assert.Contains(t, doc.Paths, "/run/classify")
}

func TestOpenAPIDocumentMergesServiceFragments(t *testing.T) {
	m := newTestManager(t)
	svc := &fragmentService{BaseService: NewBaseService("frag")}
	require.NoError(t, m.Register(svc, "/frag"))
	m.registerSystemEndpoints()

	rec := httptest.NewRecorder()
	m.httpMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	var doc OpenAPIDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	assert.Contains(t, doc.Paths, "/frag/items")
}

// fragmentService is a minimal HTTPHandler used in manager tests
type fragmentService struct {
	*BaseService
}

func (f *fragmentService) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("GET "+prefix+"/items", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (f *fragmentService) OpenAPISpec() *OpenAPISpec {
	spec := NewOpenAPISpec()
	spec.AddPath("/items", PathSpec{
		GET: &OperationSpec{
			Summary:   "List items",
			Responses: map[string]ResponseSpec{"200": {Description: "Items"}},
		},
	})
	return spec
}

func TestStartAllStopAll(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 18231
	m, err := NewManager(cfg)
	require.NoError(t, err)

	svc := NewBaseService("worker")
	require.NoError(t, m.Register(svc, ""))

	require.NoError(t, m.StartAll(context.Background()))
	assert.Equal(t, StatusRunning, svc.Status())

	require.NoError(t, m.StopAll(time.Second))
	assert.Equal(t, StatusStopped, svc.Status())
}
