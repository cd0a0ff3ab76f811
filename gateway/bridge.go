package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/HongGunKR/CoE-Backend/engine"
	"github.com/HongGunKR/CoE-Backend/flowstore"
	"github.com/HongGunKR/CoE-Backend/metric"
)

// Bridge translates /run/ HTTP requests into flow engine executions.
// Every execution outcome, including engine faults, is returned with
// HTTP 200 and the envelope's success flag; only requests the bridge
// cannot parse get a 400.
type Bridge struct {
	engine  engine.Engine
	logger  *slog.Logger
	metrics *metric.Metrics
	timeout time.Duration
}

// BridgeOption configures a Bridge
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the execution log destination
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBridgeMetrics sets the metric sink for execution outcomes
func WithBridgeMetrics(m *metric.Metrics) BridgeOption {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithBridgeTimeout bounds a single flow execution
func WithBridgeTimeout(timeout time.Duration) BridgeOption {
	return func(b *Bridge) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// NewBridge creates an execution bridge over the given engine
func NewBridge(eng engine.Engine, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		engine:  eng,
		logger:  slog.Default(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run executes the flow for one HTTP request and writes the envelope
func (b *Bridge) Run(w http.ResponseWriter, r *http.Request, flow *flowstore.FlowDefinition) {
	inputs, err := parseInputs(r)
	if err != nil {
		b.record(flow.EndpointName, "rejected")
		writeJSON(w, http.StatusBadRequest, RunResponse{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), b.timeout)
	defer cancel()

	result, err := b.engine.Execute(ctx, flow.Body, inputs)
	if err != nil {
		// Execute reserves its error return for unmarshalable inputs and
		// similar programming mistakes; treat it as a rejected request
		b.record(flow.EndpointName, "rejected")
		writeJSON(w, http.StatusBadRequest, RunResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	b.record(flow.EndpointName, outcome)

	b.logger.Info("flow run",
		"endpoint", flow.EndpointName,
		"session_id", result.SessionID,
		"success", result.Success,
		"execution_time", result.ExecutionTime)

	writeJSON(w, http.StatusOK, RunResponse{
		Success:       result.Success,
		Result:        result.Outputs,
		Error:         result.Error,
		SessionID:     result.SessionID,
		ExecutionTime: result.ExecutionTime,
	})
}

func (b *Bridge) record(endpoint, outcome string) {
	if b.metrics != nil {
		b.metrics.FlowExecutions.WithLabelValues(endpoint, outcome).Inc()
	}
}

// parseInputs reads the optional JSON body of a /run/ request. An empty
// body means no inputs; otherwise the body must be a JSON object, taken
// either whole or from its "inputs" field when one is present.
func parseInputs(r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var req RunRequest
	if err := json.Unmarshal(data, &req); err == nil && req.Inputs != nil {
		return req.Inputs, nil
	}

	var inputs map[string]any
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}
