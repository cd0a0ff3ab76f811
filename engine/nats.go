package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/HongGunKR/CoE-Backend/errors"
	"github.com/HongGunKR/CoE-Backend/natsclient"
	"github.com/HongGunKR/CoE-Backend/pkg/retry"
)

// Requester is the slice of the NATS client the engine needs
type Requester interface {
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)
}

var _ Requester = (*natsclient.Client)(nil)

// NATSEngine executes flows by request/reply over a NATS subject the
// external flow engine subscribes to.
type NATSEngine struct {
	requester Requester
	subject   string
	timeout   time.Duration
	logger    *slog.Logger
}

// NATSEngineOption configures a NATSEngine
type NATSEngineOption func(*NATSEngine)

// WithLogger sets the logger for execution events
func WithLogger(logger *slog.Logger) NATSEngineOption {
	return func(e *NATSEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTimeout bounds a single execution round trip
func WithTimeout(timeout time.Duration) NATSEngineOption {
	return func(e *NATSEngine) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// NewNATSEngine creates an engine bridge publishing to the given subject
func NewNATSEngine(requester Requester, subject string, opts ...NATSEngineOption) (*NATSEngine, error) {
	if requester == nil {
		return nil, errors.WrapInvalid(nil, "engine", "NewNATSEngine", "requester cannot be nil")
	}
	if subject == "" {
		subject = "flows.execute"
	}

	e := &NATSEngine{
		requester: requester,
		subject:   subject,
		timeout:   30 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// executeRequest is the wire format sent to the flow engine
type executeRequest struct {
	SessionID string          `json:"session_id"`
	Flow      json.RawMessage `json:"flow"`
	Inputs    map[string]any  `json:"inputs,omitempty"`
}

// executeReply is the wire format the flow engine answers with
type executeReply struct {
	Success   bool            `json:"success"`
	Outputs   json.RawMessage `json:"outputs,omitempty"`
	Error     string          `json:"error,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// Execute sends the flow to the engine and normalizes the reply. Engine
// faults (timeouts, connection loss, malformed replies) come back as a
// failed ExecutionResult, not a Go error; the error return is reserved
// for programming mistakes such as unmarshalable inputs.
func (e *NATSEngine) Execute(ctx context.Context, flowBody json.RawMessage, inputs map[string]any) (*ExecutionResult, error) {
	start := time.Now()
	sessionID := uuid.NewString()

	payload, err := json.Marshal(executeRequest{
		SessionID: sessionID,
		Flow:      flowBody,
		Inputs:    inputs,
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "engine", "Execute", "marshal request")
	}

	replyData, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() ([]byte, error) {
		data, reqErr := e.requester.Request(ctx, e.subject, payload, e.timeout)
		if reqErr != nil && !errors.IsTransient(reqErr) {
			return nil, retry.NonRetryable(reqErr)
		}
		return data, reqErr
	})
	if err != nil {
		e.logger.Error("flow engine request failed",
			"session_id", sessionID,
			"subject", e.subject,
			"error", err)
		return &ExecutionResult{
			Success:       false,
			Error:         "flow engine unavailable: " + err.Error(),
			SessionID:     sessionID,
			ExecutionTime: elapsed(start),
		}, nil
	}

	var reply executeReply
	if err := json.Unmarshal(replyData, &reply); err != nil {
		e.logger.Error("flow engine returned malformed reply",
			"session_id", sessionID,
			"error", err)
		return &ExecutionResult{
			Success:       false,
			Error:         "malformed engine reply: " + err.Error(),
			SessionID:     sessionID,
			ExecutionTime: elapsed(start),
		}, nil
	}

	if reply.SessionID != "" {
		sessionID = reply.SessionID
	}

	result := &ExecutionResult{
		Success:       reply.Success,
		Outputs:       reply.Outputs,
		Error:         reply.Error,
		SessionID:     sessionID,
		ExecutionTime: elapsed(start),
	}
	if !result.Success && result.Error == "" {
		result.Error = "flow execution failed"
	}

	e.logger.Debug("flow executed",
		"session_id", result.SessionID,
		"success", result.Success,
		"execution_time", result.ExecutionTime)

	return result, nil
}
