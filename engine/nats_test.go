package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HongGunKR/CoE-Backend/errors"
)

// fakeRequester scripts NATS replies for the engine bridge
type fakeRequester struct {
	replies  [][]byte
	errs     []error
	calls    int
	lastData []byte
}

func (f *fakeRequester) Request(_ context.Context, _ string, data []byte, _ time.Duration) ([]byte, error) {
	idx := f.calls
	f.calls++
	f.lastData = data
	var reply []byte
	var err error
	if idx < len(f.replies) {
		reply = f.replies[idx]
	}
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	return reply, err
}

func flowBody() json.RawMessage {
	return json.RawMessage(`{"nodes":[{"id":"n1","type":"llm"}]}`)
}

func TestExecuteSuccess(t *testing.T) {
	fake := &fakeRequester{
		replies: [][]byte{[]byte(`{
			"success": true,
			"outputs": {"text": "hello"},
			"session_id": "sess-123"
		}`)},
	}
	eng, err := NewNATSEngine(fake, "flows.execute")
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), flowBody(), map[string]any{"q": "hi"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "sess-123", result.SessionID)
	assert.JSONEq(t, `{"text": "hello"}`, string(result.Outputs))
	assert.Empty(t, result.Error)
	assert.GreaterOrEqual(t, result.ExecutionTime, 0.0)

	// The request carries the flow and inputs
	var req executeRequest
	require.NoError(t, json.Unmarshal(fake.lastData, &req))
	assert.NotEmpty(t, req.SessionID)
	assert.JSONEq(t, string(flowBody()), string(req.Flow))
	assert.Equal(t, "hi", req.Inputs["q"])
}

func TestExecuteLogicalFailure(t *testing.T) {
	fake := &fakeRequester{
		replies: [][]byte{[]byte(`{"success": false, "error": "node llm-1 raised"}`)},
	}
	eng, err := NewNATSEngine(fake, "flows.execute")
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), flowBody(), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "node llm-1 raised", result.Error)
	assert.NotEmpty(t, result.SessionID, "session id is generated when the engine omits one")
}

func TestExecuteFailureWithoutMessage(t *testing.T) {
	fake := &fakeRequester{
		replies: [][]byte{[]byte(`{"success": false}`)},
	}
	eng, err := NewNATSEngine(fake, "flows.execute")
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), flowBody(), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "flow execution failed", result.Error)
}

func TestExecuteEngineUnreachable(t *testing.T) {
	fake := &fakeRequester{
		errs: []error{
			errors.ErrConnectionTimeout,
			errors.ErrConnectionTimeout,
			errors.ErrConnectionTimeout,
		},
	}
	eng, err := NewNATSEngine(fake, "flows.execute")
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), flowBody(), nil)
	require.NoError(t, err, "engine faults surface in the result, not as an error")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "flow engine unavailable")
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, 3, fake.calls, "transient faults are retried")
}

func TestExecuteNonTransientFaultNotRetried(t *testing.T) {
	fake := &fakeRequester{
		errs: []error{errors.WrapInvalid(nil, "natsclient", "Request", "bad subject")},
	}
	eng, err := NewNATSEngine(fake, "flows.execute")
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), flowBody(), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, fake.calls)
}

func TestExecuteMalformedReply(t *testing.T) {
	fake := &fakeRequester{replies: [][]byte{[]byte("not json")}}
	eng, err := NewNATSEngine(fake, "flows.execute")
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), flowBody(), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "malformed engine reply")
}

func TestEngineFaultsLoggedAsErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))

	fake := &fakeRequester{
		errs: []error{
			errors.ErrConnectionTimeout,
			errors.ErrConnectionTimeout,
			errors.ErrConnectionTimeout,
		},
	}
	eng, err := NewNATSEngine(fake, "flows.execute", WithLogger(logger))
	require.NoError(t, err)

	_, err = eng.Execute(context.Background(), flowBody(), nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "flow engine request failed")

	buf.Reset()
	fake = &fakeRequester{replies: [][]byte{[]byte("not json")}}
	eng, err = NewNATSEngine(fake, "flows.execute", WithLogger(logger))
	require.NoError(t, err)

	_, err = eng.Execute(context.Background(), flowBody(), nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "malformed engine reply")
}

func TestNewNATSEngineValidation(t *testing.T) {
	_, err := NewNATSEngine(nil, "flows.execute")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	eng, err := NewNATSEngine(&fakeRequester{}, "")
	require.NoError(t, err)
	assert.Equal(t, "flows.execute", eng.subject)
}
