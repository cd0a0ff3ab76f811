package flowstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HongGunKR/CoE-Backend/errors"
)

func validFlow() *FlowDefinition {
	return &FlowDefinition{
		EndpointName: "summarize",
		Description:  "Summarize input text",
		Body: json.RawMessage(`{
			"nodes": [
				{"id": "input-1", "type": "text_input"},
				{"id": "llm-1", "type": "llm"}
			],
			"edges": [{"source": "input-1", "target": "llm-1"}]
		}`),
	}
}

func TestValidateAcceptsWellFormedFlow(t *testing.T) {
	require.NoError(t, validFlow().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FlowDefinition)
	}{
		{
			name:   "empty endpoint name",
			mutate: func(f *FlowDefinition) { f.EndpointName = "" },
		},
		{
			name:   "uppercase endpoint name",
			mutate: func(f *FlowDefinition) { f.EndpointName = "Summarize" },
		},
		{
			name:   "endpoint name with slash",
			mutate: func(f *FlowDefinition) { f.EndpointName = "run/evil" },
		},
		{
			name:   "empty body",
			mutate: func(f *FlowDefinition) { f.Body = nil },
		},
		{
			name:   "body not JSON",
			mutate: func(f *FlowDefinition) { f.Body = json.RawMessage(`{broken`) },
		},
		{
			name:   "body not an object",
			mutate: func(f *FlowDefinition) { f.Body = json.RawMessage(`[1,2,3]`) },
		},
		{
			name: "node missing type",
			mutate: func(f *FlowDefinition) {
				f.Body = json.RawMessage(`{"nodes": [{"id": "n1"}]}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := validFlow()
			tt.mutate(flow)
			err := flow.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "expected invalid classification, got %v", err)
		})
	}
}

func TestValidateAllowsMinimalBody(t *testing.T) {
	flow := validFlow()
	flow.Body = json.RawMessage(`{}`)
	assert.NoError(t, flow.Validate())
}

func TestEndpointNameCharset(t *testing.T) {
	for _, name := range []string{"a", "flow-1", "my_flow", "a1b2"} {
		flow := validFlow()
		flow.EndpointName = name
		assert.NoError(t, flow.Validate(), "name %q should be valid", name)
	}
	for _, name := range []string{"-lead", "_lead", "has space", "UPPER", "ko한글"} {
		flow := validFlow()
		flow.EndpointName = name
		assert.Error(t, flow.Validate(), "name %q should be rejected", name)
	}
}
