// Package flowstore defines flow definitions and their persistence.
// A flow definition identifies a stored workflow that the gateway turns
// into a callable HTTP endpoint under /run/{endpoint_name}.
package flowstore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/HongGunKR/CoE-Backend/errors"
)

// FlowDefinition identifies a registrable workflow
type FlowDefinition struct {
	// EndpointName is the unique key within the route registry; the
	// served path is derived as /run/{EndpointName}
	EndpointName string `json:"endpoint_name"`

	// Description documents the endpoint in the generated API schema
	Description string `json:"description,omitempty"`

	// Body is the opaque structured document consumed by the external
	// flow engine; the gateway never interprets it beyond validation
	Body json.RawMessage `json:"body"`

	// Version for optimistic concurrency control
	Version int64 `json:"version"`

	// Audit
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// endpointNameRe constrains names to URL-safe path segments
var endpointNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// bodySchema enforces the structural minimum the flow engine expects:
// a JSON object whose optional nodes carry an id and a type.
var bodySchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"properties": {
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"type": "string", "minLength": 1}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {"type": "object"}
		}
	}
}`)

// Validate checks the definition is storable and registrable
func (f *FlowDefinition) Validate() error {
	if f.EndpointName == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "flowstore", "Validate",
			"endpoint name cannot be empty")
	}
	if !endpointNameRe.MatchString(f.EndpointName) {
		return errors.WrapInvalid(errors.ErrInvalidData, "flowstore", "Validate",
			fmt.Sprintf("endpoint name %q must match %s", f.EndpointName, endpointNameRe.String()))
	}
	if len(f.Body) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "flowstore", "Validate",
			"flow body cannot be empty")
	}

	result, err := gojsonschema.Validate(bodySchema, gojsonschema.NewBytesLoader(f.Body))
	if err != nil {
		return errors.WrapInvalid(err, "flowstore", "Validate", "flow body is not valid JSON")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return errors.WrapInvalid(errors.ErrInvalidData, "flowstore", "Validate",
			"flow body schema violation: "+strings.Join(details, "; "))
	}

	return nil
}
