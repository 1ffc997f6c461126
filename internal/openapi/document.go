// Package openapi embeds the HTTP API description and validates request
// bodies against it.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/partnerhub/model"
)

//go:embed openapi.yaml
var specYAML []byte

// Raw returns the embedded API document as YAML.
func Raw() []byte {
	return specYAML
}

// Operation is an indexed API operation.
type Operation struct {
	OperationID  string
	Method       string
	PathTemplate string
	RequestBody  *openapi3.RequestBody
}

// Document is the parsed API description indexed by operationId.
type Document struct {
	doc        *openapi3.T
	operations map[string]Operation
}

// Load parses and validates the embedded API document.
func Load(ctx context.Context) (*Document, error) {
	return Parse(ctx, specYAML)
}

// Parse parses and validates an API document.
func Parse(ctx context.Context, data []byte) (*Document, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("openapi: validating document: %w", err)
	}

	d := &Document{doc: doc, operations: make(map[string]Operation)}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			var body *openapi3.RequestBody
			if op.RequestBody != nil {
				body = op.RequestBody.Value
			}
			d.operations[op.OperationID] = Operation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				RequestBody:  body,
			}
		}
	}
	return d, nil
}

// Version returns the API version declared by the document.
func (d *Document) Version() string {
	return d.doc.Info.Version
}

// Operation returns the indexed operation with the given ID.
func (d *Document) Operation(operationID string) (Operation, bool) {
	op, ok := d.operations[operationID]
	return op, ok
}

// OperationIDs returns all operation IDs, sorted.
func (d *Document) OperationIDs() []string {
	ids := make([]string, 0, len(d.operations))
	for id := range d.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateBody validates a decoded JSON request body against the operation's
// request schema. It returns nil when the body is valid or the operation
// declares no JSON body.
func (d *Document) ValidateBody(operationID string, body any) []model.FieldError {
	op, ok := d.operations[operationID]
	if !ok {
		return []model.FieldError{{Code: "unknown_operation", Message: fmt.Sprintf("operation %s not found", operationID)}}
	}
	if op.RequestBody == nil {
		return nil
	}
	media := op.RequestBody.Content.Get("application/json")
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return nil
	}
	if body == nil {
		if op.RequestBody.Required {
			return []model.FieldError{{Code: "required", Message: "request body is required"}}
		}
		return nil
	}

	err := media.Schema.Value.VisitJSON(body, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return fieldErrors(err)
}

func fieldErrors(err error) []model.FieldError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []model.FieldError
		for _, e := range multi {
			out = append(out, fieldErrors(e)...)
		}
		return out
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		pointer := schemaErr.JSONPointer()
		// Missing and unsupported properties may be reported on the parent
		// object; name the property itself.
		if schemaErr.SchemaField == "required" || schemaErr.SchemaField == "properties" || schemaErr.SchemaField == "additionalProperties" {
			if name := quotedProperty(schemaErr.Reason); name != "" && (len(pointer) == 0 || pointer[len(pointer)-1] != name) {
				pointer = append(pointer, name)
			}
		}
		field := strings.Join(pointer, ".")
		return []model.FieldError{{
			Field:   field,
			Code:    schemaErr.SchemaField,
			Message: schemaErr.Reason,
		}}
	}
	return []model.FieldError{{Code: "invalid", Message: err.Error()}}
}

// quotedProperty extracts the property name from reasons such as
// `property "x" is missing`.
func quotedProperty(reason string) string {
	start := strings.IndexByte(reason, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(reason[start+1:], '"')
	if end < 0 {
		return ""
	}
	return reason[start+1 : start+1+end]
}
