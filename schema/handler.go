// Package schema wraps santhosh-tekuri/jsonschema behind the narrow
// Compile/Validate surface the rest of this module needs. The library's
// own compiler internals are an external collaborator — this package
// only adapts its shape to ours.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrValidation is returned when a JSON payload does not conform to its
// schema. Fatal for the event carrying the payload.
var ErrValidation = errors.New("schema: payload does not validate")

// Schema is a compiled JSON-Schema ready for repeated validation.
type Schema struct {
	compiled *jsonschema.Schema
}

// Validate checks value (already-decoded JSON, e.g. from json.Unmarshal
// into map[string]any/[]any/primitives) against the compiled schema.
func (s *Schema) Validate(value any) error {
	if err := s.compiled.Validate(value); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ValidateJSON decodes raw as JSON and validates the result.
func (s *Schema) ValidateJSON(raw []byte) error {
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	return s.Validate(decoded)
}

// Handler compiles and caches schemas by a caller-chosen id (typically
// "<schema_id>@<governance_version>").
type Handler struct {
	mu    sync.Mutex
	cache map[string]*Schema
}

func NewHandler() *Handler {
	return &Handler{cache: make(map[string]*Schema)}
}

// Compile compiles doc (a JSON-Schema document) and caches it under id.
// Recompiling the same id with different bytes replaces the cache entry;
// callers are expected to key id on content (e.g. governance version) so
// this never silently serves a stale schema.
func (h *Handler) Compile(id string, doc []byte) (*Schema, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema: invalid schema document for %q: %w", id, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(id, decoded); err != nil {
		return nil, fmt.Errorf("schema: add resource %q: %w", id, err)
	}
	compiled, err := compiler.Compile(id)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %q: %w", id, err)
	}
	s := &Schema{compiled: compiled}
	h.cache[id] = s
	return s, nil
}

// Lookup returns a previously compiled schema, if cached.
func (h *Handler) Lookup(id string) (*Schema, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.cache[id]
	return s, ok
}
