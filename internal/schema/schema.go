// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Package schema reflects JSON Schemas from Go types and validates
// documents against them. Request bodies and seed files share it.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// BaseID prefixes every schema $id.
const BaseID = "https://credence.dev/schemas/"

// CodeInvalidDocument marks a document that failed validation. It shares
// the value of the auth request code so the HTTP layer maps it to 400.
const CodeInvalidDocument = "REQUEST_INVALID"

// FieldError is one validation failure.
type FieldError struct {
	// Path is a JSON pointer into the document; empty for the root.
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Definition names a Go type to reflect.
type Definition struct {
	Name        string
	Title       string
	Description string
	Prototype   any
}

type entry struct {
	def      Definition
	document []byte
	compiled *jschema.Schema
}

// Registry holds compiled schemas by name. It is safe for concurrent use
// once built.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry reflects and compiles every definition.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{entries: make(map[string]*entry, len(defs))}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" || def.Prototype == nil {
		return oops.Code("SCHEMA_DEFINITION_INVALID").Errorf("schema definition needs a name and a prototype")
	}

	document, err := generate(def)
	if err != nil {
		return err
	}
	compiled, err := compile(def.Name, document)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[def.Name]; dup {
		return oops.Code("SCHEMA_DEFINITION_INVALID").With("name", def.Name).Errorf("schema %q registered twice", def.Name)
	}
	r.entries[def.Name] = &entry{def: def, document: document, compiled: compiled}
	return nil
}

// Names lists registered schemas in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Document returns the indented JSON Schema for name.
func (r *Registry) Document(name string) ([]byte, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(e.document))
	copy(out, e.document)
	return out, nil
}

// ValidateJSON checks a JSON document.
func (r *Registry) ValidateJSON(name string, data []byte) error {
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return oops.Code(CodeInvalidDocument).
			With("schema", name).
			With("fields", []FieldError{{Message: "body is not valid JSON"}}).
			Wrap(err)
	}
	return r.validate(name, doc)
}

// ValidateYAML checks a YAML document.
func (r *Registry) ValidateYAML(name string, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return oops.Code(CodeInvalidDocument).
			With("schema", name).
			With("fields", []FieldError{{Message: "document is empty"}}).
			Errorf("document is empty")
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code(CodeInvalidDocument).
			With("schema", name).
			With("fields", []FieldError{{Message: "document is not valid YAML"}}).
			Wrap(err)
	}
	normalized, err := toJSONTypes(doc)
	if err != nil {
		return oops.Code(CodeInvalidDocument).With("schema", name).Wrap(err)
	}
	return r.validate(name, normalized)
}

func (r *Registry) validate(name string, doc any) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	if err := e.compiled.Validate(doc); err != nil {
		fields := FieldErrors(err)
		return oops.Code(CodeInvalidDocument).
			With("schema", name).
			With("fields", fields).
			Errorf("document does not match schema %s", name)
	}
	return nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, oops.Code("SCHEMA_NOT_FOUND").With("name", name).Errorf("no schema named %q", name)
	}
	return e, nil
}

// FieldErrors flattens a validation error into leaf failures.
func FieldErrors(err error) []FieldError {
	var ve *jschema.ValidationError
	if !errors.As(err, &ve) {
		return []FieldError{{Message: err.Error()}}
	}

	seen := make(map[FieldError]struct{})
	var out []FieldError
	for _, unit := range ve.BasicOutput().Errors {
		if unit.Error == nil {
			continue
		}
		fe := FieldError{Path: unit.InstanceLocation, Message: unit.Error.String()}
		if strings.Contains(fe.Message, "validation failed") {
			continue
		}
		if _, dup := seen[fe]; dup {
			continue
		}
		seen[fe] = struct{}{}
		out = append(out, fe)
	}
	if len(out) == 0 {
		out = append(out, FieldError{Message: "document does not match schema"})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Message < out[j].Message
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func generate(def Definition) ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	s := reflector.Reflect(def.Prototype)
	s.ID = jsonschema.ID(BaseID + def.Name + ".schema.json")
	s.Title = def.Title
	s.Description = def.Description

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").With("name", def.Name).Wrap(err)
	}
	return data, nil
}

func compile(name string, document []byte) (*jschema.Schema, error) {
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(document))
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
	}
	url := name + ".schema.json"
	c := jschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
	}
	return compiled, nil
}

// toJSONTypes rewrites YAML-decoded values into the shapes the validator
// accepts. Non-string map keys are rejected.
func toJSONTypes(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			converted, err := toJSONTypes(item)
			if err != nil {
				return nil, err
			}
			out[k] = converted
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			converted, err := toJSONTypes(item)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case map[any]any:
		return nil, oops.Errorf("mapping keys must be strings")
	case int:
		return json.Number(strconv.Itoa(val)), nil
	case int64:
		return json.Number(strconv.FormatInt(val, 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(val, 10)), nil
	case float64:
		return val, nil
	case string, bool, nil:
		return val, nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, oops.Errorf("unsupported value of type %T", val)
		}
		return jschema.UnmarshalJSON(bytes.NewReader(raw))
	}
}
