/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package schema derives structured-output schemas for batch requests from
// Go types, so the response contract and the local conformance check share a
// single definition.
package schema

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"google.golang.org/genai"
)

// reflector is configured for inline, self-contained schemas: the batch
// request format has no use for $ref indirection, and required fields come
// from jsonschema struct tags.
var reflector = jsonschema.Reflector{
	RequiredFromJSONSchemaTags: true,
	ExpandedStruct:             true,
	DoNotReference:             true,
}

// Reflect returns the JSON schema for the provided value.
func Reflect(v any) *jsonschema.Schema {
	return reflector.Reflect(v)
}

// For reflects T and converts it to the genai schema format used in batch
// generation config.
func For[T any]() (*genai.Schema, error) {
	var zero T
	return ToGenAI(Reflect(&zero))
}

// ToGenAI converts a reflected JSON schema to the genai.Schema shape.
// Only the subset of JSON schema the response contract uses is supported;
// anything else is a programming error surfaced at startup.
func ToGenAI(s *jsonschema.Schema) (*genai.Schema, error) {
	out := &genai.Schema{
		Description: s.Description,
	}

	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
		if s.Properties != nil {
			out.Properties = make(map[string]*genai.Schema, s.Properties.Len())
			for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
				prop, err := ToGenAI(pair.Value)
				if err != nil {
					return nil, fmt.Errorf("property %q: %w", pair.Key, err)
				}
				out.Properties[pair.Key] = prop
			}
		}
		out.Required = append([]string(nil), s.Required...)
	case "array":
		out.Type = genai.TypeArray
		if s.Items != nil {
			items, err := ToGenAI(s.Items)
			if err != nil {
				return nil, fmt.Errorf("array items: %w", err)
			}
			out.Items = items
		}
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
		if err := bound(s, out); err != nil {
			return nil, err
		}
	case "number":
		out.Type = genai.TypeNumber
		if err := bound(s, out); err != nil {
			return nil, err
		}
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		return nil, fmt.Errorf("unsupported schema type %q", s.Type)
	}

	return out, nil
}

func bound(s *jsonschema.Schema, out *genai.Schema) error {
	if s.Minimum != "" {
		f, err := s.Minimum.Float64()
		if err != nil {
			return fmt.Errorf("minimum %q: %w", s.Minimum, err)
		}
		out.Minimum = &f
	}
	if s.Maximum != "" {
		f, err := s.Maximum.Float64()
		if err != nil {
			return fmt.Errorf("maximum %q: %w", s.Maximum, err)
		}
		out.Maximum = &f
	}
	return nil
}
