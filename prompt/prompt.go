/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package prompt provides placeholder templates for prompt assembly.
//
// Templates use {{name}} placeholders. Rendering fails when a placeholder is
// left unbound or a value is supplied for a placeholder the template does not
// declare, so prompt bugs surface at build time rather than as malformed text
// sent to the model.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Template is a parsed prompt template.
type Template struct {
	raw   string
	names map[string]struct{}
}

// New parses a template, validating every placeholder identifier.
func New(raw string) (*Template, error) {
	names := make(map[string]struct{})
	if err := walk(raw, func(name string) (string, error) {
		names[name] = struct{}{}
		return "", nil
	}); err != nil {
		return nil, err
	}
	return &Template{raw: raw, names: names}, nil
}

// Must is New for package-level template constants; it panics on error.
func Must(raw string) *Template {
	t, err := New(raw)
	if err != nil {
		panic(fmt.Sprintf("prompt: invalid template: %v", err))
	}
	return t
}

// Names returns the set of placeholder names the template declares.
func (t *Template) Names() map[string]struct{} {
	out := make(map[string]struct{}, len(t.names))
	for name := range t.names {
		out[name] = struct{}{}
	}
	return out
}

// Value is a renderable placeholder value.
type Value interface {
	render() (string, error)
}

type stringValue string

func (v stringValue) render() (string, error) { return string(v), nil }

// String binds a plain string value.
func String(s string) Value { return stringValue(s) }

type jsonValue struct{ data any }

func (v jsonValue) render() (string, error) {
	b, err := json.MarshalIndent(v.data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling JSON placeholder value: %w", err)
	}
	return string(b), nil
}

// JSON binds a value rendered as indented JSON.
func JSON(data any) Value { return jsonValue{data: data} }

// Render substitutes every placeholder. All placeholders must be bound and
// every supplied value must correspond to a declared placeholder.
func (t *Template) Render(values map[string]Value) (string, error) {
	for name := range values {
		if _, ok := t.names[name]; !ok {
			return "", fmt.Errorf("value supplied for undeclared placeholder %q", name)
		}
	}

	var rendered map[string]string
	if len(values) > 0 {
		rendered = make(map[string]string, len(values))
		for name, v := range values {
			s, err := v.render()
			if err != nil {
				return "", fmt.Errorf("rendering placeholder %q: %w", name, err)
			}
			rendered[name] = s
		}
	}

	return buildString(t.raw, func(name string) (string, error) {
		s, ok := rendered[name]
		if !ok {
			return "", fmt.Errorf("placeholder %q is unbound", name)
		}
		return s, nil
	})
}

// walk scans raw and calls visit for each placeholder, discarding output.
func walk(raw string, visit func(name string) (string, error)) error {
	_, err := buildString(raw, visit)
	return err
}

// buildString substitutes each placeholder with the value returned by resolve.
func buildString(raw string, resolve func(name string) (string, error)) (string, error) {
	var out strings.Builder
	for len(raw) > 0 {
		start := strings.Index(raw, "{{")
		if start == -1 {
			out.WriteString(raw)
			break
		}
		out.WriteString(raw[:start])

		end := strings.Index(raw[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unclosed placeholder near %q", clip(raw[start:], 20))
		}
		end += start

		name := strings.TrimSpace(raw[start+2 : end])
		if !validIdent(name) {
			return "", fmt.Errorf("invalid placeholder identifier %q", name)
		}

		replacement, err := resolve(name)
		if err != nil {
			return "", err
		}
		out.WriteString(replacement)
		raw = raw[end+2:]
	}
	return out.String(), nil
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !unicode.IsLetter(r) {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
