/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"
)

type inner struct {
	Name  string `json:"name" jsonschema:"required"`
	Score int    `json:"score" jsonschema:"required,minimum=1,maximum=5"`
	Deep  bool   `json:"deep" jsonschema:"required"`
}

type outer struct {
	ID    string  `json:"id" jsonschema:"required,description=record identifier"`
	Items []inner `json:"items" jsonschema:"required"`
	Note  string  `json:"note"`
}

func TestFor(t *testing.T) {
	s, err := For[outer]()
	if err != nil {
		t.Fatalf("For() = %v", err)
	}

	if s.Type != genai.TypeObject {
		t.Fatalf("Type = %v, want OBJECT", s.Type)
	}
	if diff := cmp.Diff([]string{"id", "items"}, s.Required); diff != "" {
		t.Errorf("Required mismatch (-want +got):\n%s", diff)
	}

	id := s.Properties["id"]
	if id == nil || id.Type != genai.TypeString {
		t.Fatalf("id property = %+v, want STRING", id)
	}
	if id.Description != "record identifier" {
		t.Errorf("id.Description = %q", id.Description)
	}

	items := s.Properties["items"]
	if items == nil || items.Type != genai.TypeArray {
		t.Fatalf("items property = %+v, want ARRAY", items)
	}
	item := items.Items
	if item == nil || item.Type != genai.TypeObject {
		t.Fatalf("items.Items = %+v, want OBJECT", item)
	}
	if diff := cmp.Diff([]string{"name", "score", "deep"}, item.Required); diff != "" {
		t.Errorf("item Required mismatch (-want +got):\n%s", diff)
	}

	score := item.Properties["score"]
	if score == nil || score.Type != genai.TypeInteger {
		t.Fatalf("score property = %+v, want INTEGER", score)
	}
	if score.Minimum == nil || *score.Minimum != 1 {
		t.Errorf("score.Minimum = %v, want 1", score.Minimum)
	}
	if score.Maximum == nil || *score.Maximum != 5 {
		t.Errorf("score.Maximum = %v, want 5", score.Maximum)
	}

	if deep := item.Properties["deep"]; deep == nil || deep.Type != genai.TypeBoolean {
		t.Fatalf("deep property = %+v, want BOOLEAN", deep)
	}
}
