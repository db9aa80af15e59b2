/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package catalog loads the source document catalog and the OCR-extracted
// text store used as the abstract fallback.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ID is an OSTI document identifier. The catalog serializes these
// inconsistently (sometimes a JSON string, sometimes a number), so ID accepts
// both forms and normalizes to a string.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*id = ID(n.String())
		return nil
	}
	return fmt.Errorf("osti_id is neither string nor number: %s", data)
}

// Document is one catalog entry to be scored against the allocation matrix.
type Document struct {
	OSTIID            ID       `json:"osti_id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Authors           []string `json:"authors"`
	Subjects          []string `json:"subjects"`
	PublicationDate   string   `json:"publication_date"`
	CommodityCategory string   `json:"commodity_category"`
}

// Abstract returns the catalog description with surrounding whitespace
// stripped, or "" when the catalog has none.
func (d Document) Abstract() string {
	return strings.TrimSpace(d.Description)
}

// Load reads the document catalog JSON array. Document IDs must be unique;
// a duplicate is a loader-contract violation and fails the load.
func Load(r io.Reader) ([]Document, error) {
	var docs []Document
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding document catalog: %w", err)
	}

	seen := make(map[ID]struct{}, len(docs))
	for _, d := range docs {
		if d.OSTIID == "" {
			return nil, fmt.Errorf("document %q has no osti_id", d.Title)
		}
		if _, dup := seen[d.OSTIID]; dup {
			return nil, fmt.Errorf("duplicate osti_id %q in catalog", d.OSTIID)
		}
		seen[d.OSTIID] = struct{}{}
	}
	return docs, nil
}
