/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package matrix

import (
	"fmt"
	"strings"
)

// Route returns the cells a document with the given category tag is evaluated
// against.
//
// A commodity tag selects every cell for that commodity (all subdomains, all
// levels). A "subdomain_" tag selects the subdomain row instead: one cell per
// commodity. The fan-out is therefore non-uniform across tags, which is the
// point: it bounds prompt size per document without flattening the matrix.
//
// Tags that match neither axis wrap ErrUnroutableRecord.
func (m *Matrix) Route(categoryTag string) ([]Cell, error) {
	if sub, ok := strings.CutPrefix(categoryTag, SubdomainTagPrefix); ok {
		cells := m.ForSubdomain(sub)
		if len(cells) == 0 {
			return nil, fmt.Errorf("%w: unknown subdomain %q", ErrUnroutableRecord, sub)
		}
		return cells, nil
	}

	cells := m.ForCommodity(categoryTag)
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: unknown category tag %q", ErrUnroutableRecord, categoryTag)
	}
	return cells, nil
}
