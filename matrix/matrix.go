/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package matrix

import (
	"errors"
	"fmt"
)

// ExpectedCells is the size of the full allocation matrix: 10 commodities
// crossed with 10 subdomains.
const ExpectedCells = 100

// SubdomainTagPrefix marks a catalog category tag that names a subdomain
// rather than a commodity, e.g. "subdomain_G-PR".
const SubdomainTagPrefix = "subdomain_"

var (
	// ErrMalformedMatrix indicates the allocation matrix definition is
	// inconsistent (wrong cell count, duplicate IDs, unparseable rows).
	// This is fatal at startup; no partial matrix is ever used.
	ErrMalformedMatrix = errors.New("malformed allocation matrix")

	// ErrUnroutableRecord indicates a category tag that names neither a
	// known commodity nor a known subdomain.
	ErrUnroutableRecord = errors.New("unroutable record category")
)

// Cell is one scoring target in the allocation matrix.
type Cell struct {
	// QuestionNumber is the 1-based position in the allocation table.
	QuestionNumber int

	// ID is the stable identifier, e.g. "CMM-HREE-TEC-L1-001".
	ID string

	// Commodity is the commodity code, e.g. "HREE".
	Commodity string

	// Subdomain is the canonical subdomain code, e.g. "T-EC".
	Subdomain string

	// Level is the complexity level, "L1" through "L4".
	Level string

	// Stratum is the sampling stratum, "A" or "B".
	Stratum string

	// TopicFocus is the free-text topic used in prompt construction.
	TopicFocus string
}

// SubdomainDisplay returns the human-readable subdomain name, falling back to
// the code when unknown.
func (c Cell) SubdomainDisplay() string {
	if name, ok := subdomainNames[c.Subdomain]; ok {
		return name
	}
	return c.Subdomain
}

// LevelDisplay returns the human-readable complexity level name.
func (c Cell) LevelDisplay() string {
	if name, ok := levelNames[c.Level]; ok {
		return name
	}
	return c.Level
}

// CommodityDisplay returns the human-readable commodity name.
func (c Cell) CommodityDisplay() string {
	if name, ok := commodityNames[c.Commodity]; ok {
		return name
	}
	return c.Commodity
}

// Matrix is the immutable registry of allocation cells.
type Matrix struct {
	cells       []Cell
	byID        map[string]Cell
	byCommodity map[string][]Cell
	bySubdomain map[string][]Cell
}

// New validates the cell set and builds the registry. Cell IDs must be unique
// and every cell must carry a commodity, subdomain, and level. New does not
// enforce a total cell count; Parse does that for the full matrix.
func New(cells []Cell) (*Matrix, error) {
	m := &Matrix{
		cells:       make([]Cell, len(cells)),
		byID:        make(map[string]Cell, len(cells)),
		byCommodity: make(map[string][]Cell),
		bySubdomain: make(map[string][]Cell),
	}
	copy(m.cells, cells)

	for _, c := range m.cells {
		if c.ID == "" || c.Commodity == "" || c.Subdomain == "" || c.Level == "" {
			return nil, fmt.Errorf("%w: cell %q missing required fields", ErrMalformedMatrix, c.ID)
		}
		if _, dup := m.byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate cell ID %q", ErrMalformedMatrix, c.ID)
		}
		m.byID[c.ID] = c
		m.byCommodity[c.Commodity] = append(m.byCommodity[c.Commodity], c)
		m.bySubdomain[c.Subdomain] = append(m.bySubdomain[c.Subdomain], c)
	}
	return m, nil
}

// Cells returns all cells in table order.
func (m *Matrix) Cells() []Cell {
	out := make([]Cell, len(m.cells))
	copy(out, m.cells)
	return out
}

// Len returns the number of cells in the matrix.
func (m *Matrix) Len() int {
	return len(m.cells)
}

// Lookup returns the cell with the given ID.
func (m *Matrix) Lookup(id string) (Cell, bool) {
	c, ok := m.byID[id]
	return c, ok
}

// ForCommodity returns every cell for the given commodity code, across all
// subdomains, in table order.
func (m *Matrix) ForCommodity(code string) []Cell {
	return append([]Cell(nil), m.byCommodity[code]...)
}

// ForSubdomain returns every cell in the given subdomain row, one per
// commodity, in table order.
func (m *Matrix) ForSubdomain(code string) []Cell {
	return append([]Cell(nil), m.bySubdomain[code]...)
}
