/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package matrix

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// rowRE matches a detailed cell-assignment table row:
//
//	| 1 | CMM-HREE-TEC-L1-001 | HREE | L1 | A | Primary REE separation method |
var rowRE = regexp.MustCompile(
	`^\|\s*(\d+)\s*\|` + // question number
		`\s*(CMM-[A-Z0-9\-]+)\s*\|` + // cell ID
		`\s*([A-Z]+)\s*\|` + // commodity
		`\s*(L[1-4])\s*\|` + // complexity level
		`\s*([AB])\s*\|` + // stratum
		`\s*(.+?)\s*\|$`) // topic focus

// idSubdomains maps the compact subdomain segment embedded in cell IDs to the
// canonical subdomain codes.
var idSubdomains = map[string]string{
	"TEC": "T-EC",
	"TPM": "T-PM",
	"TGO": "T-GO",
	"QPS": "Q-PS",
	"QTF": "Q-TF",
	"QEP": "Q-EP",
	"GPR": "G-PR",
	"GBM": "G-BM",
	"SCC": "S-CC",
	"SST": "S-ST",
}

// subdomainFromID extracts the canonical subdomain from a cell ID like
// CMM-HREE-TEC-L1-001. The subdomain segment is usually third, but multi-part
// commodity codes can shift it, so every segment after the commodity is tried.
func subdomainFromID(id string) (string, error) {
	parts := strings.Split(id, "-")
	for _, part := range parts[2:] {
		if sub, ok := idSubdomains[part]; ok {
			return sub, nil
		}
	}
	return "", fmt.Errorf("no subdomain segment in cell ID %q", id)
}

// Parse reads the allocation matrix markdown and returns the validated
// registry. The table must contain exactly want cells; any mismatch,
// duplicate ID, or unrecognizable ID wraps ErrMalformedMatrix.
func Parse(r io.Reader, want int) (*Matrix, error) {
	var cells []Cell

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := rowRE.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}

		qnum, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: question number %q: %v", ErrMalformedMatrix, m[1], err)
		}
		sub, err := subdomainFromID(m[2])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMatrix, err)
		}

		cells = append(cells, Cell{
			QuestionNumber: qnum,
			ID:             m[2],
			Commodity:      m[3],
			Subdomain:      sub,
			Level:          m[4],
			Stratum:        m[5],
			TopicFocus:     m[6],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading allocation matrix: %w", err)
	}

	if len(cells) != want {
		return nil, fmt.Errorf("%w: parsed %d cells, want %d", ErrMalformedMatrix, len(cells), want)
	}
	return New(cells)
}

// Distribution counts cells along one axis of the matrix, for prepare-time
// verification output.
type Distribution struct {
	ByCommodity map[string]int
	BySubdomain map[string]int
	ByLevel     map[string]int
	ByStratum   map[string]int
}

// Distribution tallies the matrix along each axis.
func (m *Matrix) Distribution() Distribution {
	d := Distribution{
		ByCommodity: make(map[string]int),
		BySubdomain: make(map[string]int),
		ByLevel:     make(map[string]int),
		ByStratum:   make(map[string]int),
	}
	for _, c := range m.cells {
		d.ByCommodity[c.Commodity]++
		d.BySubdomain[c.Subdomain]++
		d.ByLevel[c.Level]++
		d.ByStratum[c.Stratum]++
	}
	return d
}
