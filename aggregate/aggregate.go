/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package aggregate pivots per-record evaluations into a per-cell
// recommendation matrix: for each allocation cell, which documents scored
// best against it.
package aggregate

import (
	"sort"

	"chainguard.dev/matrixbatch/matrix"
	"chainguard.dev/matrixbatch/reconcile"
)

// Entry is one document's evaluation against one cell, flattened for the
// recommendation matrix.
type Entry struct {
	OSTIID                 string `json:"osti_id"`
	RelevanceScore         int    `json:"relevance_score"`
	Justification          string `json:"justification"`
	SuggestedQuestionAngle string `json:"suggested_question_angle"`
	SupportsL3L4           bool   `json:"supports_l3_l4"`
	OverallRelevance       int    `json:"overall_cmm_relevance"`
}

// Recommendations maps every cell ID in the allocation matrix to its
// candidate documents, best score first. A cell no document was evaluated
// against maps to an empty slice; absence of evidence is data the report
// needs, so gaps are represented, not omitted.
type Recommendations map[string][]Entry

// Build pivots evaluations into a recommendation matrix over m's cells.
// Entries for a cell are ordered by score descending; ties keep evaluation
// order, so reruns over the same input produce identical output. Cell IDs the
// model invented (not present in m) are discarded.
func Build(m *matrix.Matrix, evals []reconcile.RecordEvaluation) Recommendations {
	recs := make(Recommendations, m.Len())
	for _, c := range m.Cells() {
		recs[c.ID] = []Entry{}
	}

	for _, ev := range evals {
		for _, ce := range ev.CellEvaluations {
			if _, known := m.Lookup(ce.CellID); !known {
				continue
			}
			recs[ce.CellID] = append(recs[ce.CellID], Entry{
				OSTIID:                 ev.OSTIID,
				RelevanceScore:         ce.RelevanceScore,
				Justification:          ce.Justification,
				SuggestedQuestionAngle: ce.SuggestedQuestionAngle,
				SupportsL3L4:           ce.SupportsL3L4,
				OverallRelevance:       ev.OverallRelevance,
			})
		}
	}

	for id := range recs {
		entries := recs[id]
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].RelevanceScore > entries[j].RelevanceScore
		})
	}
	return recs
}

// Covered reports whether the cell has at least one entry at or above the
// threshold.
func (r Recommendations) Covered(cellID string, threshold int) bool {
	for _, e := range r[cellID] {
		if e.RelevanceScore >= threshold {
			return true
		}
	}
	return false
}

// Coverage returns the cell IDs with at least one entry at or above the
// threshold, sorted.
func (r Recommendations) Coverage(threshold int) []string {
	var covered []string
	for id := range r {
		if r.Covered(id, threshold) {
			covered = append(covered, id)
		}
	}
	sort.Strings(covered)
	return covered
}

// Gaps returns the cell IDs with no entry at or above the threshold, sorted.
func (r Recommendations) Gaps(threshold int) []string {
	var gaps []string
	for id := range r {
		if !r.Covered(id, threshold) {
			gaps = append(gaps, id)
		}
	}
	sort.Strings(gaps)
	return gaps
}

// Top returns up to n best entries for the cell.
func (r Recommendations) Top(cellID string, n int) []Entry {
	entries := r[cellID]
	if len(entries) > n {
		entries = entries[:n]
	}
	return append([]Entry(nil), entries...)
}
