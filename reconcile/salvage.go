/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reconcile

import (
	"encoding/json"
	"regexp"
)

// Top-level scalar extraction. The model writes these fields before the cell
// array, so they survive all but the earliest truncation. String captures
// include the quotes so the match can be decoded as a JSON string.
var (
	ostiIDRE  = regexp.MustCompile(`"osti_id"\s*:\s*("(?:[^"\\]|\\.)*")`)
	overallRE = regexp.MustCompile(`"overall_cmm_relevance"\s*:\s*(\d+)`)
	depthRE   = regexp.MustCompile(`"depth_assessment"\s*:\s*("(?:[^"\\]|\\.)*")`)

	cellArrayRE = regexp.MustCompile(`"cell_evaluations"\s*:\s*\[`)
)

// salvage recovers a partial evaluation from a body that failed the strict
// parse, typically because the response hit the output-token budget
// mid-structure.
//
// Recovery is strictly conservative: the top-level scalars are extracted by
// pattern (they precede the cell array), and cells are recovered by a linear
// scan that accepts an evaluation only when its closing brace was observed
// and all five fields decoded. The first incomplete cell ends the scan;
// truncation is linear, so nothing after it can be trusted. Derived fields
// are recomputed from the recovered cells, never read from the raw text.
//
// Returns ok=false when not even the record identifier was fully written.
func salvage(body string) (*RecordEvaluation, bool) {
	ostiID, ok := findString(ostiIDRE, body)
	if !ok {
		return nil, false
	}

	overall := 0
	if m := overallRE.FindStringSubmatch(body); m != nil {
		// \d+ cannot fail to parse; errors here would mean the regexp lied.
		_ = json.Unmarshal([]byte(m[1]), &overall)
	}
	depth, _ := findString(depthRE, body)

	cells := scanCells(body)

	var best []string
	for _, ce := range cells {
		if ce.RelevanceScore >= RecommendThreshold {
			best = append(best, ce.CellID)
		}
	}

	return &RecordEvaluation{
		OSTIID:            ostiID,
		OverallRelevance:  overall,
		DepthAssessment:   depth,
		CellEvaluations:   cells,
		BestMatchingCells: best,
		Recommended:       len(best) > 0,
		WasSalvaged:       true,
	}, true
}

// findString extracts and decodes a quoted JSON string captured by re.
func findString(re *regexp.Regexp, body string) (string, bool) {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal([]byte(m[1]), &s); err != nil {
		return "", false
	}
	return s, true
}

// scanCells recovers complete cell evaluations from the cell_evaluations
// array, in emission order, stopping at the first incomplete one.
func scanCells(body string) []CellEvaluation {
	loc := cellArrayRE.FindStringIndex(body)
	if loc == nil {
		return nil
	}
	rest := body[loc[1]:]

	var out []CellEvaluation
	for {
		obj, advance, ok := nextObject(rest)
		if !ok {
			return out
		}

		var rc rawCell
		if err := json.Unmarshal([]byte(obj), &rc); err != nil {
			return out
		}
		ce, ok := rc.complete()
		if !ok {
			// A closed object missing fields means the stream is no longer
			// trustworthy; stop rather than cherry-pick later objects.
			return out
		}
		out = append(out, ce)
		rest = rest[advance:]
	}
}

// nextObject scans s for the next JSON object and returns its text and the
// offset just past it. It tracks string and escape state so braces inside
// values do not confuse the depth count. ok=false when the array has closed,
// the next token is not an object, or the text ends before the object's
// closing brace, meaning the object was truncated.
func nextObject(s string) (obj string, advance int, ok bool) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r' || s[i] == ',') {
		i++
	}
	if i >= len(s) || s[i] != '{' {
		return "", 0, false
	}

	start := i
	depth := 0
	inString := false
	escaped := false
	for ; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case ']':
			depth--
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1, true
			}
		}
	}
	return "", 0, false
}
