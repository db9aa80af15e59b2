/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reconcile

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/chainguard-dev/clog"
)

// flexString tolerates the model emitting a numeric osti_id where the
// contract says string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// rawCell shadows CellEvaluation with pointer fields so that a missing field
// is distinguishable from a zero value during the conformance check.
type rawCell struct {
	CellID                 *string `json:"cell_id"`
	RelevanceScore         *int    `json:"relevance_score"`
	Justification          *string `json:"justification"`
	SuggestedQuestionAngle *string `json:"suggested_question_angle"`
	SupportsL3L4           *bool   `json:"supports_l3_l4"`
}

// complete returns the materialized evaluation when all five fields are
// present and the score is inside the contract band.
func (rc rawCell) complete() (CellEvaluation, bool) {
	if rc.CellID == nil || rc.RelevanceScore == nil || rc.Justification == nil ||
		rc.SuggestedQuestionAngle == nil || rc.SupportsL3L4 == nil {
		return CellEvaluation{}, false
	}
	if *rc.RelevanceScore < MinScore || *rc.RelevanceScore > MaxScore {
		return CellEvaluation{}, false
	}
	return CellEvaluation{
		CellID:                 *rc.CellID,
		RelevanceScore:         *rc.RelevanceScore,
		Justification:          *rc.Justification,
		SuggestedQuestionAngle: *rc.SuggestedQuestionAngle,
		SupportsL3L4:           *rc.SupportsL3L4,
	}, true
}

type rawEvaluation struct {
	OSTIID            *flexString `json:"osti_id"`
	OverallRelevance  *int        `json:"overall_cmm_relevance"`
	DepthAssessment   *string     `json:"depth_assessment"`
	CellEvaluations   []rawCell   `json:"cell_evaluations"`
	BestMatchingCells []string    `json:"best_matching_cells"`
	Recommended       *bool       `json:"recommended_for_gold_qa"`
}

// parseStrict parses the body as the full response contract. The service's
// schema enforcement is not trusted: truncation defeats it, so every field is
// re-checked locally before a domain object is built. Any failure sends the
// body to salvage instead.
func parseStrict(body string) (*RecordEvaluation, bool) {
	var raw rawEvaluation
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, false
	}
	if raw.OSTIID == nil || raw.OverallRelevance == nil || raw.DepthAssessment == nil ||
		raw.CellEvaluations == nil || raw.Recommended == nil {
		return nil, false
	}

	cells := make([]CellEvaluation, 0, len(raw.CellEvaluations))
	for _, rc := range raw.CellEvaluations {
		ce, ok := rc.complete()
		if !ok {
			return nil, false
		}
		cells = append(cells, ce)
	}

	return &RecordEvaluation{
		OSTIID:            string(*raw.OSTIID),
		OverallRelevance:  *raw.OverallRelevance,
		DepthAssessment:   *raw.DepthAssessment,
		CellEvaluations:   cells,
		BestMatchingCells: raw.BestMatchingCells,
		Recommended:       *raw.Recommended,
	}, true
}

// stripFences removes a surrounding markdown code fence when the model wraps
// its JSON despite the response MIME type.
func stripFences(body string) string {
	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// Reconcile resolves one raw response to its outcome. It performs no I/O;
// the result depends only on the response content.
func Reconcile(ctx context.Context, raw RawResponse) Result {
	log := clog.FromContext(ctx).With("record_id", raw.RecordID)

	body := stripFences(raw.Body)
	if body == "" {
		log.With("finish_reason", raw.FinishReason).
			With("service_error", raw.Err).
			Warn("Empty response body, dropping")
		return Result{RecordID: raw.RecordID, Outcome: OutcomeDropped}
	}

	if eval, ok := parseStrict(body); ok {
		return Result{
			RecordID:   resolveID(raw.RecordID, eval),
			Outcome:    OutcomeParsed,
			Evaluation: eval,
		}
	}

	if eval, ok := salvage(body); ok {
		log.With("finish_reason", raw.FinishReason).
			With("cells_recovered", len(eval.CellEvaluations)).
			Info("Salvaged truncated response")
		return Result{
			RecordID:   resolveID(raw.RecordID, eval),
			Outcome:    OutcomeSalvaged,
			Evaluation: eval,
		}
	}

	log.With("finish_reason", raw.FinishReason).
		With("body_length", len(body)).
		Warn("Unrecoverable response, dropping")
	return Result{RecordID: raw.RecordID, Outcome: OutcomeDropped}
}

// resolveID prefers the service-echoed record tag, falling back to the
// osti_id recovered from the body.
func resolveID(tagged string, eval *RecordEvaluation) string {
	if tagged != "" {
		return tagged
	}
	return eval.OSTIID
}

// Run reconciles a response set against prior state. Records already present
// in prior are skipped, making a re-run over an extended response set a pure
// function of (responses, prior). The returned Processed is a new map; prior
// is never mutated.
func Run(ctx context.Context, responses []RawResponse, prior Processed) ([]Result, Stats, Processed) {
	next := make(Processed, len(prior)+len(responses))
	for id, outcome := range prior {
		next[id] = outcome
	}

	var results []Result
	var stats Stats
	for _, raw := range responses {
		if raw.RecordID != "" {
			if _, done := next[raw.RecordID]; done {
				stats.Skipped++
				continue
			}
		}

		res := Reconcile(ctx, raw)
		stats.Total++
		responseOutcomes.WithLabelValues(string(res.Outcome)).Inc()

		switch res.Outcome {
		case OutcomeParsed:
			stats.Parsed++
		case OutcomeSalvaged:
			stats.Salvaged++
			stats.SalvagedCells += len(res.Evaluation.CellEvaluations)
			salvagedCells.Add(float64(len(res.Evaluation.CellEvaluations)))
		case OutcomeDropped:
			stats.Dropped++
		}

		if res.Evaluation != nil {
			if res.Evaluation.Recommended {
				stats.Recommended++
			}
			if res.Evaluation.OverallRelevance >= RecommendThreshold {
				stats.HighRelevance++
			}
		}

		if res.RecordID != "" {
			next[res.RecordID] = res.Outcome
		}
		results = append(results, res)
	}

	clog.FromContext(ctx).
		With("total", stats.Total).
		With("parsed", stats.Parsed).
		With("salvaged", stats.Salvaged).
		With("salvaged_cells", stats.SalvagedCells).
		With("dropped", stats.Dropped).
		With("skipped", stats.Skipped).
		Info("Reconciliation pass complete")

	return results, stats, next
}
