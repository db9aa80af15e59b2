/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reconcile

// Score bounds for a cell relevance judgment.
const (
	MinScore = 1
	MaxScore = 5

	// RecommendThreshold is the score at or above which a cell evaluation
	// marks its cell as a best match for the record.
	RecommendThreshold = 4
)

// CellEvaluation is one record's judged relevance to one matrix cell. All
// five fields are required; a partially written evaluation is never
// materialized.
type CellEvaluation struct {
	CellID                 string `json:"cell_id"`
	RelevanceScore         int    `json:"relevance_score"`
	Justification          string `json:"justification"`
	SuggestedQuestionAngle string `json:"suggested_question_angle"`
	SupportsL3L4           bool   `json:"supports_l3_l4"`
}

// RecordEvaluation aggregates everything one response said about one record.
type RecordEvaluation struct {
	OSTIID            string           `json:"osti_id"`
	OverallRelevance  int              `json:"overall_cmm_relevance"`
	DepthAssessment   string           `json:"depth_assessment"`
	CellEvaluations   []CellEvaluation `json:"cell_evaluations"`
	BestMatchingCells []string         `json:"best_matching_cells"`
	Recommended       bool             `json:"recommended_for_gold_qa"`

	// WasSalvaged distinguishes a fully parsed response from one
	// reconstructed after truncation. Not part of the response contract.
	WasSalvaged bool `json:"was_salvaged,omitempty"`
}

// MaxCellScore returns the best cell score in the evaluation, or 0 when no
// cells were recovered.
func (e RecordEvaluation) MaxCellScore() int {
	best := 0
	for _, ce := range e.CellEvaluations {
		if ce.RelevanceScore > best {
			best = ce.RelevanceScore
		}
	}
	return best
}

// Outcome is the terminal state of reconciling one response.
type Outcome string

const (
	// OutcomeParsed means the body was valid, conformant JSON.
	OutcomeParsed Outcome = "PARSED"

	// OutcomeSalvaged means the body was truncated or non-conformant and a
	// partial evaluation was recovered.
	OutcomeSalvaged Outcome = "SALVAGED"

	// OutcomeDropped means nothing usable could be recovered.
	OutcomeDropped Outcome = "DROPPED"
)

// RawResponse is one response line from the batch job, paired with the record
// it answers. RecordID may be empty when the service did not echo the request
// tag; reconciliation then falls back to the osti_id inside the body.
type RawResponse struct {
	// RecordID is the request tag echoed by the service, when present.
	RecordID string

	// Body is the model's text output, expected to be the evaluation JSON.
	Body string

	// FinishReason is the service-reported stop reason, e.g. "MAX_TOKENS".
	FinishReason string

	// Err is a service-reported per-record error, if any.
	Err string
}

// Result is the reconciled form of one response.
type Result struct {
	RecordID   string
	Outcome    Outcome
	Evaluation *RecordEvaluation // nil when Outcome is OutcomeDropped
}

// Processed maps record IDs to their reconciliation outcome. Callers own this
// state and pass it back in to make re-runs resumable; Run never mutates the
// map it is given.
type Processed map[string]Outcome

// Stats summarizes one reconciliation pass. Per-response failures are data
// here, not errors.
type Stats struct {
	Total         int `json:"total_responses"`
	Parsed        int `json:"parsed_ok"`
	Salvaged      int `json:"salvaged"`
	SalvagedCells int `json:"salvaged_cells"`
	Dropped       int `json:"dropped"`
	Skipped       int `json:"skipped_already_processed"`
	Recommended   int `json:"recommended_records"`
	HighRelevance int `json:"high_relevance_records"`
}
