/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reconcile

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// cellJSON renders one complete cell evaluation object.
func cellJSON(id string, score int) string {
	return fmt.Sprintf(`{
      "cell_id": %q,
      "relevance_score": %d,
      "justification": "Direct coverage of the topic.",
      "suggested_question_angle": "What process step dominates recovery?",
      "supports_l3_l4": true
    }`, id, score)
}

// responseJSON renders a complete, well-formed response body.
func responseJSON(ostiID string, overall int, cells ...string) string {
	var best []string
	return fmt.Sprintf(`{
  "osti_id": %q,
  "overall_cmm_relevance": %d,
  "depth_assessment": "Detailed process-level coverage.",
  "cell_evaluations": [%s],
  "best_matching_cells": [%s],
  "recommended_for_gold_qa": false
}`, ostiID, overall, strings.Join(cells, ","), strings.Join(best, ","))
}

func TestReconcileCleanResponse(t *testing.T) {
	body := responseJSON("2001234", 4,
		cellJSON("CMM-HREE-TEC-L1-001", 5),
		cellJSON("CMM-HREE-TPM-L2-001", 3),
		cellJSON("CMM-HREE-QTF-L3-001", 2),
	)

	res := Reconcile(context.Background(), RawResponse{RecordID: "2001234", Body: body})

	if res.Outcome != OutcomeParsed {
		t.Fatalf("Outcome = %v, want PARSED", res.Outcome)
	}
	if res.Evaluation.WasSalvaged {
		t.Error("WasSalvaged = true, want false")
	}
	if got := len(res.Evaluation.CellEvaluations); got != 3 {
		t.Errorf("len(CellEvaluations) = %d, want 3", got)
	}
	if got := res.Evaluation.OverallRelevance; got != 4 {
		t.Errorf("OverallRelevance = %d, want 4", got)
	}
}

func TestReconcileFencedResponse(t *testing.T) {
	body := "```json\n" + responseJSON("77", 3, cellJSON("CMM-LI-TEC-L1-001", 3)) + "\n```"

	res := Reconcile(context.Background(), RawResponse{RecordID: "77", Body: body})
	if res.Outcome != OutcomeParsed {
		t.Fatalf("Outcome = %v, want PARSED", res.Outcome)
	}
}

// A response truncated after the 2nd of 5 cells (the 3rd lost its closing
// brace) salvages exactly 2 cells.
func TestReconcileTruncatedResponse(t *testing.T) {
	body := fmt.Sprintf(`{
  "osti_id": "2005678",
  "overall_cmm_relevance": 4,
  "depth_assessment": "Strong quantitative treatment.",
  "cell_evaluations": [%s, %s, {
      "cell_id": "CMM-CO-QPS-L2-001",
      "relevance_score": 4,
      "justification": "Production statist`,
		cellJSON("CMM-CO-TEC-L1-001", 5),
		cellJSON("CMM-CO-TPM-L2-001", 2))

	res := Reconcile(context.Background(), RawResponse{
		RecordID:     "2005678",
		Body:         body,
		FinishReason: "MAX_TOKENS",
	})

	if res.Outcome != OutcomeSalvaged {
		t.Fatalf("Outcome = %v, want SALVAGED", res.Outcome)
	}
	eval := res.Evaluation
	if !eval.WasSalvaged {
		t.Error("WasSalvaged = false, want true")
	}
	if got := len(eval.CellEvaluations); got != 2 {
		t.Fatalf("len(CellEvaluations) = %d, want 2", got)
	}
	if eval.CellEvaluations[0].CellID != "CMM-CO-TEC-L1-001" ||
		eval.CellEvaluations[1].CellID != "CMM-CO-TPM-L2-001" {
		t.Errorf("recovered wrong cells: %+v", eval.CellEvaluations)
	}
	if got, want := eval.OSTIID, "2005678"; got != want {
		t.Errorf("OSTIID = %q, want %q", got, want)
	}
	if got, want := eval.OverallRelevance, 4; got != want {
		t.Errorf("OverallRelevance = %d, want %d", got, want)
	}

	// Derived fields come from the recovered cells, not the raw text.
	if diff := cmp.Diff([]string{"CMM-CO-TEC-L1-001"}, eval.BestMatchingCells); diff != "" {
		t.Errorf("BestMatchingCells mismatch (-want +got):\n%s", diff)
	}
	if !eval.Recommended {
		t.Error("Recommended = false, want true (one cell scored >= 4)")
	}
}

// Conservativeness: N complete cells followed by one incomplete one salvage
// to exactly N, never N+1, never fewer, even when well-formed objects follow
// the incomplete one.
func TestSalvageConservative(t *testing.T) {
	for n := 0; n <= 4; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			cells := make([]string, 0, n)
			for i := range n {
				cells = append(cells, cellJSON(fmt.Sprintf("CMM-NI-TEC-L1-%03d", i+1), 3))
			}
			body := `{"osti_id": "42", "overall_cmm_relevance": 3, "depth_assessment": "d",
  "cell_evaluations": [` + strings.Join(cells, ",")
			if n > 0 {
				body += ","
			}
			// One incomplete object, then one that would be well-formed in
			// isolation; the scan must not resume past the incomplete one.
			body += ` {"cell_id": "CMM-NI-TEC-L1-900", "relevance_score": 5, "justification": "cut off mid-val`
			body += `, ` + cellJSON("CMM-NI-TEC-L1-901", 5)

			eval, ok := salvage(body)
			if !ok {
				t.Fatal("salvage() failed, want success")
			}
			if got := len(eval.CellEvaluations); got != n {
				t.Errorf("recovered %d cells, want %d", got, n)
			}
		})
	}
}

func TestSalvageIdempotent(t *testing.T) {
	body := `{"osti_id": "9", "overall_cmm_relevance": 2, "depth_assessment": "d",
  "cell_evaluations": [` + cellJSON("CMM-GA-TEC-L1-001", 4) + `, {"cell_id": "trunc`

	first, ok1 := salvage(body)
	second, ok2 := salvage(body)
	if !ok1 || !ok2 {
		t.Fatal("salvage() failed")
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("salvage() not idempotent (-first +second):\n%s", diff)
	}
}

// Truncation before the record identifier finishes yields DROPPED, not an
// empty evaluation.
func TestSalvageTotalFailure(t *testing.T) {
	for _, body := range []string{
		`{"osti_id": "20012`,
		`{"osti`,
		`{`,
		`garbage`,
	} {
		res := Reconcile(context.Background(), RawResponse{Body: body, FinishReason: "MAX_TOKENS"})
		if res.Outcome != OutcomeDropped {
			t.Errorf("Reconcile(%q).Outcome = %v, want DROPPED", body, res.Outcome)
		}
		if res.Evaluation != nil {
			t.Errorf("Reconcile(%q).Evaluation = %+v, want nil", body, res.Evaluation)
		}
	}
}

// Salvage succeeds on top-level fields alone; the cell list may be empty.
func TestSalvageTopLevelOnly(t *testing.T) {
	body := `{"osti_id": "55", "overall_cmm_relevance": 2, "depth_assessment": "shallow", "cell_eval`

	res := Reconcile(context.Background(), RawResponse{Body: body, FinishReason: "MAX_TOKENS"})
	if res.Outcome != OutcomeSalvaged {
		t.Fatalf("Outcome = %v, want SALVAGED", res.Outcome)
	}
	eval := res.Evaluation
	if len(eval.CellEvaluations) != 0 {
		t.Errorf("CellEvaluations = %+v, want empty", eval.CellEvaluations)
	}
	if eval.Recommended {
		t.Error("Recommended = true, want false with no recovered cells")
	}
	if got, want := eval.DepthAssessment, "shallow"; got != want {
		t.Errorf("DepthAssessment = %q, want %q", got, want)
	}
}

// Braces and escaped quotes inside string values must not confuse the
// object scanner.
func TestSalvageBracesInStrings(t *testing.T) {
	body := `{"osti_id": "88", "overall_cmm_relevance": 3, "depth_assessment": "d",
  "cell_evaluations": [{
    "cell_id": "CMM-CU-TEC-L1-001",
    "relevance_score": 3,
    "justification": "Contains { braces } and [brackets] and a \" quote.",
    "suggested_question_angle": "Angle with } stray brace",
    "supports_l3_l4": false
  }, {"cell_id": "CMM-CU-TPM-L1-001", "relevance_score": 4, "justification": "trunc`

	eval, ok := salvage(body)
	if !ok {
		t.Fatal("salvage() failed")
	}
	if got := len(eval.CellEvaluations); got != 1 {
		t.Fatalf("recovered %d cells, want 1", got)
	}
	want := CellEvaluation{
		CellID:                 "CMM-CU-TEC-L1-001",
		RelevanceScore:         3,
		Justification:          `Contains { braces } and [brackets] and a " quote.`,
		SuggestedQuestionAngle: "Angle with } stray brace",
		SupportsL3L4:           false,
	}
	if diff := cmp.Diff(want, eval.CellEvaluations[0]); diff != "" {
		t.Errorf("cell mismatch (-want +got):\n%s", diff)
	}
}

// A syntactically valid response whose cell objects are missing required
// fields must not pass the strict path; the conformance check routes it
// through salvage, which stops at the malformed cell.
func TestReconcileNonConformant(t *testing.T) {
	body := `{
  "osti_id": "31",
  "overall_cmm_relevance": 3,
  "depth_assessment": "d",
  "cell_evaluations": [
    ` + cellJSON("CMM-GE-TEC-L1-001", 3) + `,
    {"cell_id": "CMM-GE-TPM-L1-001", "relevance_score": 3},
    ` + cellJSON("CMM-GE-TGO-L1-001", 3) + `
  ],
  "best_matching_cells": [],
  "recommended_for_gold_qa": false
}`

	res := Reconcile(context.Background(), RawResponse{RecordID: "31", Body: body})
	if res.Outcome != OutcomeSalvaged {
		t.Fatalf("Outcome = %v, want SALVAGED", res.Outcome)
	}
	if got := len(res.Evaluation.CellEvaluations); got != 1 {
		t.Errorf("recovered %d cells, want 1 (scan stops at the deficient cell)", got)
	}
}

// Out-of-band scores violate the contract in both paths.
func TestReconcileScoreOutOfBand(t *testing.T) {
	body := responseJSON("61", 3, cellJSON("CMM-LI-TEC-L1-001", 9))
	res := Reconcile(context.Background(), RawResponse{RecordID: "61", Body: body})
	if res.Outcome == OutcomeParsed {
		t.Errorf("Outcome = PARSED, want non-parsed for score 9")
	}
}

func TestReconcileEmptyBody(t *testing.T) {
	res := Reconcile(context.Background(), RawResponse{RecordID: "1", Err: "internal error"})
	if res.Outcome != OutcomeDropped {
		t.Errorf("Outcome = %v, want DROPPED", res.Outcome)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	responses := []RawResponse{
		{RecordID: "a", Body: responseJSON("a", 4, cellJSON("CMM-CO-TEC-L1-001", 5))},
		{RecordID: "b", Body: `{"osti_id": "b", "overall_cmm_relevance": 2, "depth_assessment": "d", "cell_evaluations": [{"cell_id": "trunc`, FinishReason: "MAX_TOKENS"},
		{RecordID: "c", Body: `{"osti`, FinishReason: "MAX_TOKENS"},
		{RecordID: "d", Body: responseJSON("d", 1, cellJSON("CMM-CO-TPM-L1-001", 1))},
	}

	prior := Processed{"d": OutcomeParsed}
	results, stats, next := Run(ctx, responses, prior)

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3 (one skipped)", len(results))
	}
	want := Stats{Total: 3, Parsed: 1, Salvaged: 1, Dropped: 1, Skipped: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	// Prior is never mutated; the returned state covers all records.
	if len(prior) != 1 {
		t.Errorf("prior mutated: %v", prior)
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, ok := next[id]; !ok {
			t.Errorf("next missing %q", id)
		}
	}
	if next["b"] != OutcomeSalvaged {
		t.Errorf("next[b] = %v, want SALVAGED", next["b"])
	}
}

// Rerunning over the same responses with the produced state reconciles
// nothing new.
func TestRunResumable(t *testing.T) {
	ctx := context.Background()
	responses := []RawResponse{
		{RecordID: "a", Body: responseJSON("a", 4, cellJSON("CMM-CO-TEC-L1-001", 5))},
	}

	_, _, state := Run(ctx, responses, nil)
	results, stats, _ := Run(ctx, responses, state)

	if len(results) != 0 || stats.Skipped != 1 {
		t.Errorf("rerun produced %d results, %d skipped; want 0 results, 1 skipped", len(results), stats.Skipped)
	}
}
