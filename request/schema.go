/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package request

import (
	"github.com/invopop/jsonschema"
	"google.golang.org/genai"

	"chainguard.dev/matrixbatch/schema"
)

// evaluation is the wire shape the model is constrained to produce for one
// document. Field names must stay aligned with the reconciler's JSON contract;
// a drift here silently turns every response into a salvage candidate.
type evaluation struct {
	OSTIID            string           `json:"osti_id" jsonschema:"required"`
	OverallRelevance  int              `json:"overall_cmm_relevance" jsonschema:"required,minimum=1,maximum=5"`
	DepthAssessment   string           `json:"depth_assessment" jsonschema:"required"`
	CellEvaluations   []cellEvaluation `json:"cell_evaluations" jsonschema:"required"`
	BestMatchingCells []string         `json:"best_matching_cells" jsonschema:"required"`
	Recommended       bool             `json:"recommended_for_gold_qa" jsonschema:"required"`
}

func (evaluation) JSONSchemaExtend(s *jsonschema.Schema) {
	describe(s, map[string]string{
		"overall_cmm_relevance":   "1-5 scale: 1=no CMM relevance, 5=highly relevant with deep CMM content",
		"depth_assessment":        "Brief assessment of the paper's depth and specificity for CMM topics",
		"best_matching_cells":     "Cell IDs where this paper scored >= 4",
		"recommended_for_gold_qa": "True if any cell_evaluation has relevance_score >= 4",
	})
}

type cellEvaluation struct {
	CellID                 string `json:"cell_id" jsonschema:"required"`
	RelevanceScore         int    `json:"relevance_score" jsonschema:"required,minimum=1,maximum=5"`
	Justification          string `json:"justification" jsonschema:"required"`
	SuggestedQuestionAngle string `json:"suggested_question_angle" jsonschema:"required"`
	SupportsL3L4           bool   `json:"supports_l3_l4" jsonschema:"required"`
}

func (cellEvaluation) JSONSchemaExtend(s *jsonschema.Schema) {
	describe(s, map[string]string{
		"relevance_score":          "1-5: how well this paper supports creating a gold Q&A for this cell",
		"justification":            "Why this score; what specific content maps to this cell",
		"suggested_question_angle": "A specific question angle this paper could support for this cell",
		"supports_l3_l4":           "Whether the paper has enough depth for L3/L4 complexity questions",
	})
}

// describe sets property descriptions that cannot be expressed in struct tags
// (the tag grammar splits on commas).
func describe(s *jsonschema.Schema, docs map[string]string) {
	if s.Properties == nil {
		return
	}
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		if d, ok := docs[pair.Key]; ok {
			pair.Value.Description = d
		}
	}
}

// ResponseSchema returns the structured-output schema every batch request
// carries in its generation config.
func ResponseSchema() (*genai.Schema, error) {
	return schema.For[evaluation]()
}
