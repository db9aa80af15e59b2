/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package request

import (
	"fmt"
	"strconv"
	"strings"

	"chainguard.dev/matrixbatch/catalog"
	"chainguard.dev/matrixbatch/matrix"
	"chainguard.dev/matrixbatch/prompt"
)

// systemInstruction frames the evaluation task and the scoring rubric. It is
// part of the response contract: the score band and the L3/L4 depth rule here
// must agree with what the reconciler enforces.
const systemInstruction = `You are an expert analyst specializing in critical minerals and materials (CMM) supply chains, with deep knowledge of extraction chemistry, processing metallurgy, geology, trade flows, economic parameters, policy/regulatory frameworks, and supply chain topology.

Your task is to evaluate whether a given research paper is suitable for creating gold-standard evaluation Q&A pairs for a CMM knowledge benchmark. You will be given the paper's metadata (title, abstract, authors, subjects) and a set of specific matrix cells from a 100-question allocation matrix.

For each matrix cell, assess how well the paper's content could support creating a high-quality question-answer pair at the specified complexity level and topic.

Scoring guide (relevance_score 1-5):
- 5: Paper directly and deeply addresses this cell's topic; could be primary source
- 4: Paper substantially covers this topic; strong supporting source
- 3: Paper has moderate relevance; partial coverage of the topic
- 2: Paper has tangential relevance; minor supporting information
- 1: Paper has no meaningful connection to this cell's topic

For L3 (Inferential) and L4 (Analytical) cells, the paper needs sufficient depth for multi-step reasoning or synthesis questions. Set supports_l3_l4=true only if the paper goes beyond surface-level coverage.`

var userTemplate = prompt.Must(`Evaluate this paper for creating gold-standard CMM evaluation Q&A pairs.

**Paper Metadata:**
- OSTI ID: {{osti_id}}
- Title: {{title}}
- Authors: {{authors}}
- Publication Date: {{pub_date}}
- Category: {{category}}
- Subjects: {{subjects}}

**Abstract:** {{abstract_note}}
{{abstract}}

{{limited_note}}

**Evaluate against these {{cell_count}} matrix cells:**

{{cells}}

Provide your evaluation with a relevance_score (1-5) for each cell, justification, suggested question angle, and whether the paper supports L3/L4 complexity.`)

const (
	noteOCR     = "(abstract recovered from OCR extraction)"
	noteNoText  = "(no abstract available -- evaluation based on title and subjects only)"
	noteLimited = "**NOTE: Limited metadata available. Score conservatively.**"
)

// maxPromptAuthors bounds the author list; long collaboration rosters add
// nothing to relevance scoring.
const maxPromptAuthors = 5

func renderUserPrompt(doc catalog.Document, cells []matrix.Cell, text string, source ContextSource) (string, error) {
	abstractNote, limitedNote := "", ""
	switch source {
	case SourceOCR:
		abstractNote = noteOCR
	case SourceLimited:
		abstractNote = noteNoText
		limitedNote = noteLimited
	}

	return userTemplate.Render(map[string]prompt.Value{
		"osti_id":       prompt.String(string(doc.OSTIID)),
		"title":         prompt.String(orUnknown(doc.Title)),
		"authors":       prompt.String(formatAuthors(doc.Authors)),
		"pub_date":      prompt.String(orUnknown(doc.PublicationDate)),
		"category":      prompt.String(categoryLabel(doc.CommodityCategory)),
		"subjects":      prompt.String(formatSubjects(doc.Subjects)),
		"abstract_note": prompt.String(abstractNote),
		"abstract":      prompt.String(text),
		"limited_note":  prompt.String(limitedNote),
		"cell_count":    prompt.String(strconv.Itoa(len(cells))),
		"cells":         prompt.String(formatCells(cells)),
	})
}

// formatCells renders the routed cells as the numbered list the model scores
// against.
func formatCells(cells []matrix.Cell) string {
	var sb strings.Builder
	for i, c := range cells {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. Cell %s\n   Subdomain: %s (%s)\n   Complexity: %s (%s)\n   Topic: %s",
			i+1, c.ID, c.SubdomainDisplay(), c.Subdomain, c.LevelDisplay(), c.Level, c.TopicFocus)
	}
	return sb.String()
}

func categoryLabel(tag string) string {
	if sub, ok := strings.CutPrefix(tag, matrix.SubdomainTagPrefix); ok {
		return fmt.Sprintf("Subdomain: %s (%s)", matrix.SubdomainDisplay(sub), sub)
	}
	return fmt.Sprintf("Commodity: %s (%s)", matrix.CommodityDisplay(tag), tag)
}

func formatAuthors(authors []string) string {
	if len(authors) <= maxPromptAuthors {
		return strings.Join(authors, "; ")
	}
	return fmt.Sprintf("%s (and %d more)",
		strings.Join(authors[:maxPromptAuthors], "; "), len(authors)-maxPromptAuthors)
}

func formatSubjects(subjects []string) string {
	if len(subjects) == 0 {
		return "None listed"
	}
	return strings.Join(subjects, "; ")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
