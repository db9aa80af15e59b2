/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

const (
	// excerptBudget is the character budget for a full-text excerpt.
	excerptBudget = 600

	// excerptMinBoundary is the minimum sentence-boundary position; a period
	// earlier than this is boilerplate (headers, disclaimers), not a sentence
	// worth cutting at.
	excerptMinBoundary = 200
)

// ExcerptStore reads per-document OCR extraction results, used as the
// fallback text context for documents whose catalog entry has no abstract.
// Each document is a JSON file named <osti_id>.json with optional "abstract"
// and "text" fields.
type ExcerptStore struct {
	dir string
}

// NewExcerptStore returns a store rooted at dir. The directory is not
// required to exist; lookups simply miss.
func NewExcerptStore(dir string) *ExcerptStore {
	return &ExcerptStore{dir: dir}
}

type ocrDocument struct {
	Abstract string `json:"abstract"`
	Text     string `json:"text"`
}

// Excerpt returns the OCR abstract for the document, or a sentence-bounded
// excerpt of the full text when the abstract is empty. Returns ok=false when
// no usable text exists. The result is deterministic for a given store state.
func (s *ExcerptStore) Excerpt(id ID) (string, bool) {
	raw, err := os.ReadFile(filepath.Join(s.dir, string(id)+".json"))
	if err != nil {
		return "", false
	}

	var doc ocrDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", false
	}

	if abstract := strings.TrimSpace(doc.Abstract); abstract != "" {
		return abstract, true
	}

	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return "", false
	}
	return truncateAtSentence(text), true
}

// truncateAtSentence cuts text at the last sentence boundary inside the
// excerpt budget, keeping the whole text when it already fits. When no
// boundary lands past excerptMinBoundary the raw prefix is returned.
func truncateAtSentence(text string) string {
	if len(text) <= excerptBudget {
		return text
	}
	snippet := text[:excerptBudget]
	if last := strings.LastIndex(snippet, "."); last > excerptMinBoundary {
		return snippet[:last+1]
	}
	return snippet
}
