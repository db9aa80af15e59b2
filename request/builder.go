/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"chainguard.dev/matrixbatch/catalog"
	"chainguard.dev/matrixbatch/matrix"
)

// Generation defaults. Low temperature keeps scores reproducible across runs;
// the output-token budget is what a full 10-cell evaluation fits inside with
// headroom, not a guarantee against truncation.
const (
	DefaultTemperature     = 0.2
	DefaultMaxOutputTokens = 4096
)

const buildConcurrency = 8

// ContextSource records which text the request's abstract section came from.
type ContextSource string

const (
	// SourceAbstract means the catalog entry carried its own abstract.
	SourceAbstract ContextSource = "abstract"

	// SourceOCR means the abstract was recovered from OCR extraction.
	SourceOCR ContextSource = "ocr_fallback"

	// SourceLimited means no usable text exists; the request asks for a
	// conservative evaluation from title and subjects alone.
	SourceLimited ContextSource = "limited_metadata"
)

// Request is one prepared batch input line.
type Request struct {
	// RecordID is the document's osti_id, also embedded in the line as the
	// custom_id tag so responses can be paired without trusting the body.
	RecordID string

	// Category is the catalog tag the request was routed by.
	Category string

	// Source is where the abstract text came from.
	Source ContextSource

	// CellCount is the routed fan-out for this document.
	CellCount int

	payload     payload
	promptChars int
}

// MarshalJSON emits the Vertex batch input line for this request.
func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.payload)
}

// payload is the camelCase JSONL line format the batch service consumes.
type payload struct {
	CustomID string           `json:"custom_id"`
	Request  *generateRequest `json:"request"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction content          `json:"systemInstruction"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64       `json:"temperature"`
	MaxOutputTokens  int           `json:"maxOutputTokens"`
	ResponseMIMEType string        `json:"responseMimeType"`
	ResponseSchema   *genai.Schema `json:"responseSchema"`
}

// Stats summarizes one preparation pass over the catalog.
type Stats struct {
	Requests        int            `json:"total_requests"`
	WithAbstract    int            `json:"has_abstract"`
	OCRFallback     int            `json:"ocr_fallback"`
	LimitedMetadata int            `json:"limited_metadata"`
	Unroutable      int            `json:"no_relevant_cells"`
	PerCategory     map[string]int `json:"documents_per_category"`
}

// Builder turns catalog documents into batch requests.
type Builder struct {
	matrix          *matrix.Matrix
	excerpts        *catalog.ExcerptStore
	temperature     float64
	maxOutputTokens int
	schema          *genai.Schema
}

// Option configures a Builder.
type Option func(*Builder)

// WithExcerptStore enables the OCR fallback for documents whose catalog entry
// has no abstract.
func WithExcerptStore(s *catalog.ExcerptStore) Option {
	return func(b *Builder) { b.excerpts = s }
}

// WithTemperature overrides the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(b *Builder) { b.temperature = t }
}

// WithMaxOutputTokens overrides the default output-token budget.
func WithMaxOutputTokens(n int) Option {
	return func(b *Builder) { b.maxOutputTokens = n }
}

// NewBuilder returns a Builder over the given allocation matrix.
func NewBuilder(m *matrix.Matrix, opts ...Option) (*Builder, error) {
	b := &Builder{
		matrix:          m,
		temperature:     DefaultTemperature,
		maxOutputTokens: DefaultMaxOutputTokens,
	}
	for _, opt := range opts {
		opt(b)
	}

	s, err := ResponseSchema()
	if err != nil {
		return nil, fmt.Errorf("building response schema: %w", err)
	}
	b.schema = s
	return b, nil
}

// Build constructs the single request for one document. Unroutable category
// tags wrap matrix.ErrUnroutableRecord.
func (b *Builder) Build(doc catalog.Document) (Request, error) {
	cells, err := b.matrix.Route(doc.CommodityCategory)
	if err != nil {
		return Request{}, err
	}

	text, source := b.textContext(doc)
	userPrompt, err := renderUserPrompt(doc, cells, text, source)
	if err != nil {
		return Request{}, fmt.Errorf("rendering prompt for %s: %w", doc.OSTIID, err)
	}

	return Request{
		RecordID:  string(doc.OSTIID),
		Category:  doc.CommodityCategory,
		Source:    source,
		CellCount: len(cells),
		payload: payload{
			CustomID: string(doc.OSTIID),
			Request: &generateRequest{
				Contents: []content{{
					Role:  "user",
					Parts: []part{{Text: userPrompt}},
				}},
				SystemInstruction: content{
					Parts: []part{{Text: systemInstruction}},
				},
				GenerationConfig: generationConfig{
					Temperature:      b.temperature,
					MaxOutputTokens:  b.maxOutputTokens,
					ResponseMIMEType: "application/json",
					ResponseSchema:   b.schema,
				},
			},
		},
		promptChars: len(userPrompt) + len(systemInstruction),
	}, nil
}

// textContext resolves the abstract section: catalog abstract, then OCR
// excerpt, then nothing.
func (b *Builder) textContext(doc catalog.Document) (string, ContextSource) {
	if a := doc.Abstract(); a != "" {
		return a, SourceAbstract
	}
	if b.excerpts != nil {
		if e, ok := b.excerpts.Excerpt(doc.OSTIID); ok {
			return e, SourceOCR
		}
	}
	return "", SourceLimited
}

// BuildAll constructs requests for the whole catalog, in catalog order.
// Documents with unroutable category tags are skipped and counted, not fatal;
// any other build failure aborts the pass.
func (b *Builder) BuildAll(ctx context.Context, docs []catalog.Document) ([]Request, Stats, error) {
	log := clog.FromContext(ctx)
	results := make([]*Request, len(docs))

	var g errgroup.Group
	g.SetLimit(buildConcurrency)
	for i, doc := range docs {
		g.Go(func() error {
			r, err := b.Build(doc)
			if errors.Is(err, matrix.ErrUnroutableRecord) {
				log.Warnf("skipping document %s: %v", doc.OSTIID, err)
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = &r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{PerCategory: make(map[string]int)}
	out := make([]Request, 0, len(docs))
	for _, r := range results {
		if r == nil {
			stats.Unroutable++
			continue
		}
		out = append(out, *r)
		stats.Requests++
		stats.PerCategory[r.Category]++
		switch r.Source {
		case SourceAbstract:
			stats.WithAbstract++
		case SourceOCR:
			stats.OCRFallback++
		case SourceLimited:
			stats.LimitedMetadata++
		}
	}
	log.With("requests", stats.Requests, "unroutable", stats.Unroutable).
		Infof("prepared batch input")
	return out, stats, nil
}

// EstimateTokens gives a rough planning estimate for a prepared batch: the
// approximate input token total and the output-token ceiling if every request
// ran to its budget.
func (b *Builder) EstimateTokens(reqs []Request) (input, outputCeiling int) {
	for _, r := range reqs {
		input += r.promptChars / 4
	}
	return input, len(reqs) * b.maxOutputTokens
}

// EncodeJSONL writes the requests as Vertex batch input lines.
func EncodeJSONL(w io.Writer, reqs []Request) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range reqs {
		if err := enc.Encode(r.payload); err != nil {
			return fmt.Errorf("encoding request %s: %w", r.RecordID, err)
		}
	}
	return nil
}
