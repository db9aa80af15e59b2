/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package batchclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/matrixbatch/metrics"
	"chainguard.dev/matrixbatch/reconcile"
)

// maxLineBytes bounds one output line. A full evaluation is a few tens of
// kilobytes; 4MiB is far past anything legitimate.
const maxLineBytes = 4 << 20

// FinishReasonMaxTokens is the service's stop reason for responses cut off at
// the output token budget.
const FinishReasonMaxTokens = "MAX_TOKENS"

// outputLine is the Vertex batch output line shape. Per-record failures
// arrive as a status message instead of a response.
type outputLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int64 `json:"promptTokenCount"`
			CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	} `json:"response"`
	Status struct {
		Message string `json:"message"`
	} `json:"status"`
}

// toRaw flattens the candidate text into a raw response for reconciliation.
func (l outputLine) toRaw() reconcile.RawResponse {
	raw := reconcile.RawResponse{
		RecordID: l.CustomID,
		Err:      l.Status.Message,
	}
	if len(l.Response.Candidates) == 0 {
		return raw
	}

	cand := l.Response.Candidates[0]
	raw.FinishReason = cand.FinishReason

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	raw.Body = sb.String()
	return raw
}

// Decoder turns batch output JSONL into raw responses. It works on any
// reader, so previously downloaded output can be reprocessed without touching
// GCS.
type Decoder struct {
	model   string
	metrics *metrics.Batch
}

// NewDecoder creates a Decoder recording usage under the given model
// dimension.
func NewDecoder(model string) *Decoder {
	return &Decoder{
		model:   model,
		metrics: metrics.NewBatch("chainguard.dev/matrixbatch"),
	}
}

// Decode reads a stream of output lines, recording token usage and
// truncations as it goes. A line that is not JSON at all still produces a
// response carrying the decode error, so the reconciler counts it instead of
// the fetch aborting.
func (d *Decoder) Decode(ctx context.Context, r io.Reader) ([]reconcile.RawResponse, error) {
	var responses []reconcile.RawResponse

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var out outputLine
		if err := json.Unmarshal([]byte(line), &out); err != nil {
			responses = append(responses, reconcile.RawResponse{
				Err: fmt.Sprintf("undecodable output line: %v", err),
			})
			continue
		}

		raw := out.toRaw()
		d.metrics.RecordTokens(ctx, d.model,
			out.Response.UsageMetadata.PromptTokenCount,
			out.Response.UsageMetadata.CandidatesTokenCount)
		if raw.FinishReason == FinishReasonMaxTokens {
			d.metrics.RecordTruncation(ctx, d.model)
		}
		responses = append(responses, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning batch output: %w", err)
	}
	return responses, nil
}

// FetchResults downloads and decodes the job output into raw responses ready
// for reconciliation, in output-shard name order.
func (c *Client) FetchResults(ctx context.Context) ([]reconcile.RawResponse, error) {
	var responses []reconcile.RawResponse
	err := c.forEachOutput(ctx, func(name string, r io.Reader) error {
		clog.FromContext(ctx).With("object", name).Infof("parsing batch output")
		rs, err := c.decoder.Decode(ctx, r)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}
		responses = append(responses, rs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return responses, nil
}
