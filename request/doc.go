/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package request assembles the batch inference input: exactly one bounded,
// schema-constrained request per catalog document, regardless of how many
// matrix cells the document is evaluated against. The cost of that fan-in is
// a response that enumerates many cells under a fixed output-token budget,
// which is why truncated responses are expected downstream.
package request
