/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package reconcile converts raw batch responses into record evaluations.
//
// Every response resolves to exactly one of three outcomes. A body that
// parses cleanly and conforms to the response contract is PARSED. A body cut
// off at the output-token budget goes through salvage, which recovers the
// top-level scalars and every cell evaluation that was completely written
// before the cut; that is SALVAGED. When not even the record identifier was
// fully written, the response is DROPPED.
//
// The invariant the rest of the pipeline relies on: no cell evaluation with
// fewer than its five required fields ever appears in a PARSED or SALVAGED
// result. Salvage under-recovers rather than guess at a truncated value.
package reconcile
