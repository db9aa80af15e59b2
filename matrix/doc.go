/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package matrix models the 100-cell gold Q&A allocation matrix and decides
// which cells a catalog document is evaluated against.
//
// The matrix is parsed once at startup from the allocation markdown table and
// is immutable afterwards. Routing is asymmetric on purpose: a document tagged
// with a commodity is evaluated against every cell for that commodity, while a
// document tagged with a subdomain is evaluated against the one-cell-per-commodity
// row for that subdomain. This keeps the per-document fan-out (and batch cost)
// proportional to how specific the document's tag is.
package matrix
