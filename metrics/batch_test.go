/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBatch(t *testing.T) {
	m := NewBatch("chainguard.dev/matrixbatch/test")
	require.NotNil(t, m, "expected metrics instance")
	require.NotNil(t, m.promptTokens, "prompt counter missing")
	require.NotNil(t, m.completionTokens, "completion counter missing")
	require.NotNil(t, m.truncations, "truncation counter missing")
}

// Recording against the default (no-op) meter provider must be safe; batch
// runs do not require a metrics backend.
func TestRecordWithoutProvider(t *testing.T) {
	m := NewBatch("chainguard.dev/matrixbatch/test")
	ctx := context.Background()

	require.NotPanics(t, func() {
		m.RecordTokens(ctx, "gemini-2.5-pro", 1200, 3400)
		m.RecordTruncation(ctx, "gemini-2.5-pro")
	})
}
