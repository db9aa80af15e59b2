/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package batchclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"chainguard.dev/matrixbatch/reconcile"
	"chainguard.dev/matrixbatch/retry"
)

type fakeJobs struct {
	created  []string // input URIs passed to Create
	getCalls atomic.Int32

	createErr error
	states    []genai.JobState // successive Get results; last repeats
}

func (f *fakeJobs) Create(ctx context.Context, model string, src *genai.BatchJobSource, cfg *genai.CreateBatchJobConfig) (*genai.BatchJob, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, src.GCSURI[0])
	return &genai.BatchJob{
		Name:  "projects/p/locations/r/batchPredictionJobs/123",
		State: genai.JobStatePending,
	}, nil
}

func (f *fakeJobs) Get(ctx context.Context, name string, cfg *genai.GetBatchJobConfig) (*genai.BatchJob, error) {
	n := int(f.getCalls.Add(1)) - 1
	if n >= len(f.states) {
		n = len(f.states) - 1
	}
	return &genai.BatchJob{Name: name, State: f.states[n]}, nil
}

func testClient(jobs jobAPI) *Client {
	return &Client{
		cfg: Config{
			Bucket:       "test-bucket",
			InputPrefix:  "batch/input",
			OutputPrefix: "batch/output",
			Model:        "gemini-2.5-pro",
			PollInterval: time.Millisecond,
			Retry:        retry.Config{MaxRetries: 0},
		},
		jobs:    jobs,
		decoder: NewDecoder("gemini-2.5-pro"),
		now:     func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestSubmit(t *testing.T) {
	fake := &fakeJobs{}
	c := testClient(fake)

	job, err := c.Submit(context.Background(), "gs://test-bucket/batch/input/batch_input.jsonl")
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}

	if len(fake.created) != 1 || fake.created[0] != "gs://test-bucket/batch/input/batch_input.jsonl" {
		t.Errorf("Create called with %v", fake.created)
	}
	if job.Name == "" || job.Model != "gemini-2.5-pro" {
		t.Errorf("job = %+v", job)
	}
	if job.OutputURI != "gs://test-bucket/batch/output" {
		t.Errorf("OutputURI = %q", job.OutputURI)
	}
	if job.State != string(genai.JobStatePending) {
		t.Errorf("State = %q", job.State)
	}
	if job.SubmittedAt.IsZero() {
		t.Error("SubmittedAt not set")
	}
}

func TestSubmitFailure(t *testing.T) {
	boom := errors.New("invalid argument: bad model")
	c := testClient(&fakeJobs{createErr: boom})

	if _, err := c.Submit(context.Background(), "gs://b/in.jsonl"); !errors.Is(err, boom) {
		t.Fatalf("Submit() = %v, want wrapped %v", err, boom)
	}
}

func TestAwaitCompletionSucceeds(t *testing.T) {
	fake := &fakeJobs{states: []genai.JobState{
		genai.JobStatePending,
		genai.JobStateRunning,
		genai.JobStateRunning,
		genai.JobStateSucceeded,
	}}
	c := testClient(fake)

	state, err := c.AwaitCompletion(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("AwaitCompletion() = %v", err)
	}
	if state != genai.JobStateSucceeded {
		t.Errorf("state = %v", state)
	}
	if got := fake.getCalls.Load(); got != 4 {
		t.Errorf("polled %d times, want 4", got)
	}
}

func TestAwaitCompletionFailedJob(t *testing.T) {
	for _, terminal := range []genai.JobState{genai.JobStateFailed, genai.JobStateCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			c := testClient(&fakeJobs{states: []genai.JobState{genai.JobStateRunning, terminal}})

			state, err := c.AwaitCompletion(context.Background(), "job-123")
			if !errors.Is(err, ErrBatchJob) {
				t.Fatalf("AwaitCompletion() = %v, want ErrBatchJob", err)
			}
			if state != terminal {
				t.Errorf("state = %v, want %v", state, terminal)
			}
		})
	}
}

func TestAwaitCompletionCancelled(t *testing.T) {
	c := testClient(&fakeJobs{states: []genai.JobState{genai.JobStateRunning}})
	c.cfg.PollInterval = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := c.AwaitCompletion(ctx, "job-123"); !errors.Is(err, context.Canceled) {
		t.Fatalf("AwaitCompletion() = %v, want context.Canceled", err)
	}
}

func outputJSON(t *testing.T, customID, text, finishReason string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"custom_id": customID,
		"response": map[string]any{
			"candidates": []any{map[string]any{
				"content":      map[string]any{"parts": []any{map[string]any{"text": text}}},
				"finishReason": finishReason,
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 100, "candidatesTokenCount": 200},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestDecode(t *testing.T) {
	d := NewDecoder("gemini-2.5-pro")

	input := strings.Join([]string{
		outputJSON(t, "1001", `{"osti_id": "1001"}`, "STOP"),
		"",
		outputJSON(t, "1002", `{"osti_id": "1002", "cell_`, "MAX_TOKENS"),
		`{"custom_id": "1003", "status": {"message": "INVALID_ARGUMENT"}}`,
		"not json at all",
	}, "\n")

	got, err := d.Decode(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d responses, want 4", len(got))
	}

	want := []reconcile.RawResponse{
		{RecordID: "1001", Body: `{"osti_id": "1001"}`, FinishReason: "STOP"},
		{RecordID: "1002", Body: `{"osti_id": "1002", "cell_`, FinishReason: "MAX_TOKENS"},
		{RecordID: "1003", Err: "INVALID_ARGUMENT"},
	}
	if diff := cmp.Diff(want, got[:3]); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}

	// The undecodable line becomes a response with an error, not a fetch
	// failure.
	if got[3].Body != "" || !strings.HasPrefix(got[3].Err, "undecodable output line") {
		t.Errorf("undecodable line = %+v", got[3])
	}
}

func TestDecodeMultiPart(t *testing.T) {
	d := NewDecoder("gemini-2.5-pro")
	line := `{"custom_id": "2001", "response": {"candidates": [{"content": {"parts": [{"text": "{\"osti"}, {"text": "_id\": \"2001\"}"}]}, "finishReason": "STOP"}]}}`

	got, err := d.Decode(context.Background(), strings.NewReader(line))
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d responses, want 1", len(got))
	}
	if got[0].Body != `{"osti_id": "2001"}` {
		t.Errorf("Body = %q, parts not concatenated", got[0].Body)
	}
}
