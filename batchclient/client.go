/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package batchclient submits batch prediction jobs and retrieves their
// output: upload the input JSONL to GCS, create the job, poll it to a
// terminal state, and fetch the response lines back.
package batchclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/chainguard-dev/clog"
	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"chainguard.dev/matrixbatch/retry"
)

// ErrBatchJob indicates the job reached a terminal state other than success.
// The job's own error detail is in the wrapping message; there is nothing to
// fetch when this is returned.
var ErrBatchJob = errors.New("batch job did not succeed")

const jsonlFormat = "jsonl"

// DefaultPollInterval paces status polls. Batch jobs run for tens of minutes;
// polling faster only burns quota.
const DefaultPollInterval = time.Minute

// Config locates the job's project, bucket layout, and model.
type Config struct {
	Project      string
	Region       string
	Bucket       string
	InputPrefix  string
	OutputPrefix string
	Model        string
	PollInterval time.Duration
	Retry        retry.Config
}

// Job is the submission record persisted between pipeline stages, so status
// checks and result fetches can run in later invocations.
type Job struct {
	Name        string     `json:"job_name"`
	Model       string     `json:"model"`
	InputURI    string     `json:"input_uri"`
	OutputURI   string     `json:"output_uri"`
	SubmittedAt time.Time  `json:"submitted_at"`
	State       string     `json:"state"`
	FinalState  string     `json:"final_state,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// jobAPI is the slice of the batches surface the client uses; tests fake it.
type jobAPI interface {
	Create(ctx context.Context, model string, src *genai.BatchJobSource, cfg *genai.CreateBatchJobConfig) (*genai.BatchJob, error)
	Get(ctx context.Context, name string, cfg *genai.GetBatchJobConfig) (*genai.BatchJob, error)
}

// Client drives one batch prediction job end to end.
type Client struct {
	cfg     Config
	jobs    jobAPI
	bucket  *storage.BucketHandle
	decoder *Decoder
	now     func() time.Time
}

// New creates a Client backed by Vertex AI and GCS.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	gcs, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &Client{
		cfg:     cfg,
		jobs:    gc.Batches,
		bucket:  gcs.Bucket(cfg.Bucket),
		decoder: NewDecoder(cfg.Model),
		now:     time.Now,
	}, nil
}

// Upload writes the batch input to the configured input prefix and returns
// its gs:// URI.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	object := path.Join(c.cfg.InputPrefix, name)
	w := c.bucket.Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("uploading %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing upload of %s: %w", object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", c.cfg.Bucket, object)
	clog.FromContext(ctx).With("uri", uri).Infof("uploaded batch input")
	return uri, nil
}

// Submit creates the batch prediction job for an uploaded input.
func (c *Client) Submit(ctx context.Context, inputURI string) (*Job, error) {
	outputURI := fmt.Sprintf("gs://%s/%s", c.cfg.Bucket, c.cfg.OutputPrefix)
	displayName := fmt.Sprintf("cmm-paper-analysis-%s", c.now().UTC().Format("20060102-150405"))

	job, err := retry.Do(ctx, c.cfg.Retry, "batch submit", func() (*genai.BatchJob, error) {
		return c.jobs.Create(ctx, c.cfg.Model,
			&genai.BatchJobSource{
				Format: jsonlFormat,
				GCSURI: []string{inputURI},
			},
			&genai.CreateBatchJobConfig{
				DisplayName: displayName,
				Dest: &genai.BatchJobDestination{
					Format: jsonlFormat,
					GCSURI: outputURI,
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("creating batch job: %w", err)
	}

	clog.FromContext(ctx).With("job", job.Name).With("state", job.State).
		Infof("submitted batch job")
	return &Job{
		Name:        job.Name,
		Model:       c.cfg.Model,
		InputURI:    inputURI,
		OutputURI:   outputURI,
		SubmittedAt: c.now().UTC(),
		State:       string(job.State),
	}, nil
}

// Poll fetches the job's current state.
func (c *Client) Poll(ctx context.Context, name string) (genai.JobState, error) {
	job, err := retry.Do(ctx, c.cfg.Retry, "batch poll", func() (*genai.BatchJob, error) {
		return c.jobs.Get(ctx, name, nil)
	})
	if err != nil {
		return "", fmt.Errorf("fetching batch job %s: %w", name, err)
	}
	return job.State, nil
}

// AwaitCompletion polls until the job reaches a terminal state. It returns
// the terminal state, with ErrBatchJob when that state is not success.
func (c *Client) AwaitCompletion(ctx context.Context, name string) (genai.JobState, error) {
	log := clog.FromContext(ctx).With("job", name)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		state, err := c.Poll(ctx, name)
		if err != nil {
			return "", err
		}
		log.With("state", state).Infof("batch job state")

		switch state {
		case genai.JobStateSucceeded:
			return state, nil
		case genai.JobStateFailed, genai.JobStateCancelled, genai.JobStateExpired:
			return state, fmt.Errorf("%w: terminal state %s", ErrBatchJob, state)
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ticker.C:
		}
	}
}

// forEachOutput visits every JSONL object under the output prefix in name
// order. Name order keeps multi-shard output deterministic.
func (c *Client) forEachOutput(ctx context.Context, visit func(name string, r io.Reader) error) error {
	var names []string
	it := c.bucket.Objects(ctx, &storage.Query{Prefix: c.cfg.OutputPrefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("listing batch output: %w", err)
		}
		if strings.HasSuffix(attrs.Name, ".jsonl") {
			names = append(names, attrs.Name)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no JSONL output found under gs://%s/%s", c.cfg.Bucket, c.cfg.OutputPrefix)
	}
	sort.Strings(names)

	for _, name := range names {
		r, err := c.bucket.Object(name).NewReader(ctx)
		if err != nil {
			return fmt.Errorf("opening %s: %w", name, err)
		}
		err = visit(name, r)
		r.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Download concatenates the raw output shards into w, preserving a trailing
// newline per shard so lines never run together.
func (c *Client) Download(ctx context.Context, w io.Writer) error {
	return c.forEachOutput(ctx, func(name string, r io.Reader) error {
		clog.FromContext(ctx).With("object", name).Infof("downloading batch output")
		n, err := io.Copy(w, r)
		if err != nil {
			return fmt.Errorf("downloading %s: %w", name, err)
		}
		if n > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		return nil
	})
}
