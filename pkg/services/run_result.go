package services

import (
	"go.uber.org/zap"
)

// RunResult accumulates per-run counters and representative error samples.
// Workers build their own results and merge them at the end; there is no
// shared mutable counter state inside the pipeline.
type RunResult struct {
	Files   int
	Records int

	Created  int
	Updated  int
	Stale    int
	NoChange int
	Skipped  int
	Failed   int

	UnknownLabels int

	// ErrorSamples holds up to sampleLimit representative error messages so
	// the summary stays useful without flooding logs on a bad batch.
	ErrorSamples []string
	sampleLimit  int
}

// NewRunResult creates a result keeping up to sampleLimit error samples.
func NewRunResult(sampleLimit int) *RunResult {
	if sampleLimit < 1 {
		sampleLimit = 10
	}
	return &RunResult{sampleLimit: sampleLimit}
}

// addSample records a representative error message, dropping overflow.
func (r *RunResult) addSample(msg string) {
	if len(r.ErrorSamples) < r.sampleLimit {
		r.ErrorSamples = append(r.ErrorSamples, msg)
	}
}

// Merge folds another result into this one.
func (r *RunResult) Merge(other *RunResult) {
	if other == nil {
		return
	}
	r.Files += other.Files
	r.Records += other.Records
	r.Created += other.Created
	r.Updated += other.Updated
	r.Stale += other.Stale
	r.NoChange += other.NoChange
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.UnknownLabels += other.UnknownLabels
	for _, s := range other.ErrorSamples {
		r.addSample(s)
	}
}

// LogFields returns the summary as structured log fields.
func (r *RunResult) LogFields() []zap.Field {
	return []zap.Field{
		zap.Int("files", r.Files),
		zap.Int("records", r.Records),
		zap.Int("created", r.Created),
		zap.Int("updated", r.Updated),
		zap.Int("stale", r.Stale),
		zap.Int("no_change", r.NoChange),
		zap.Int("skipped", r.Skipped),
		zap.Int("failed", r.Failed),
		zap.Int("unknown_labels", r.UnknownLabels),
		zap.Strings("error_samples", r.ErrorSamples),
	}
}
