// Package reconcile checks records against the archive in fixed-size batches
// and infers which of them are missing.
package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/archive-check/internal/model"
)

// DefaultBatchSize is the number of identifiers sent per query.
const DefaultBatchSize = 250

// ErrInvalidBatchSize is returned for a batch size below one.
var ErrInvalidBatchSize = eris.New("reconcile: batch size must be positive")

// Lookup reports which of the given identifiers exist in the archive.
// pkg/archiveorg.Client satisfies it.
type Lookup interface {
	Existing(ctx context.Context, ids []string, rows int) ([]string, error)
}

// BatchCount returns ceil(n / size).
func BatchCount(n, size int) (int, error) {
	if size <= 0 {
		return 0, ErrInvalidBatchSize
	}
	return (n + size - 1) / size, nil
}

// Partition splits records into contiguous batches of at most size records.
// The last batch holds the remainder. Batches share the records' backing array.
func Partition(records []model.Record, size int) ([]model.Batch, error) {
	count, err := BatchCount(len(records), size)
	if err != nil {
		return nil, err
	}

	batches := make([]model.Batch, 0, count)
	for i := 0; i < len(records); i += size {
		end := min(i+size, len(records))
		batches = append(batches, model.Batch{
			Index:   len(batches),
			Records: records[i:end:end],
		})
	}
	return batches, nil
}

// Result is the outcome of reconciling a full record set.
type Result struct {
	Total   int
	Batches []model.BatchResult
	Missing []model.Record
}

// MissingLinks returns the link of every missing record in input order.
func (r *Result) MissingLinks() []string {
	links := make([]string, len(r.Missing))
	for i, rec := range r.Missing {
		links[i] = rec.Link
	}
	return links
}

// FailedBatches returns the number of batches whose query failed.
func (r *Result) FailedBatches() int {
	n := 0
	for _, b := range r.Batches {
		if !b.Succeeded() {
			n++
		}
	}
	return n
}

// Reconciler queries a Lookup once per batch.
type Reconciler struct {
	lookup    Lookup
	batchSize int
	log       *zap.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithBatchSize sets the number of records per query.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		r.batchSize = n
	}
}

// WithLogger sets the logger used for per-batch progress.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		r.log = l
	}
}

// New creates a Reconciler backed by lookup.
func New(lookup Lookup, opts ...Option) *Reconciler {
	r := &Reconciler{
		lookup:    lookup,
		batchSize: DefaultBatchSize,
		log:       zap.L(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run reconciles records batch by batch, in order. A failed query marks its
// whole batch missing and processing moves on to the next batch; only a
// cancelled ctx stops the run early.
func (r *Reconciler) Run(ctx context.Context, records []model.Record) (*Result, error) {
	batches, err := Partition(records, r.batchSize)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Total:   len(records),
		Batches: make([]model.BatchResult, 0, len(batches)),
	}

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "reconcile: cancelled before batch %d/%d", b.Index+1, len(batches))
		}

		br := r.reconcileBatch(ctx, b)
		if !br.Succeeded() && ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "reconcile: cancelled during batch %d/%d", b.Index+1, len(batches))
		}

		res.Batches = append(res.Batches, br)
		res.Missing = append(res.Missing, br.Missing...)

		fields := []zap.Field{
			zap.Int("batch", b.Index+1),
			zap.Int("batches", len(batches)),
			zap.Int("size", br.Size),
			zap.Int("found", len(br.Found)),
			zap.Int("missing", len(br.Missing)),
			zap.String("status", string(br.Status)),
		}
		if br.Succeeded() {
			r.log.Info("reconcile: batch complete", fields...)
		} else {
			r.log.Warn("reconcile: batch query failed, treating batch as missing", append(fields, zap.Error(br.Err))...)
		}
	}

	return res, nil
}

// reconcileBatch issues one query for b and never returns an error: a failed
// query is recorded on the result.
func (r *Reconciler) reconcileBatch(ctx context.Context, b model.Batch) model.BatchResult {
	ids := b.IDs()
	br := model.BatchResult{
		Index: b.Index,
		Size:  len(ids),
		Found: make(map[string]struct{}, len(ids)),
	}

	existing, err := r.lookup.Existing(ctx, ids, r.batchSize)
	if err != nil {
		br.Status = model.BatchFailed
		br.Err = eris.Wrapf(err, "reconcile: batch %d query", b.Index+1)
		br.Missing = append([]model.Record(nil), b.Records...)
		return br
	}

	// Only identifiers that belong to this batch count as confirmed.
	expected := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		expected[id] = struct{}{}
	}
	for _, id := range existing {
		if _, ok := expected[id]; ok {
			br.Found[id] = struct{}{}
		}
	}

	br.Status = model.BatchSucceeded
	for _, rec := range b.Records {
		if !br.Confirmed(rec.ArchiveID) {
			br.Missing = append(br.Missing, rec)
		}
	}
	return br
}
