package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txrecover/internal/core/codec"
	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/resync/metrics"
	"github.com/vietddude/txrecover/internal/resync/staging"
)

// DefaultPageSize is the number of records requested per store page.
const DefaultPageSize = 10000

// Manager drives outbound resend runs and inbound push batches.
//
// A resend run advances its store offset by the caller's batch size but
// always requests PageSize records per page. When the two differ, records
// are skipped (batch size larger) or processed again (batch size smaller).
// Response counts depend on this, so it is kept as is.
type Manager struct {
	source      BatchSource
	stager      Stager
	workflow    *Workflow
	pageSize    int
	concurrency int
}

// Option configures a Manager.
type Option func(*Manager)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// WithConcurrency publishes up to n records of a page at once. 1 keeps the
// run sequential.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// NewManager creates a recovery manager.
func NewManager(source BatchSource, stager Stager, workflow *Workflow, opts ...Option) *Manager {
	m := &Manager{
		source:      source,
		stager:      stager,
		workflow:    workflow,
		pageSize:    DefaultPageSize,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResendBatch republishes every stored record addressed to the requested
// key. Any failure aborts the run; the response only counts published
// records of a run that completed.
func (m *Manager) ResendBatch(ctx context.Context, req ResendBatchRequest) (ResendBatchResponse, error) {
	if req.BatchSize <= 0 {
		return ResendBatchResponse{}, &ValidationError{Field: "batchSize", Reason: "must be positive"}
	}
	recipient, err := domain.ParsePublicKey(req.PublicKey)
	if err != nil {
		return ResendBatchResponse{}, &ValidationError{Field: "publicKey", Reason: "cannot decode", Err: err}
	}

	runID := uuid.New().String()
	logger := slog.With("run_id", runID, "recipient", recipient.Short())

	if err := m.workflow.Ready(ctx); err != nil {
		metrics.ResendRuns.WithLabelValues("failed").Inc()
		return ResendBatchResponse{}, err
	}

	total, err := m.source.Count(ctx)
	if err != nil {
		metrics.ResendRuns.WithLabelValues("failed").Inc()
		return ResendBatchResponse{}, &StoreError{Op: "count", Err: err}
	}

	batchSize := int64(req.BatchSize)
	batchCount := (total + batchSize - 1) / batchSize
	logger.Info("Starting resend run",
		"total", total,
		"batch_size", req.BatchSize,
		"page_size", m.pageSize,
		"batches", batchCount,
	)

	tally := &Tally{}
	for batch := int64(0); batch < batchCount; batch++ {
		offset := int(batch * batchSize)

		start := time.Now()
		records, err := m.source.Page(ctx, offset, m.pageSize)
		if err != nil {
			metrics.ResendRuns.WithLabelValues("failed").Inc()
			logger.Error("Failed to read page", "offset", offset, "error", err)
			return ResendBatchResponse{}, &StoreError{Op: "page", Err: err}
		}

		if err := m.runPage(ctx, records, recipient, req.BatchSize, tally); err != nil {
			metrics.ResendRuns.WithLabelValues("failed").Inc()
			logger.Error("Resend run aborted",
				"offset", offset,
				"published", tally.Published(),
				"error", err,
			)
			return ResendBatchResponse{}, err
		}
		metrics.ResendPageDuration.Observe(time.Since(start).Seconds())
	}

	metrics.ResendRuns.WithLabelValues("completed").Inc()
	logger.Info("Resend run completed",
		"published", tally.Published(),
		"skipped", tally.Skipped(),
	)
	return ResendBatchResponse{Total: tally.Published()}, nil
}

func (m *Manager) runPage(
	ctx context.Context,
	records []*domain.EncryptedRecord,
	recipient domain.PublicKey,
	batchSize int,
	tally *Tally,
) error {
	if m.concurrency > 1 {
		return runConcurrent(ctx, m.workflow, records, recipient, batchSize, tally, m.concurrency)
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.workflow.Execute(ctx, NewWorkflowContext(rec, recipient, batchSize, tally)); err != nil {
			return err
		}
	}
	return nil
}

// StoreBatch stages every pushed payload. The stager holds its ingestion
// lock for the whole batch and stops at the first failure.
func (m *Manager) StoreBatch(ctx context.Context, req PushBatchRequest) error {
	inserted, err := m.stager.StageBatch(ctx, req.EncodedPayloads)
	if err != nil {
		slog.Error("Failed to store pushed batch",
			"payloads", len(req.EncodedPayloads),
			"inserted", inserted,
			"error", err,
		)
		return classifyStageError(err)
	}

	slog.Info("Stored pushed batch",
		"payloads", len(req.EncodedPayloads),
		"inserted", inserted,
	)
	return nil
}

func classifyStageError(err error) error {
	index := 0
	var pe *staging.PayloadError
	if errors.As(err, &pe) {
		index = pe.Index
		err = pe.Err
	}
	if errors.Is(err, codec.ErrMalformed) {
		return &DecodeError{Index: index, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &StoreError{Op: "stage", Err: err}
}
