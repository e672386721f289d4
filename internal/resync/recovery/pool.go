package recovery

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/txrecover/internal/core/domain"
)

// runConcurrent executes one page with at most limit workflows in flight.
// The first error cancels the rest; the tally only grows for records that
// reached a terminal state.
func runConcurrent(
	ctx context.Context,
	w *Workflow,
	records []*domain.EncryptedRecord,
	recipient domain.PublicKey,
	batchSize int,
	tally *Tally,
	limit int,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, rec := range records {
		wc := NewWorkflowContext(rec, recipient, batchSize, tally)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return w.Execute(gctx, wc)
		})
	}
	return g.Wait()
}
