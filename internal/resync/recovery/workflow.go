package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/vietddude/txrecover/internal/core/codec"
	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/directory"
	"github.com/vietddude/txrecover/internal/infra/enclave"
	"github.com/vietddude/txrecover/internal/resync/metrics"
)

// State is the position of one record in the workflow.
type State int

const (
	StateStart State = iota
	StateRecipientResolved
	StatePublished
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateRecipientResolved:
		return "recipient_resolved"
	case StatePublished:
		return "published"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Tally counts workflow outcomes for one resend run. It is safe for
// concurrent use by the run's own workers.
type Tally struct {
	published atomic.Int64
	skipped   atomic.Int64
}

func (t *Tally) Published() int64 { return t.published.Load() }
func (t *Tally) Skipped() int64   { return t.skipped.Load() }

// WorkflowContext is one (record, recipient) pair of a resend run.
type WorkflowContext struct {
	Record    *domain.EncryptedRecord
	Recipient domain.PublicKey
	BatchSize int
	State     State

	tally *Tally
}

// NewWorkflowContext binds a record to the run's tally.
func NewWorkflowContext(rec *domain.EncryptedRecord, recipient domain.PublicKey, batchSize int, tally *Tally) *WorkflowContext {
	return &WorkflowContext{
		Record:    rec,
		Recipient: recipient,
		BatchSize: batchSize,
		State:     StateStart,
		tally:     tally,
	}
}

// Workflow decides whether a stored record goes to the recipient and
// publishes it once if so. It never retries.
type Workflow struct {
	enclave   enclave.Enclave
	directory directory.Directory
	publisher Publisher
}

// NewWorkflow assembles the pipeline from its collaborators.
func NewWorkflow(e enclave.Enclave, d directory.Directory, p Publisher) *Workflow {
	return &Workflow{enclave: e, directory: d, publisher: p}
}

// Ready checks that the enclave can answer recipient questions.
func (w *Workflow) Ready(ctx context.Context) error {
	return w.enclave.Status(ctx)
}

// Execute runs one context to a terminal state or returns an error.
func (w *Workflow) Execute(ctx context.Context, wc *WorkflowContext) error {
	hash := wc.Record.Hash

	env, err := codec.Decode(wc.Record.Payload)
	if err != nil {
		return &DecodeError{Hash: hash, Err: err}
	}

	idx, err := w.enclave.RecipientBox(ctx, env, wc.Recipient)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient for %s: %w", hash, err)
	}
	wc.State = StateRecipientResolved

	// only the recipient's own box leaves the node
	view := env.ForBox(idx, wc.Recipient)
	if view == nil {
		wc.State = StateSkipped
		wc.tally.skipped.Add(1)
		metrics.ResendSkipped.Inc()
		slog.Debug("Record not addressed to recipient", "hash", hash.String(), "recipient", wc.Recipient.Short())
		return nil
	}

	endpoint, err := w.directory.Resolve(ctx, wc.Recipient)
	if err != nil {
		return &TransportError{Hash: hash, Err: err}
	}

	if err := w.publisher.Publish(ctx, endpoint, view, wc.Recipient); err != nil {
		return &TransportError{Endpoint: endpoint, Hash: hash, Err: err}
	}

	wc.State = StatePublished
	wc.tally.published.Add(1)
	metrics.ResendPublished.Inc()
	slog.Debug("Record republished", "hash", hash.String(), "recipient", wc.Recipient.Short(), "endpoint", endpoint)
	return nil
}
