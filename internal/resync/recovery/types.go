package recovery

import (
	"context"

	"github.com/vietddude/txrecover/internal/core/domain"
)

// ResendBatchRequest asks this node to republish every stored record that
// is addressed to PublicKey.
type ResendBatchRequest struct {
	PublicKey string `json:"publicKey"`
	BatchSize int    `json:"batchSize"`
}

// ResendBatchResponse carries the number of records published.
type ResendBatchResponse struct {
	Total int64 `json:"total"`
}

// PushBatchRequest carries encoded envelopes pushed by a peer.
type PushBatchRequest struct {
	EncodedPayloads [][]byte `json:"encodedPayloads"`
}

// BatchSource pages through the primary store.
type BatchSource interface {
	Count(ctx context.Context) (int64, error)
	Page(ctx context.Context, offset, limit int) ([]*domain.EncryptedRecord, error)
}

// Publisher ships an envelope, already reduced to what the recipient may
// see, to the node at endpoint.
type Publisher interface {
	Publish(ctx context.Context, endpoint string, env *domain.Envelope, recipient domain.PublicKey) error
}

// Stager serializes inbound batches into the staging area.
type Stager interface {
	StageBatch(ctx context.Context, payloads [][]byte) (int, error)
}
