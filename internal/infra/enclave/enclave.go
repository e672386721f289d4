// Package enclave holds the node's key material and answers recipient
// questions about encrypted envelopes.
package enclave

import (
	"context"
	"errors"

	"github.com/vietddude/txrecover/internal/core/domain"
)

var (
	ErrUnavailable   = errors.New("enclave unavailable")
	ErrUnknownKey    = errors.New("key not managed by this enclave")
	ErrNotRecipient  = errors.New("key is not a recipient of the envelope")
	ErrDecryptFailed = errors.New("failed to decrypt envelope")
)

// NoBox is returned by RecipientBox when key is not a party.
const NoBox = -1

// Enclave resolves whether a key is party to an envelope.
type Enclave interface {
	// Status reports whether the enclave can serve requests.
	Status(ctx context.Context) error
	// PublicKeys lists the keys this node manages.
	PublicKeys() []domain.PublicKey
	// RecipientBox returns the index of the box sealed for key, or NoBox.
	RecipientBox(ctx context.Context, env *domain.Envelope, key domain.PublicKey) (int, error)
}
