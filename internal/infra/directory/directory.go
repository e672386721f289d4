// Package directory resolves a recipient public key to the node that serves it.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/txrecover/internal/core/domain"
)

// ErrUnknownRecipient is returned when no node is known for a key.
var ErrUnknownRecipient = errors.New("unknown recipient")

// Directory maps recipient keys to peer endpoints.
type Directory interface {
	Resolve(ctx context.Context, key domain.PublicKey) (string, error)
}

// Static is a fixed key to URL map.
type Static map[domain.PublicKey]string

func (s Static) Resolve(ctx context.Context, key domain.PublicKey) (string, error) {
	url, ok := s[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRecipient, key.Short())
	}
	return url, nil
}

// Chain asks each directory in order; the first that knows the key wins.
// Errors other than ErrUnknownRecipient stop the chain.
type Chain []Directory

func (c Chain) Resolve(ctx context.Context, key domain.PublicKey) (string, error) {
	for _, d := range c {
		url, err := d.Resolve(ctx, key)
		if err == nil {
			return url, nil
		}
		if !errors.Is(err, ErrUnknownRecipient) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownRecipient, key.Short())
}
