package recovery

import (
	"errors"
	"fmt"

	"github.com/vietddude/txrecover/internal/core/domain"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidRecipient = errors.New("invalid recipient key")
	ErrTransport        = errors.New("transport failure")
	ErrDecode           = errors.New("decode failure")
	ErrStore            = errors.New("store failure")
)

// ValidationError rejects a request before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	return target == ErrInvalidRecipient && e.Field == "publicKey"
}

// TransportError wraps a failed endpoint lookup or publish.
type TransportError struct {
	Endpoint string
	Hash     domain.ContentHash
	Err      error
}

func (e *TransportError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("transport failure for %s: %v", e.Hash, e.Err)
	}
	return fmt.Sprintf("transport failure publishing %s to %s: %v", e.Hash, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// DecodeError reports a payload that is not a valid envelope. Index is the
// payload position for push batches; Hash identifies stored records.
type DecodeError struct {
	Index int
	Hash  domain.ContentHash
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Hash.IsZero() {
		return fmt.Sprintf("failed to decode payload %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("failed to decode record %s: %v", e.Hash, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// StoreError wraps a persistent store failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
