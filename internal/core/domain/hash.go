package domain

import (
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// HashSize is the length of a ContentHash in bytes (SHA3-512).
const HashSize = 64

// ErrInvalidInput is returned when a hash is requested for an empty cipher text.
var ErrInvalidInput = errors.New("invalid input: cipher text is empty")

// ContentHash identifies a stored transaction by the digest of its cipher text.
type ContentHash [HashSize]byte

// ComputeHash derives the content hash of a cipher text.
func ComputeHash(cipherText []byte) (ContentHash, error) {
	if len(cipherText) == 0 {
		return ContentHash{}, ErrInvalidInput
	}
	return ContentHash(sha3.Sum512(cipherText)), nil
}

// ParseHash decodes the base64 form produced by ContentHash.String.
func ParseHash(s string) (ContentHash, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ContentHash{}, fmt.Errorf("failed to decode hash: %w", err)
	}
	return HashFromBytes(raw)
}

// HashFromBytes copies a raw digest into a ContentHash.
func HashFromBytes(raw []byte) (ContentHash, error) {
	var h ContentHash
	if len(raw) != HashSize {
		return h, fmt.Errorf("invalid hash length: want %d, got %d", HashSize, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h ContentHash) String() string {
	return base64.StdEncoding.EncodeToString(h[:])
}

// Bytes returns a copy of the digest.
func (h ContentHash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// IsZero reports whether the hash was never set.
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *ContentHash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
