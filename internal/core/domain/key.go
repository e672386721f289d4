package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the length of a NaCl box public key.
const KeySize = 32

// ErrInvalidKey is returned when a public key cannot be decoded.
var ErrInvalidKey = errors.New("invalid public key")

// PublicKey is a participant's box public key.
type PublicKey [KeySize]byte

// ParsePublicKey decodes a standard base64 public key.
func ParsePublicKey(encoded string) (PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return PublicKeyFromBytes(raw)
}

// PublicKeyFromBytes copies raw key material into a PublicKey.
func PublicKeyFromBytes(raw []byte) (PublicKey, error) {
	var k PublicKey
	if len(raw) != KeySize {
		return k, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

func (k PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Short is a truncated form for log lines.
func (k PublicKey) Short() string {
	s := k.String()
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

// Bytes returns a copy of the key.
func (k PublicKey) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k[:])
	return out
}

func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
