package domain

import "bytes"

// Envelope is the decoded form of an encrypted transaction payload.
// RecipientBoxes[i] is the master key sealed for RecipientKeys[i]; legacy
// payloads may carry boxes without the matching key list.
type Envelope struct {
	SenderKey       PublicKey
	CipherText      []byte
	CipherTextNonce []byte
	RecipientBoxes  [][]byte
	RecipientNonce  []byte
	RecipientKeys   []PublicKey
}

// Hash returns the content hash of the envelope's cipher text.
func (e *Envelope) Hash() (ContentHash, error) {
	return ComputeHash(e.CipherText)
}

// HasRecipient reports whether key is listed as a recipient.
func (e *Envelope) HasRecipient(key PublicKey) bool {
	return e.RecipientIndex(key) >= 0
}

// RecipientIndex returns the position of key in the recipient list and its
// box, or -1 when key is not listed or its box is missing.
func (e *Envelope) RecipientIndex(key PublicKey) int {
	for i, k := range e.RecipientKeys {
		if k == key {
			if i >= len(e.RecipientBoxes) {
				return -1
			}
			return i
		}
	}
	return -1
}

// ForBox returns a copy holding only box idx, attributed to key. It returns
// nil when idx is out of range.
func (e *Envelope) ForBox(idx int, key PublicKey) *Envelope {
	if idx < 0 || idx >= len(e.RecipientBoxes) {
		return nil
	}
	return &Envelope{
		SenderKey:       e.SenderKey,
		CipherText:      cloneBytes(e.CipherText),
		CipherTextNonce: cloneBytes(e.CipherTextNonce),
		RecipientBoxes:  [][]byte{cloneBytes(e.RecipientBoxes[idx])},
		RecipientNonce:  cloneBytes(e.RecipientNonce),
		RecipientKeys:   []PublicKey{key},
	}
}

// ForRecipient returns a copy holding only the box listed for key, or nil
// when key is not listed.
func (e *Envelope) ForRecipient(key PublicKey) *Envelope {
	return e.ForBox(e.RecipientIndex(key), key)
}

// Equal compares two envelopes field by field.
func (e *Envelope) Equal(o *Envelope) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.SenderKey != o.SenderKey ||
		!bytes.Equal(e.CipherText, o.CipherText) ||
		!bytes.Equal(e.CipherTextNonce, o.CipherTextNonce) ||
		!bytes.Equal(e.RecipientNonce, o.RecipientNonce) ||
		len(e.RecipientBoxes) != len(o.RecipientBoxes) ||
		len(e.RecipientKeys) != len(o.RecipientKeys) {
		return false
	}
	for i := range e.RecipientBoxes {
		if !bytes.Equal(e.RecipientBoxes[i], o.RecipientBoxes[i]) {
			return false
		}
	}
	for i := range e.RecipientKeys {
		if e.RecipientKeys[i] != o.RecipientKeys[i] {
			return false
		}
	}
	return true
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
