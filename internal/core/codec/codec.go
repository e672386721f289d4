// Package codec implements the wire encoding of transaction envelopes.
//
// Envelopes are written in protobuf wire format without generated code:
//
//	1 sender key        bytes
//	2 cipher text       bytes
//	3 cipher text nonce bytes
//	4 recipient box     bytes, repeated
//	5 recipient nonce   bytes
//	6 recipient key     bytes, repeated
package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vietddude/txrecover/internal/core/domain"
)

const (
	fieldSender          protowire.Number = 1
	fieldCipherText      protowire.Number = 2
	fieldCipherTextNonce protowire.Number = 3
	fieldRecipientBox    protowire.Number = 4
	fieldRecipientNonce  protowire.Number = 5
	fieldRecipientKey    protowire.Number = 6
)

// ErrMalformed is returned for payloads that are not a valid envelope.
var ErrMalformed = errors.New("malformed envelope")

// Encode serializes an envelope.
func Encode(e *domain.Envelope) []byte {
	var b []byte
	b = appendBytes(b, fieldSender, e.SenderKey[:])
	b = appendBytes(b, fieldCipherText, e.CipherText)
	b = appendBytes(b, fieldCipherTextNonce, e.CipherTextNonce)
	for _, box := range e.RecipientBoxes {
		b = protowire.AppendTag(b, fieldRecipientBox, protowire.BytesType)
		b = protowire.AppendBytes(b, box)
	}
	b = appendBytes(b, fieldRecipientNonce, e.RecipientNonce)
	for _, k := range e.RecipientKeys {
		b = protowire.AppendTag(b, fieldRecipientKey, protowire.BytesType)
		b = protowire.AppendBytes(b, k[:])
	}
	return b
}

// appendBytes writes a singular field, omitting empty values.
func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Decode parses an encoded envelope. Unknown fields are skipped.
func Decode(data []byte) (*domain.Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	e := &domain.Envelope{}
	var sawSender bool
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType || num < fieldSender || num > fieldRecipientKey {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldSender:
			key, err := domain.PublicKeyFromBytes(v)
			if err != nil {
				return nil, fmt.Errorf("%w: sender: %v", ErrMalformed, err)
			}
			e.SenderKey = key
			sawSender = true
		case fieldCipherText:
			e.CipherText = clone(v)
		case fieldCipherTextNonce:
			e.CipherTextNonce = clone(v)
		case fieldRecipientBox:
			e.RecipientBoxes = append(e.RecipientBoxes, clone(v))
		case fieldRecipientNonce:
			e.RecipientNonce = clone(v)
		case fieldRecipientKey:
			key, err := domain.PublicKeyFromBytes(v)
			if err != nil {
				return nil, fmt.Errorf("%w: recipient: %v", ErrMalformed, err)
			}
			e.RecipientKeys = append(e.RecipientKeys, key)
		}
	}

	if !sawSender {
		return nil, fmt.Errorf("%w: missing sender key", ErrMalformed)
	}
	if len(e.CipherText) == 0 {
		return nil, fmt.Errorf("%w: missing cipher text", ErrMalformed)
	}
	return e, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
