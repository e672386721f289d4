package domain

import "time"

// EncryptedRecord is a transaction held in the primary store. Records are
// immutable; ID reflects insertion order and drives pagination.
type EncryptedRecord struct {
	ID        int64       `json:"id"`
	Hash      ContentHash `json:"hash"`
	Payload   []byte      `json:"payload"` // encoded envelope
	CreatedAt time.Time   `json:"created_at"`
}

// StagingRecord is an inbound payload waiting for admission.
type StagingRecord struct {
	Hash      ContentHash `json:"hash"`
	Envelope  *Envelope   `json:"-"`
	Payload   []byte      `json:"payload"`
	ArrivedAt time.Time   `json:"arrived_at"`
}
