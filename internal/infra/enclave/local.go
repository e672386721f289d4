package enclave

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/vietddude/txrecover/internal/core/domain"
)

const nonceSize = 24

// KeyPair is a box key pair.
type KeyPair struct {
	Public  domain.PublicKey
	Private [32]byte
}

// GenerateKeyPair creates a fresh box key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return KeyPair{Public: domain.PublicKey(*pub), Private: *priv}, nil
}

// ParseKeyPair decodes base64 public and private keys.
func ParseKeyPair(public, private string) (KeyPair, error) {
	pub, err := domain.ParsePublicKey(public)
	if err != nil {
		return KeyPair{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(private)
	if err != nil || len(raw) != 32 {
		return KeyPair{}, fmt.Errorf("%w: private key for %s", domain.ErrInvalidKey, pub.Short())
	}
	kp := KeyPair{Public: pub}
	copy(kp.Private[:], raw)
	return kp, nil
}

// PrivateString returns the base64 private key.
func (kp KeyPair) PrivateString() string {
	return base64.StdEncoding.EncodeToString(kp.Private[:])
}

// Local is an in-process enclave backed by NaCl box keys.
type Local struct {
	mu   sync.RWMutex
	keys map[domain.PublicKey]KeyPair
	// order preserves configuration order for PublicKeys
	order []domain.PublicKey
}

var _ Enclave = (*Local)(nil)

// NewLocal creates an enclave holding the given key pairs.
func NewLocal(pairs ...KeyPair) *Local {
	l := &Local{keys: make(map[domain.PublicKey]KeyPair)}
	for _, kp := range pairs {
		l.Add(kp)
	}
	return l
}

// Add registers another key pair.
func (l *Local) Add(kp KeyPair) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.keys[kp.Public]; !ok {
		l.order = append(l.order, kp.Public)
	}
	l.keys[kp.Public] = kp
}

func (l *Local) Status(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.keys) == 0 {
		return fmt.Errorf("%w: no keys loaded", ErrUnavailable)
	}
	return nil
}

func (l *Local) PublicKeys() []domain.PublicKey {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.PublicKey, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Local) pair(key domain.PublicKey) (KeyPair, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	kp, ok := l.keys[key]
	return kp, ok
}

// RecipientBox checks the recipient list first. Envelopes without one are
// resolved by opening each box with the shared key between sender and key,
// which needs either side's private key.
func (l *Local) RecipientBox(ctx context.Context, env *domain.Envelope, key domain.PublicKey) (int, error) {
	if len(env.RecipientKeys) > 0 {
		return env.RecipientIndex(key), nil
	}
	return l.findBox(env, key), nil
}

// findBox returns the index of the box sealed between sender and key, or NoBox.
func (l *Local) findBox(env *domain.Envelope, key domain.PublicKey) int {
	var peer, priv [32]byte
	if sender, ok := l.pair(env.SenderKey); ok {
		peer, priv = key, sender.Private
	} else if recipient, ok := l.pair(key); ok {
		peer, priv = env.SenderKey, recipient.Private
	} else {
		return NoBox
	}

	nonce, ok := toNonce(env.RecipientNonce)
	if !ok {
		return NoBox
	}
	for i, sealed := range env.RecipientBoxes {
		if _, ok := box.Open(nil, sealed, &nonce, &peer, &priv); ok {
			return i
		}
	}
	return NoBox
}

// Seal encrypts plaintext from sender to every recipient.
func (l *Local) Seal(plaintext []byte, sender domain.PublicKey, recipients []domain.PublicKey) (*domain.Envelope, error) {
	kp, ok := l.pair(sender)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, sender.Short())
	}

	var masterKey [32]byte
	var ctNonce, rcptNonce [nonceSize]byte
	for _, buf := range [][]byte{masterKey[:], ctNonce[:], rcptNonce[:]} {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return nil, fmt.Errorf("failed to read randomness: %w", err)
		}
	}

	env := &domain.Envelope{
		SenderKey:       sender,
		CipherText:      secretbox.Seal(nil, plaintext, &ctNonce, &masterKey),
		CipherTextNonce: ctNonce[:],
		RecipientNonce:  rcptNonce[:],
	}
	for _, r := range recipients {
		peer := [32]byte(r)
		env.RecipientBoxes = append(env.RecipientBoxes, box.Seal(nil, masterKey[:], &rcptNonce, &peer, &kp.Private))
		env.RecipientKeys = append(env.RecipientKeys, r)
	}
	return env, nil
}

// Open decrypts env for a local key, which may be the sender or a recipient.
func (l *Local) Open(env *domain.Envelope, key domain.PublicKey) ([]byte, error) {
	if _, ok := l.pair(key); !ok {
		if _, ok := l.pair(env.SenderKey); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key.Short())
		}
	}

	idx := env.RecipientIndex(key)
	if idx == NoBox {
		idx = l.findBox(env, key)
	}
	if idx == NoBox {
		return nil, fmt.Errorf("%w: %s", ErrNotRecipient, key.Short())
	}

	master, err := l.openBox(env, key, env.RecipientBoxes[idx])
	if err != nil {
		return nil, err
	}
	ctNonce, ok := toNonce(env.CipherTextNonce)
	if !ok {
		return nil, fmt.Errorf("%w: bad cipher text nonce", ErrDecryptFailed)
	}
	plain, ok := secretbox.Open(nil, env.CipherText, &ctNonce, &master)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

func (l *Local) openBox(env *domain.Envelope, key domain.PublicKey, sealed []byte) ([32]byte, error) {
	var master [32]byte
	nonce, ok := toNonce(env.RecipientNonce)
	if !ok {
		return master, fmt.Errorf("%w: bad recipient nonce", ErrDecryptFailed)
	}

	var peer, priv [32]byte
	if recipient, ok := l.pair(key); ok {
		peer, priv = env.SenderKey, recipient.Private
	} else {
		sender, _ := l.pair(env.SenderKey)
		peer, priv = key, sender.Private
	}

	out, ok := box.Open(nil, sealed, &nonce, &peer, &priv)
	if !ok || len(out) != len(master) {
		return master, ErrDecryptFailed
	}
	copy(master[:], out)
	return master, nil
}

func toNonce(b []byte) ([nonceSize]byte, bool) {
	var n [nonceSize]byte
	if len(b) != nonceSize {
		return n, false
	}
	copy(n[:], b)
	return n, true
}
