package directory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/txrecover/internal/core/domain"
)

func key(b byte) domain.PublicKey {
	var k domain.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

// ===== Mock =====

type countingDirectory struct {
	calls atomic.Int32
	url   string
	err   error
}

func (d *countingDirectory) Resolve(ctx context.Context, k domain.PublicKey) (string, error) {
	d.calls.Add(1)
	return d.url, d.err
}

func TestStatic(t *testing.T) {
	dir := Static{key(1): "http://a"}

	url, err := dir.Resolve(context.Background(), key(1))
	if err != nil || url != "http://a" {
		t.Errorf("expected http://a, got %q, %v", url, err)
	}
	if _, err := dir.Resolve(context.Background(), key(2)); !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("expected ErrUnknownRecipient, got %v", err)
	}
}

func TestChain(t *testing.T) {
	broken := &countingDirectory{err: errors.New("boom")}

	chain := Chain{Static{key(1): "http://a"}, Static{key(2): "http://b"}}
	url, err := chain.Resolve(context.Background(), key(2))
	if err != nil || url != "http://b" {
		t.Errorf("expected fallthrough to http://b, got %q, %v", url, err)
	}

	chain = Chain{Static{}, broken, Static{key(1): "http://a"}}
	if _, err := chain.Resolve(context.Background(), key(1)); err == nil || errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("expected lookup failure to stop the chain, got %v", err)
	}
}

func TestHTTP(t *testing.T) {
	known := key(7)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoded := strings.TrimPrefix(r.URL.Path, "/keys/")
		raw, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			http.Error(w, "bad key", http.StatusBadRequest)
			return
		}
		if domain.PublicKey(raw) != known {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(lookupResponse{URL: "http://peer-7"})
	}))
	defer srv.Close()

	dir := NewHTTP(srv.URL+"/", srv.Client())

	url, err := dir.Resolve(context.Background(), known)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if url != "http://peer-7" {
		t.Errorf("expected http://peer-7, got %s", url)
	}

	if _, err := dir.Resolve(context.Background(), key(8)); !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("expected ErrUnknownRecipient, got %v", err)
	}
}

func TestCached(t *testing.T) {
	inner := &countingDirectory{url: "http://a"}
	dir := NewCached(inner, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := dir.Resolve(context.Background(), key(1)); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream lookup, got %d", n)
	}

	inner.err = ErrUnknownRecipient
	if _, err := dir.Resolve(context.Background(), key(2)); !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("expected ErrUnknownRecipient, got %v", err)
	}
	if _, err := dir.Resolve(context.Background(), key(2)); err == nil {
		t.Error("failures should not be cached")
	}
}
