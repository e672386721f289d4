package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/txrecover/internal/core/config"
)

// ===== Mock =====

type mockPruneable struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (m *mockPruneable) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	return 1, m.err
}

func (m *mockPruneable) calls() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.cutoffs...)
}

type mockLocker struct {
	held     bool
	acquired int
	released int
}

func (m *mockLocker) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.held {
		return false, nil
	}
	m.acquired++
	return true, nil
}

func (m *mockLocker) ReleaseLock(ctx context.Context, name string) error {
	m.released++
	return nil
}

func TestPruner_Lock(t *testing.T) {
	store := &mockPruneable{}
	locker := &mockLocker{held: true}
	p := NewPruner(config.StagingConfig{Retention: time.Hour}, store)
	p.SetLocker(locker)

	p.prune(context.Background())
	if len(store.calls()) != 0 {
		t.Fatalf("expected no prune while another node holds the lock, got %d", len(store.calls()))
	}

	locker.held = false
	p.prune(context.Background())
	if len(store.calls()) != 1 {
		t.Fatalf("expected one prune, got %d", len(store.calls()))
	}
	if locker.acquired != 1 || locker.released != 1 {
		t.Errorf("expected lock acquired and released once, got %d/%d", locker.acquired, locker.released)
	}
}

func TestPruner_Disabled(t *testing.T) {
	store := &mockPruneable{}
	p := NewPruner(config.StagingConfig{}, store)

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Start to return immediately when retention is disabled")
	}
	if len(store.calls()) != 0 {
		t.Errorf("expected no prune calls, got %d", len(store.calls()))
	}
}

func TestPruner_CutoffFromRetention(t *testing.T) {
	store := &mockPruneable{}
	p := NewPruner(config.StagingConfig{Retention: 2 * time.Hour, PruneInterval: time.Hour}, store)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for len(store.calls()) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected initial prune")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	want := now.Add(-2 * time.Hour)
	if got := store.calls()[0]; !got.Equal(want) {
		t.Errorf("expected cutoff %s, got %s", want, got)
	}
}

func TestPruner_ErrorDoesNotStopLoop(t *testing.T) {
	store := &mockPruneable{err: errors.New("db down")}
	p := NewPruner(config.StagingConfig{Retention: time.Minute, PruneInterval: time.Second}, store)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	p.Start(ctx)

	if n := len(store.calls()); n < 2 {
		t.Errorf("expected prune to keep running after errors, got %d calls", n)
	}
}
