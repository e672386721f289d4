package staging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/txrecover/internal/core/codec"
	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/storage/memory"
)

func payload(ct string) []byte {
	var sender domain.PublicKey
	sender[0] = 1
	return codec.Encode(&domain.Envelope{SenderKey: sender, CipherText: []byte(ct)})
}

func newStore() *Store {
	return NewStore(memory.NewStagingRepo(memory.NewMemoryStorage()))
}

// ===== Mock =====

type failingRepo struct {
	*memory.StagingRepo
	failAfter int
	saves     int
}

func (r *failingRepo) Save(ctx context.Context, rec *domain.StagingRecord) (bool, error) {
	r.saves++
	if r.saves > r.failAfter {
		return false, errors.New("disk full")
	}
	return r.StagingRepo.Save(ctx, rec)
}

// gatedRepo parks the first Save until release is closed and records the
// order in which records reach the repository.
type gatedRepo struct {
	*memory.StagingRepo
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	order []string
	once  sync.Once
}

func (r *gatedRepo) Save(ctx context.Context, rec *domain.StagingRecord) (bool, error) {
	r.mu.Lock()
	r.order = append(r.order, string(rec.Envelope.CipherText))
	r.mu.Unlock()

	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return r.StagingRepo.Save(ctx, rec)
}

func (r *gatedRepo) saved() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestStageBatch_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	batch := [][]byte{payload("a")}

	n, err := s.StageBatch(ctx, batch)
	if err != nil || n != 1 {
		t.Fatalf("first batch: inserted=%d err=%v", n, err)
	}
	n, err = s.StageBatch(ctx, batch)
	if err != nil {
		t.Fatalf("second batch failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected re-staging to insert nothing, got %d", n)
	}

	count, _ := s.Count(ctx)
	if count != 1 {
		t.Errorf("expected 1 staged record, got %d", count)
	}
}

func TestStageBatch_DecodeFailureAbortsRemainder(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	batch := [][]byte{payload("a"), {0xff, 0x01}, payload("c")}
	n, err := s.StageBatch(ctx, batch)
	if !errors.Is(err, codec.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	var pe *PayloadError
	if !errors.As(err, &pe) || pe.Index != 1 {
		t.Errorf("expected failure at index 1, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 insert before the failure, got %d", n)
	}

	count, _ := s.Count(ctx)
	if count != 1 {
		t.Errorf("expected payload after the failure to be skipped, got %d records", count)
	}
}

func TestStageBatch_StoreFailure(t *testing.T) {
	repo := &failingRepo{StagingRepo: memory.NewStagingRepo(memory.NewMemoryStorage()), failAfter: 1}
	s := NewStore(repo)

	_, err := s.StageBatch(context.Background(), [][]byte{payload("a"), payload("b")})
	if err == nil || errors.Is(err, codec.ErrMalformed) {
		t.Fatalf("expected store failure, got %v", err)
	}
}

func TestStageBatch_ConcurrentDisjoint(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for w := 0; w < 2; w++ {
		batch := make([][]byte, 50)
		for i := range batch {
			batch[i] = payload(fmt.Sprintf("w%d-%d", w, i))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.StageBatch(ctx, batch); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("StageBatch failed: %v", err)
	}

	count, _ := s.Count(ctx)
	if count != 100 {
		t.Errorf("expected union of 100 records, got %d", count)
	}
}

func TestStageBatch_BatchesDoNotInterleave(t *testing.T) {
	ctx := context.Background()
	repo := &gatedRepo{
		StagingRepo: memory.NewStagingRepo(memory.NewMemoryStorage()),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	s := NewStore(repo)

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.StageBatch(ctx, [][]byte{payload("a1"), payload("a2")})
		firstDone <- err
	}()
	<-repo.entered

	secondDone := make(chan error, 1)
	go func() {
		_, err := s.StageBatch(ctx, [][]byte{payload("b1")})
		secondDone <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if got := repo.saved(); len(got) != 1 {
		t.Fatalf("second batch reached the repository while the first was in flight: %v", got)
	}

	close(repo.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second batch failed: %v", err)
	}

	want := []string{"a1", "a2", "b1"}
	got := repo.saved()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected save order %v, got %v", want, got)
	}
}

func TestGetAndPrune(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	now := time.Now()

	s.now = func() time.Time { return now.Add(-2 * time.Hour) }
	s.StageBatch(ctx, [][]byte{payload("old")})
	s.now = func() time.Time { return now }
	s.StageBatch(ctx, [][]byte{payload("new")})

	h, _ := domain.ComputeHash([]byte("new"))
	rec, err := s.Get(ctx, h)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(rec.Envelope.CipherText) != "new" {
		t.Errorf("expected decoded envelope, got %+v", rec.Envelope)
	}

	n, err := s.Prune(ctx, now.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Errorf("expected 1 pruned record, got %d, %v", n, err)
	}
}
