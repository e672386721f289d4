package p2p

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/txrecover/internal/core/codec"
	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/storage"
	"github.com/vietddude/txrecover/internal/resync/recovery"
)

// ===== Mock =====

type mockHandler struct {
	mu        sync.Mutex
	resendReq recovery.ResendBatchRequest
	pushed    [][]byte
	resendErr error
	storeErr  error
}

func (h *mockHandler) ResendBatch(ctx context.Context, req recovery.ResendBatchRequest) (recovery.ResendBatchResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resendReq = req
	if h.resendErr != nil {
		return recovery.ResendBatchResponse{}, h.resendErr
	}
	return recovery.ResendBatchResponse{Total: 7}, nil
}

func (h *mockHandler) StoreBatch(ctx context.Context, req recovery.PushBatchRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.storeErr != nil {
		return h.storeErr
	}
	h.pushed = append(h.pushed, req.EncodedPayloads...)
	return nil
}

type mockStaging struct {
	n    int64
	recs map[domain.ContentHash]*domain.StagingRecord
}

func (m mockStaging) Count(ctx context.Context) (int64, error) { return m.n, nil }

func (m mockStaging) Get(ctx context.Context, hash domain.ContentHash) (*domain.StagingRecord, error) {
	rec, ok := m.recs[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

type mockClient struct {
	mu     sync.Mutex
	pushes []recovery.PushBatchRequest
	err    error
}

func (c *mockClient) PushBatch(ctx context.Context, target string, req recovery.PushBatchRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = append(c.pushes, req)
	return c.err
}

func (c *mockClient) ResendBatch(ctx context.Context, target string, req recovery.ResendBatchRequest) (recovery.ResendBatchResponse, error) {
	return recovery.ResendBatchResponse{}, c.err
}

// ===== REST =====

func newRESTPair(t *testing.T, h *mockHandler) (*RESTClient, string) {
	t.Helper()
	srv := NewServer(h, mockStaging{n: 4}, 0, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return NewRESTClient(5*time.Second, nil), ts.URL
}

func TestREST_RoundTrip(t *testing.T) {
	h := &mockHandler{}
	client, url := newRESTPair(t, h)
	ctx := context.Background()

	resp, err := client.ResendBatch(ctx, url, recovery.ResendBatchRequest{PublicKey: "key", BatchSize: 3})
	if err != nil {
		t.Fatalf("ResendBatch failed: %v", err)
	}
	if resp.Total != 7 {
		t.Errorf("expected total 7, got %d", resp.Total)
	}
	if h.resendReq.PublicKey != "key" || h.resendReq.BatchSize != 3 {
		t.Errorf("unexpected request at server: %+v", h.resendReq)
	}

	payload := []byte{0x01, 0x02, 0x03}
	if err := client.PushBatch(ctx, url, recovery.PushBatchRequest{EncodedPayloads: [][]byte{payload}}); err != nil {
		t.Fatalf("PushBatch failed: %v", err)
	}
	if len(h.pushed) != 1 || string(h.pushed[0]) != string(payload) {
		t.Errorf("unexpected pushed payloads: %v", h.pushed)
	}
}

func TestREST_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantReject bool
	}{
		{"validation", &recovery.ValidationError{Field: "batchSize", Reason: "must be positive"}, http.StatusBadRequest, true},
		{"decode", &recovery.DecodeError{Err: errors.New("bad")}, http.StatusBadRequest, true},
		{"transport", &recovery.TransportError{Err: errors.New("down")}, http.StatusBadGateway, false},
		{"store", &recovery.StoreError{Op: "count", Err: errors.New("db")}, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, url := newRESTPair(t, &mockHandler{resendErr: tt.err})

			_, err := client.ResendBatch(context.Background(), url, recovery.ResendBatchRequest{BatchSize: 1})
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			if se.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, se.Code)
			}
			if errors.Is(err, ErrRejected) != tt.wantReject {
				t.Errorf("ErrRejected = %v, want %v", !tt.wantReject, tt.wantReject)
			}
		})
	}
}

func TestServer_HealthAndCount(t *testing.T) {
	srv := NewServer(&mockHandler{}, mockStaging{n: 4}, 0, nil)
	srv.AddHealthCheck("store", func(ctx context.Context) error { return nil })
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	srv.AddHealthCheck("enclave", func(ctx context.Context) error { return errors.New("offline") })
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/staging/count")
	if err != nil {
		t.Fatalf("GET /staging/count failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_StagingGet(t *testing.T) {
	var sender, recipient domain.PublicKey
	sender[0], recipient[0] = 1, 2
	env := &domain.Envelope{SenderKey: sender, CipherText: []byte("staged"), RecipientKeys: []domain.PublicKey{recipient}}
	hash, _ := env.Hash()
	staged := mockStaging{n: 1, recs: map[domain.ContentHash]*domain.StagingRecord{
		hash: {Hash: hash, Envelope: env, Payload: codec.Encode(env), ArrivedAt: time.Now()},
	}}

	ts := httptest.NewServer(NewServer(&mockHandler{}, staged, 0, nil).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/staging/" + base64.RawURLEncoding.EncodeToString(hash.Bytes()))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body stagedRecord
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Hash != hash || body.Sender != sender || len(body.Recipients) != 1 || body.Recipients[0] != recipient {
		t.Errorf("unexpected staged record: %+v", body)
	}

	other, _ := domain.ComputeHash([]byte("other"))
	tests := []struct {
		path string
		want int
	}{
		{"/staging/" + base64.RawURLEncoding.EncodeToString(other.Bytes()), http.StatusNotFound},
		{"/staging/not-a-hash", http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Get(ts.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.want, resp.StatusCode)
		}
	}
}

func TestServer_BadBody(t *testing.T) {
	ts := httptest.NewServer(NewServer(&mockHandler{}, mockStaging{}, 0, nil).Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/pushBatch", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// ===== gRPC =====

func newGRPCPair(t *testing.T, h *mockHandler) (*GRPCClient, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	srv := NewGRPCServer(h, 0, nil)
	go srv.Serve(lis)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	client := NewGRPCClient(nil)
	t.Cleanup(func() { client.Close() })
	return client, "grpc://" + lis.Addr().String()
}

func TestGRPC_RoundTrip(t *testing.T) {
	h := &mockHandler{}
	client, target := newGRPCPair(t, h)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.ResendBatch(ctx, target, recovery.ResendBatchRequest{PublicKey: "k", BatchSize: 2})
	if err != nil {
		t.Fatalf("ResendBatch failed: %v", err)
	}
	if resp.Total != 7 {
		t.Errorf("expected total 7, got %d", resp.Total)
	}

	if err := client.PushBatch(ctx, target, recovery.PushBatchRequest{EncodedPayloads: [][]byte{{9}}}); err != nil {
		t.Fatalf("PushBatch failed: %v", err)
	}
	if len(h.pushed) != 1 || h.pushed[0][0] != 9 {
		t.Errorf("unexpected pushed payloads: %v", h.pushed)
	}
}

func TestGRPC_ValidationDetails(t *testing.T) {
	h := &mockHandler{resendErr: &recovery.ValidationError{Field: "batchSize", Reason: "must be positive"}}
	client, target := newGRPCPair(t, h)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.ResendBatch(ctx, target, recovery.ResendBatchRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if v := FieldViolations(err); v["batchSize"] != "must be positive" {
		t.Errorf("expected field violation for batchSize, got %v", v)
	}
	if ClassifyError(err) != ActionFatal {
		t.Error("expected validation failure to be fatal")
	}
}

// ===== Classification & Publisher =====

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorAction
	}{
		{"rejected", &StatusError{Code: 400}, ActionFatal},
		{"throttled", &StatusError{Code: 429}, ActionRetry},
		{"timeout status", &StatusError{Code: 408}, ActionRetry},
		{"server error", &StatusError{Code: 503}, ActionRetry},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), ActionRetry},
		{"grpc not found", status.Error(codes.NotFound, "gone"), ActionFatal},
		{"canceled", context.Canceled, ActionFatal},
		{"generic", errors.New("connection reset by peer"), ActionRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPublisher_PushesSinglePayload(t *testing.T) {
	client := &mockClient{}
	pub := NewPublisher(client, "rest", WithTimeout(time.Second), WithRateLimit(1000, 1))

	var sender, recipient domain.PublicKey
	sender[0], recipient[0] = 1, 2
	env := &domain.Envelope{SenderKey: sender, CipherText: []byte("ct")}

	if err := pub.Publish(context.Background(), "http://peer", env, recipient); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(client.pushes) != 1 || len(client.pushes[0].EncodedPayloads) != 1 {
		t.Fatalf("expected one single-payload push, got %+v", client.pushes)
	}
	decoded, err := codec.Decode(client.pushes[0].EncodedPayloads[0])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !decoded.Equal(env) {
		t.Error("pushed payload does not match envelope")
	}

	client.err = errors.New("refused")
	if err := pub.Publish(context.Background(), "http://peer", env, recipient); err == nil {
		t.Error("expected publish failure to surface")
	}
}
