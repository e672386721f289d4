package p2p

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txrecover/internal/resync/recovery"
)

// RequestIDHeader carries a per-call id for log correlation.
const RequestIDHeader = "X-Request-ID"

// RESTClient calls peers over JSON/HTTP.
type RESTClient struct {
	httpClient *http.Client
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates a client. tlsConfig may be nil.
func NewRESTClient(timeout time.Duration, tlsConfig *tls.Config) *RESTClient {
	return &RESTClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:     tlsConfig,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// PushBatch sends payloads to the peer's staging area.
func (c *RESTClient) PushBatch(ctx context.Context, target string, req recovery.PushBatchRequest) error {
	return c.post(ctx, target, "/pushBatch", req, nil)
}

// ResendBatch asks the peer to republish everything addressed to a key.
func (c *RESTClient) ResendBatch(
	ctx context.Context,
	target string,
	req recovery.ResendBatchRequest,
) (recovery.ResendBatchResponse, error) {
	var resp recovery.ResendBatchResponse
	err := c.post(ctx, target, "/resendBatch", req, &resp)
	return resp, err
}

func (c *RESTClient) post(ctx context.Context, target, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(target, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
