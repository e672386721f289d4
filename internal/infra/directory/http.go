package directory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/txrecover/internal/core/domain"
)

// HTTP resolves keys against a remote directory service:
// GET {base}/keys/{base64url key} -> {"url": "..."}.
type HTTP struct {
	base   string
	client *http.Client
}

// NewHTTP creates a directory client. A nil client gets a 10s timeout default.
func NewHTTP(base string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTP{base: strings.TrimRight(base, "/"), client: client}
}

type lookupResponse struct {
	URL string `json:"url"`
}

func (h *HTTP) Resolve(ctx context.Context, key domain.PublicKey) (string, error) {
	endpoint := fmt.Sprintf("%s/keys/%s", h.base, base64.RawURLEncoding.EncodeToString(key[:]))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("directory lookup failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrUnknownRecipient, key.Short())
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("directory lookup failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode directory response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownRecipient, key.Short())
	}
	return out.URL, nil
}
