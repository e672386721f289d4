// Package p2p carries recovery requests between nodes over REST or gRPC.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/txrecover/internal/resync/recovery"
)

// ErrRejected marks a request the peer refused; sending it again will not help.
var ErrRejected = errors.New("rejected by peer")

// Client talks to the recovery endpoints of a peer.
type Client interface {
	PushBatch(ctx context.Context, target string, req recovery.PushBatchRequest) error
	ResendBatch(ctx context.Context, target string, req recovery.ResendBatchRequest) (recovery.ResendBatchResponse, error)
}

// StatusError is a non-2xx REST response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer returned status %d: %s", e.Code, e.Message)
}

// Is treats 4xx as a rejection, except timeouts and throttling.
func (e *StatusError) Is(target error) bool {
	if target != ErrRejected {
		return false
	}
	return e.Code >= 400 && e.Code < 500 && e.Code != 408 && e.Code != 429
}

// ErrorAction determines how a caller should handle a failed call.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFatal
)

// ClassifyError decides whether a failed call is worth repeating.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled) {
		return ActionFatal
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied,
			codes.Unauthenticated, codes.FailedPrecondition, codes.Unimplemented:
			return ActionFatal
		}
		return ActionRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ActionRetry
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "certificate") || strings.Contains(s, "unsupported protocol scheme") {
		return ActionFatal
	}

	// Default to Retry (network, 5xx, etc)
	return ActionRetry
}
