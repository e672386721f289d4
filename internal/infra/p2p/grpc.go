package p2p

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vietddude/txrecover/internal/resync/recovery"
)

const serviceName = "txrecover.p2p.Recovery"

const (
	methodResendBatch = "/" + serviceName + "/ResendBatch"
	methodPushBatch   = "/" + serviceName + "/PushBatch"
)

// Handler serves recovery requests. recovery.Manager implements it.
type Handler interface {
	ResendBatch(ctx context.Context, req recovery.ResendBatchRequest) (recovery.ResendBatchResponse, error)
	StoreBatch(ctx context.Context, req recovery.PushBatchRequest) error
}

// jsonCodec keeps gRPC messages in the same JSON shape as the REST API.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

type empty struct{}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ResendBatch", Handler: resendBatchHandler},
		{MethodName: "PushBatch", Handler: pushBatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "txrecover/p2p",
}

func resendBatchHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(recovery.ResendBatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(Handler).ResendBatch(ctx, *req.(*recovery.ResendBatchRequest))
		if err != nil {
			return nil, toStatus(err)
		}
		return &resp, nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodResendBatch}
	return interceptor(ctx, in, info, call)
}

func pushBatchHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(recovery.PushBatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		if err := srv.(Handler).StoreBatch(ctx, *req.(*recovery.PushBatchRequest)); err != nil {
			return nil, toStatus(err)
		}
		return &empty{}, nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPushBatch}
	return interceptor(ctx, in, info, call)
}

// toStatus maps recovery errors onto gRPC codes. Validation failures carry
// a BadRequest detail naming the field.
func toStatus(err error) error {
	var ve *recovery.ValidationError
	switch {
	case errors.As(err, &ve):
		st := status.New(codes.InvalidArgument, err.Error())
		if detailed, derr := st.WithDetails(&errdetails.BadRequest{
			FieldViolations: []*errdetails.BadRequest_FieldViolation{
				{Field: ve.Field, Description: ve.Reason},
			},
		}); derr == nil {
			st = detailed
		}
		return st.Err()
	case errors.Is(err, recovery.ErrDecode):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, recovery.ErrTransport):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// FieldViolations extracts the BadRequest detail of a gRPC error, if any.
func FieldViolations(err error) map[string]string {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for _, d := range st.Details() {
		if br, ok := d.(*errdetails.BadRequest); ok {
			for _, v := range br.GetFieldViolations() {
				out[v.GetField()] = v.GetDescription()
			}
		}
	}
	return out
}

// GRPCServer exposes a Handler over gRPC.
type GRPCServer struct {
	server *grpc.Server
	addr   string
}

// NewGRPCServer creates a server listening on port. tlsConfig may be nil.
func NewGRPCServer(h Handler, port int, tlsConfig *tls.Config) *GRPCServer {
	opts := []grpc.ServerOption{grpc.ForceServerCodec(jsonCodec{})}
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&serviceDesc, h)
	return &GRPCServer{server: srv, addr: fmt.Sprintf(":%d", port)}
}

// Start listens on the configured port and blocks until Stop.
func (s *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Stop drains in-flight calls until ctx expires.
func (s *GRPCServer) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}

// GRPCClient calls peers over gRPC, keeping one connection per target.
type GRPCClient struct {
	creds credentials.TransportCredentials

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

var _ Client = (*GRPCClient)(nil)

// NewGRPCClient creates a client. tlsConfig may be nil.
func NewGRPCClient(tlsConfig *tls.Config) *GRPCClient {
	creds := insecure.NewCredentials()
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}
	return &GRPCClient{creds: creds, conns: make(map[string]*grpc.ClientConn)}
}

func (c *GRPCClient) conn(target string) (*grpc.ClientConn, error) {
	for _, scheme := range []string{"grpc://", "https://", "http://"} {
		target = strings.TrimPrefix(target, scheme)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[target]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(target, grpc.WithTransportCredentials(c.creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	c.conns[target] = cc
	return cc, nil
}

func (c *GRPCClient) PushBatch(ctx context.Context, target string, req recovery.PushBatchRequest) error {
	cc, err := c.conn(target)
	if err != nil {
		return err
	}
	return cc.Invoke(ctx, methodPushBatch, &req, &empty{}, grpc.ForceCodec(jsonCodec{}))
}

func (c *GRPCClient) ResendBatch(
	ctx context.Context,
	target string,
	req recovery.ResendBatchRequest,
) (recovery.ResendBatchResponse, error) {
	var resp recovery.ResendBatchResponse
	cc, err := c.conn(target)
	if err != nil {
		return resp, err
	}
	err = cc.Invoke(ctx, methodResendBatch, &req, &resp, grpc.ForceCodec(jsonCodec{}))
	return resp, err
}

// Close closes every cached connection.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for target, cc := range c.conns {
		if err := cc.Close(); err != nil {
			slog.Warn("Failed to close grpc connection", "target", target, "error", err)
		}
		delete(c.conns, target)
	}
	return nil
}
