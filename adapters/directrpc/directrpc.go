/*
Package directrpc carries request envelopes over a direct gRPC connection instead of the
broker. Messages are the JSON envelopes themselves, so no generated stubs are involved:
the service is described by a hand-written grpc.ServiceDesc and a JSON codec is forced on
both ends.
*/
package directrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	"github.com/next-trace/scg-api-bus/contract/envelope"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

const (
	serviceName = "scg.api.Envelope"
	callMethod  = "/" + serviceName + "/Call"
)

// Codec marshals envelopes as JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return "json" }

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*cbus.Handler)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Call",
		Handler:    handleCall,
	}},
	Metadata: "directrpc",
}

func handleCall(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(envelope.Request)
	if err := dec(req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request envelope: %v", err)
	}

	h := srv.(cbus.Handler)
	serve := func(ctx context.Context, r any) (any, error) {
		// In-flight requests run to completion even when the caller goes away.
		resp := h.Handle(context.WithoutCancel(ctx), *r.(*envelope.Request))
		return &resp, nil
	}

	if interceptor == nil {
		return serve(ctx, req)
	}

	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}, serve)
}

// Register installs h on s. s must have been created with the JSON codec, see NewServer.
func Register(s *grpc.Server, h cbus.Handler) { s.RegisterService(&serviceDesc, h) }

// NewServer creates a gRPC server speaking the JSON codec and serving h.
func NewServer(h cbus.Handler, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(append([]grpc.ServerOption{grpc.ForceServerCodec(Codec{})}, opts...)...)
	Register(s, h)

	return s
}

// Client calls a remote envelope service. It satisfies catalogclient.Invoker.
type Client struct {
	cc *grpc.ClientConn
}

// Dial creates a client for target. The connection is plaintext unless opts override the
// transport credentials; it is established lazily on the first call.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}

	cc, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("directrpc dial %s: %w", target, err)
	}

	return &Client{cc: cc}, nil
}

// Call sends req and returns the service response. Deadline and cancellation surface as
// the matching context errors; other transport failures wrap ErrConnectionLost.
func (c *Client) Call(ctx context.Context, req envelope.Request) (envelope.Response, error) {
	var resp envelope.Response

	err := c.cc.Invoke(ctx, callMethod, &req, &resp)
	if err == nil {
		return resp, nil
	}

	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return envelope.Response{}, context.DeadlineExceeded
	case codes.Canceled:
		return envelope.Response{}, context.Canceled
	default:
		return envelope.Response{}, fmt.Errorf("directrpc call %s: %w", req.Path, errors.Join(berr.ErrConnectionLost, err))
	}
}

// Close releases the connection.
func (c *Client) Close() error { return c.cc.Close() }
