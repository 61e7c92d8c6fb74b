/*
Package catalogclient implements the order service's view of the remote catalog on top of
request envelopes. The transport is an Invoker: broker RPC through rabbitmq.Caller or a
direct gRPC link through directrpc.Client. Guard adds a per-call timeout and a circuit
breaker in front of either.
*/
package catalogclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/next-trace/scg-api-bus/contract/catalog"
	"github.com/next-trace/scg-api-bus/contract/envelope"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// Invoker delivers one request envelope to the catalog service and returns its response.
// Implementations must be safe for concurrent use.
type Invoker interface {
	Call(ctx context.Context, req envelope.Request) (envelope.Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req envelope.Request) (envelope.Response, error)

func (f InvokerFunc) Call(ctx context.Context, req envelope.Request) (envelope.Response, error) {
	return f(ctx, req)
}

// Client implements catalog.Client.
type Client struct {
	inv Invoker
}

var _ catalog.Client = (*Client)(nil)

// New builds a Client over inv.
func New(inv Invoker) *Client { return &Client{inv: inv} }

// Product fetches a fresh snapshot. A 404 reply maps to ErrNotFound; transport failures
// and any other status map to ErrUpstream.
func (c *Client) Product(ctx context.Context, id int64) (catalog.ProductSnapshot, error) {
	resp, err := c.call(ctx, envelope.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/api/products/%d", id),
	})
	if err != nil {
		return catalog.ProductSnapshot{}, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return catalog.ProductSnapshot{}, fmt.Errorf("catalog product %d: %w", id, berr.ErrNotFound)
	default:
		return catalog.ProductSnapshot{}, unexpected("product", resp)
	}

	var snap catalog.ProductSnapshot
	if err := resp.DecodeData(&snap); err != nil {
		return catalog.ProductSnapshot{}, fmt.Errorf("catalog product %d: %w", id, errors.Join(berr.ErrUpstream, err))
	}

	return snap, nil
}

// AdjustStock sends the stock delta with adj.Key as idempotency key. A 409 reply means the
// catalog already applied this key and counts as success.
func (c *Client) AdjustStock(ctx context.Context, adj catalog.StockAdjustment) error {
	body, err := json.Marshal(adj.Delta)
	if err != nil {
		return fmt.Errorf("catalog stock body: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	resp, err := c.call(ctx, envelope.Request{
		Method:         http.MethodPatch,
		Path:           fmt.Sprintf("/api/products/%d/stock", adj.ProductID),
		Body:           body,
		IdempotencyKey: adj.Key,
	})
	if err != nil {
		return err
	}

	switch {
	case resp.OK(), resp.StatusCode == http.StatusConflict:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("catalog stock %d: %w", adj.ProductID, berr.ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest:
		return berr.Newf(berr.ErrValidation, "%s", resp.Message())
	default:
		return unexpected("stock", resp)
	}
}

func (c *Client) call(ctx context.Context, req envelope.Request) (envelope.Response, error) {
	req.CorrelationID = uuid.NewString()

	resp, err := c.inv.Call(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return envelope.Response{}, err
		}

		return envelope.Response{}, fmt.Errorf("catalog %s %s: %w", req.Method, req.Path, errors.Join(berr.ErrUpstream, err))
	}

	return resp, nil
}

func unexpected(op string, resp envelope.Response) error {
	return fmt.Errorf("catalog %s: status %d %q: %w", op, resp.StatusCode, resp.Message(), berr.ErrUpstream)
}
