package order

import (
	"context"
	"net/http"

	"github.com/next-trace/scg-api-bus/router"
)

// Service name and request queue of the order service.
const (
	ServiceName  = "order"
	RequestQueue = "api.order.request"
)

type statusInput struct {
	Status string `json:"status"`
}

// Routes returns the order service route table entries.
func Routes(s *Service) []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/api/orders", Handler: router.HandlerFunc(s.serveList)},
		{Method: http.MethodPost, Pattern: "/api/orders", Handler: router.HandlerFunc(s.serveCreate)},
		{Method: http.MethodGet, Pattern: "/api/orders/{id:int}", Handler: router.HandlerFunc(s.serveGet)},
		{Method: http.MethodDelete, Pattern: "/api/orders/{id:int}", Handler: router.HandlerFunc(s.serveDelete)},
		{Method: http.MethodGet, Pattern: "/api/orders/user/{userId:int}", Handler: router.HandlerFunc(s.serveListByUser)},
		{Method: http.MethodPut, Pattern: "/api/orders/{id:int}/status", Handler: router.HandlerFunc(s.serveUpdateStatus)},
	}
}

func (s *Service) serveList(ctx context.Context, _ *router.Request) (*router.Reply, error) {
	orders, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	return router.OK(orders), nil
}

func (s *Service) serveListByUser(ctx context.Context, r *router.Request) (*router.Reply, error) {
	orders, err := s.ListByUser(ctx, r.Params.Int64("userId"))
	if err != nil {
		return nil, err
	}

	return router.OK(orders), nil
}

func (s *Service) serveGet(ctx context.Context, r *router.Request) (*router.Reply, error) {
	o, err := s.Get(ctx, r.Params.Int64("id"))
	if err != nil {
		return nil, err
	}

	return router.OK(o), nil
}

func (s *Service) serveCreate(ctx context.Context, r *router.Request) (*router.Reply, error) {
	var in CreateInput
	if err := r.Bind(&in); err != nil {
		return nil, err
	}

	o, err := s.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	return router.Created(o), nil
}

func (s *Service) serveUpdateStatus(ctx context.Context, r *router.Request) (*router.Reply, error) {
	var in statusInput
	if err := r.Bind(&in); err != nil {
		return nil, err
	}

	o, err := s.UpdateStatus(ctx, r.Params.Int64("id"), in.Status)
	if err != nil {
		return nil, err
	}

	return router.OK(o), nil
}

func (s *Service) serveDelete(ctx context.Context, r *router.Request) (*router.Reply, error) {
	if err := s.Delete(ctx, r.Params.Int64("id")); err != nil {
		return nil, err
	}

	return router.NoContent(), nil
}
