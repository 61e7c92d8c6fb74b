package identity

import (
	"context"
	"net/http"

	"github.com/next-trace/scg-api-bus/router"
)

// Service name and request queue of the identity service.
const (
	ServiceName  = "identity"
	RequestQueue = "api.identity.request"
)

// Routes returns the identity service route table entries.
func Routes(s *Service) []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/api/users", Handler: router.HandlerFunc(s.serveList)},
		{Method: http.MethodPost, Pattern: "/api/users", Handler: router.HandlerFunc(s.serveCreate)},
		{Method: http.MethodGet, Pattern: "/api/users/{id:int}", Handler: router.HandlerFunc(s.serveGet)},
		{Method: http.MethodPut, Pattern: "/api/users/{id:int}", Handler: router.HandlerFunc(s.serveUpdate)},
		{Method: http.MethodDelete, Pattern: "/api/users/{id:int}", Handler: router.HandlerFunc(s.serveDelete)},
	}
}

func (s *Service) serveList(ctx context.Context, _ *router.Request) (*router.Reply, error) {
	us, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	return router.OK(us), nil
}

func (s *Service) serveGet(ctx context.Context, r *router.Request) (*router.Reply, error) {
	u, err := s.Get(ctx, r.Params.Int64("id"))
	if err != nil {
		return nil, err
	}

	return router.OK(u), nil
}

func (s *Service) serveCreate(ctx context.Context, r *router.Request) (*router.Reply, error) {
	var in UserInput
	if err := r.Bind(&in); err != nil {
		return nil, err
	}

	u, err := s.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	return router.Created(u), nil
}

func (s *Service) serveUpdate(ctx context.Context, r *router.Request) (*router.Reply, error) {
	var in UserUpdate
	if err := r.Bind(&in); err != nil {
		return nil, err
	}

	u, err := s.Update(ctx, r.Params.Int64("id"), in)
	if err != nil {
		return nil, err
	}

	return router.OK(u), nil
}

func (s *Service) serveDelete(ctx context.Context, r *router.Request) (*router.Reply, error) {
	if err := s.Delete(ctx, r.Params.Int64("id")); err != nil {
		return nil, err
	}

	return router.NoContent(), nil
}
