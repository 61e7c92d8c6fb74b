package catalog

import (
	"context"
	"encoding/json"
	"net/http"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
	"github.com/next-trace/scg-api-bus/router"
)

// Service name and request queue of the catalog service.
const (
	ServiceName  = "catalog"
	RequestQueue = "api.catalog.request"
)

type tagsInput struct {
	Tags []string `json:"tags"`
}

type stockReply struct {
	Message string `json:"message"`
	Stock   int    `json:"stock"`
}

// Routes returns the catalog service route table entries.
func Routes(s *Service) []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/api/products", Handler: router.HandlerFunc(s.serveList)},
		{Method: http.MethodPost, Pattern: "/api/products", Handler: router.HandlerFunc(s.serveCreate)},
		{Method: http.MethodGet, Pattern: "/api/products/category/{category}", Handler: router.HandlerFunc(s.serveByCategory)},
		{Method: http.MethodGet, Pattern: "/api/products/{id:int}", Handler: router.HandlerFunc(s.serveGet)},
		{Method: http.MethodPut, Pattern: "/api/products/{id:int}", Handler: router.HandlerFunc(s.serveUpdate)},
		{Method: http.MethodDelete, Pattern: "/api/products/{id:int}", Handler: router.HandlerFunc(s.serveDelete)},
		{Method: http.MethodPatch, Pattern: "/api/products/{id:int}/stock", Handler: router.HandlerFunc(s.serveStock)},
		{Method: http.MethodPut, Pattern: "/api/products/{id:int}/discount", Handler: router.HandlerFunc(s.serveDiscount)},
		{Method: http.MethodPost, Pattern: "/api/products/{id:int}/tags", Handler: router.HandlerFunc(s.serveTags)},
		{Method: http.MethodGet, Pattern: "/api/products/{id:int}/reviews", Handler: router.HandlerFunc(s.serveReviews)},
		{Method: http.MethodPost, Pattern: "/api/products/{id:int}/reviews", Handler: router.HandlerFunc(s.serveAddReview)},
		{Method: http.MethodPut, Pattern: "/api/products/{id:int}/reviews/{reviewId:int}", Handler: router.HandlerFunc(s.serveUpdateReview)},
		{Method: http.MethodDelete, Pattern: "/api/products/{id:int}/reviews/{reviewId:int}", Handler: router.HandlerFunc(s.serveDeleteReview)},
	}
}

func (s *Service) serveList(ctx context.Context, _ *router.Request) (*router.Reply, error) {
	ps, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	return router.OK(ps), nil
}

func (s *Service) serveByCategory(ctx context.Context, r *router.Request) (*router.Reply, error) {
	ps, err := s.List(ctx, Filter{Category: r.Params.String("category")})
	if err != nil {
		return nil, err
	}

	return router.OK(ps), nil
}

func (s *Service) serveGet(ctx context.Context, r *router.Request) (*router.Reply, error) {
	p, err := s.Get(ctx, r.Params.Int64("id"))
	if err != nil {
		return nil, err
	}

	return router.OK(p), nil
}

func (s *Service) serveCreate(ctx context.Context, r *router.Request) (*router.Reply, error) {
	var in ProductInput
	if err := r.Bind(&in); err != nil {
		return nil, err
	}

	p, err := s.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	return router.Created(p), nil
}

func (s *Service) serveUpdate(ctx context.Context, r *router.Request) (*router.Reply, error) {
	var in ProductUpdate
	if err := r.Bind(&in); err != nil {
		return nil, err
	}

	p, err := s.Update(ctx, r.Params.Int64("id"), in)
	if err != nil {
		return nil, err
	}

	return router.OK(p), nil
}

func (s *Service) serveDelete(ctx context.Context, r *router.Request) (*router.Reply, error) {
	if err := s.Delete(ctx, r.Params.Int64("id")); err != nil {
		return nil, err
	}

	return router.NoContent(), nil
}

// serveStock expects a bare JSON integer body holding the stock delta.
func (s *Service) serveStock(ctx context.Context, r *router.Request) (*router.Reply, error) {
	if !r.HasBody() {
		return nil, berr.Newf(berr.ErrProtocol, "Request body is required")
	}

	var delta int
	if err := json.Unmarshal(r.Body, &delta); err != nil {
		return nil, berr.Newf(berr.ErrProtocol, "Invalid stock quantity")
	}

	stock, err := s.AdjustStock(ctx, r.Params.Int64("id"), delta)
	if err != nil {
		return nil, err
	}

	return router.OK(stockReply{Message: "Stock updated successfully", Stock: stock}), nil
}

func (s *Service) serveDiscount(ctx context.Context, r *router.Request) (*router.Reply, error) {
	var in DiscountInput
	if err := r.Bind(&in); err != nil {
		return nil, err
	}

	p, err := s.SetDiscount(ctx, r.Params.Int64("id"), in)
	if err != nil {
		return nil, err
	}

	return router.OK(p), nil
}

func (s *Service) serveTags(ctx context.Context, r *router.Request) (*router.Reply, error) {
	var in tagsInput
	if err := r.Bind(&in); err != nil {
		return nil, err
	}

	p, err := s.AddTags(ctx, r.Params.Int64("id"), in.Tags)
	if err != nil {
		return nil, err
	}

	return router.OK(p), nil
}

func (s *Service) serveReviews(ctx context.Context, r *router.Request) (*router.Reply, error) {
	rs, err := s.Reviews(ctx, r.Params.Int64("id"))
	if err != nil {
		return nil, err
	}

	return router.OK(rs), nil
}

func (s *Service) serveAddReview(ctx context.Context, r *router.Request) (*router.Reply, error) {
	var in ReviewInput
	if err := r.Bind(&in); err != nil {
		return nil, err
	}

	rv, err := s.AddReview(ctx, r.Params.Int64("id"), in)
	if err != nil {
		return nil, err
	}

	return router.Created(rv), nil
}

func (s *Service) serveUpdateReview(ctx context.Context, r *router.Request) (*router.Reply, error) {
	var in ReviewUpdate
	if err := r.Bind(&in); err != nil {
		return nil, err
	}

	rv, err := s.UpdateReview(ctx, r.Params.Int64("id"), r.Params.Int64("reviewId"), in)
	if err != nil {
		return nil, err
	}

	return router.OK(rv), nil
}

func (s *Service) serveDeleteReview(ctx context.Context, r *router.Request) (*router.Reply, error) {
	if err := s.DeleteReview(ctx, r.Params.Int64("id"), r.Params.Int64("reviewId")); err != nil {
		return nil, err
	}

	return router.NoContent(), nil
}
