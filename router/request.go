package router

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/next-trace/scg-api-bus/contract/envelope"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// Params holds path parameters keyed by name.
type Params map[string]string

// String returns the raw parameter value.
func (p Params) String(name string) string { return p[name] }

// Int64 returns an integer parameter. Integer parameters are validated during resolution,
// so the zero value only appears for names the pattern does not declare.
func (p Params) Int64(name string) int64 {
	n, _ := strconv.ParseInt(p[name], 10, 64)
	return n
}

// Request is the envelope request enriched with the resolved route.
type Request struct {
	envelope.Request

	Pattern string
	Params  Params
}

// Bind decodes the request body into v. A missing or malformed body is a protocol error;
// fields v does not declare are ignored.
func (r *Request) Bind(v any) error {
	if !r.HasBody() {
		return berr.Newf(berr.ErrProtocol, "Request body is required")
	}

	if err := json.Unmarshal(r.Body, v); err != nil {
		return berr.Newf(berr.ErrProtocol, "Invalid request body")
	}

	return nil
}

// Reply is a successful handler result.
type Reply struct {
	Status int
	Data   any
}

// OK replies 200 with data.
func OK(data any) *Reply { return &Reply{Status: http.StatusOK, Data: data} }

// Created replies 201 with data.
func Created(data any) *Reply { return &Reply{Status: http.StatusCreated, Data: data} }

// NoContent replies 204 without data.
func NoContent() *Reply { return &Reply{Status: http.StatusNoContent} }
