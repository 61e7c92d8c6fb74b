/*
Package envelope defines the request/response messages that carry API calls over the broker.
It is a pure data contract shared by the transport binding, the router and remote callers.
*/
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// Supported request methods.
const (
	MethodGet    = http.MethodGet
	MethodPost   = http.MethodPost
	MethodPut    = http.MethodPut
	MethodPatch  = http.MethodPatch
	MethodDelete = http.MethodDelete
)

// HeaderAuthorization carries the caller token inside Request.Headers.
const HeaderAuthorization = "Authorization"

// Request is the ApiRequest wire message.
type Request struct {
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Body           json.RawMessage   `json:"body"`
	CorrelationID  string            `json:"correlationId"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// HasBody reports whether the request carries a non-null body.
func (r Request) HasBody() bool {
	b := bytes.TrimSpace(r.Body)
	return len(b) > 0 && !bytes.Equal(b, []byte("null"))
}

// Mutating reports whether the method changes state and is subject to deduplication.
func (r Request) Mutating() bool {
	switch r.Method {
	case MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	default:
		return false
	}
}

// DedupKey is the idempotency key when supplied, otherwise the correlation id.
func (r Request) DedupKey() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}

	return r.CorrelationID
}

// Validate checks the fields every request must carry and normalizes the method.
func (r *Request) Validate() error {
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	r.Path = strings.TrimSpace(r.Path)

	if r.Method == "" {
		return berr.Newf(berr.ErrProtocol, "Invalid request format: method is required")
	}

	if r.Path == "" {
		return berr.Newf(berr.ErrProtocol, "Invalid request format: path is required")
	}

	return nil
}

// Decode parses and validates a request message body.
func Decode(body []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(body, &r); err != nil {
		return Request{}, berr.Newf(berr.ErrProtocol, "Invalid request format")
	}

	if err := r.Validate(); err != nil {
		return Request{}, err
	}

	return r, nil
}

// Response is the ApiResponse wire message.
type Response struct {
	CorrelationID string          `json:"correlationId"`
	StatusCode    int             `json:"statusCode"`
	Data          json.RawMessage `json:"data"`
	ErrorMessage  *string         `json:"errorMessage"`
}

// Success builds a 2xx response. A nil data value is encoded as JSON null.
func Success(correlationID string, status int, data any) (Response, error) {
	if status < 200 || status > 299 {
		return Response{}, fmt.Errorf("envelope success with status %d: %w", status, berr.ErrSerializationFailed)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Response{}, fmt.Errorf("envelope data: %w", berr.ErrSerializationFailed)
	}

	return Response{CorrelationID: correlationID, StatusCode: status, Data: raw}, nil
}

// Failure builds a 4xx/5xx response carrying only an error message.
func Failure(correlationID string, status int, message string) Response {
	if status < 400 {
		status = http.StatusInternalServerError
	}

	msg := message

	return Response{
		CorrelationID: correlationID,
		StatusCode:    status,
		Data:          json.RawMessage("null"),
		ErrorMessage:  &msg,
	}
}

// FromError converts err into a failure response using the shared status mapping.
func FromError(correlationID string, err error) Response {
	return Failure(correlationID, berr.Status(err), berr.Message(err))
}

// OK reports whether the response carries a 2xx status.
func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode <= 299 }

// Message returns the error message or an empty string.
func (r Response) Message() string {
	if r.ErrorMessage == nil {
		return ""
	}

	return *r.ErrorMessage
}

// DecodeData unmarshals the response data into v.
func (r Response) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("envelope data empty: %w", berr.ErrSerializationFailed)
	}

	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("envelope data: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return nil
}
