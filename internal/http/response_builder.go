// Package http exposes sessions over a JSON API.
package http

import (
	"encoding/json"
	"net/http"

	applog "chongmu/internal/log"
	"chongmu/internal/middleware/trace"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A nil body writes no content.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

// errorBody is the payload of every non-2xx response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorResponse creates a standard JSON error response.
func ErrorResponse(r *http.Request, statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Error: message, Code: code, RequestID: trace.FromRequest(r)})
}

func BadRequestError(r *http.Request, message string) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusBadRequest, "bad_request", message)
}

func UnauthorizedError(r *http.Request, message string) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusUnauthorized, "unauthorized", message).
		Header("WWW-Authenticate", `Bearer realm="chongmu"`)
}

func NotFoundError(r *http.Request, message string) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusNotFound, "not_found", message)
}

func MethodNotAllowedError(r *http.Request) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func ConflictError(r *http.Request, message string) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusConflict, "conflict", message)
}

func UnprocessableEntityError(r *http.Request, message string) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusUnprocessableEntity, "validation_failed", message)
}

func TooManyRequestsError(r *http.Request) *JSONResponseBuilder {
	return ErrorResponse(r, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, please try again later")
}

// InternalServerError hides err from the client and logs it.
func InternalServerError(r *http.Request, err error) *JSONResponseBuilder {
	applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
		applog.FieldError, err,
		"method", r.Method,
		"path", r.URL.Path)
	return ErrorResponse(r, http.StatusInternalServerError, "internal", "internal server error")
}
