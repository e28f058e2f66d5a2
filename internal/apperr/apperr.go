// Package apperr classifies domain errors and renders them as JSON API
// responses of the form {"error": "<code>", "message": "..."}.
package apperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kinds. Domain errors wrap exactly one of these.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUnprocessable = errors.New("unprocessable")
	ErrThrottled     = errors.New("throttled")
	ErrUpstream      = errors.New("upstream failure")
)

var kindStatus = []struct {
	kind   error
	status int
	code   string
}{
	{ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrConflict, http.StatusConflict, "conflict"},
	{ErrUnprocessable, http.StatusUnprocessableEntity, "unprocessable"},
	{ErrThrottled, http.StatusTooManyRequests, "too_many_requests"},
	{ErrUpstream, http.StatusBadGateway, "upstream_error"},
}

// Error is a domain error with a stable machine-readable code.
type Error struct {
	Code string
	Kind error
	Msg  string
}

// New creates a coded error of the given kind.
func New(kind error, code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Msg: msg}
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

// Status resolves the HTTP status and code for err.
func Status(err error) (int, string) {
	code := ""
	var coded *Error
	if errors.As(err, &coded) {
		code = coded.Code
	}
	for _, k := range kindStatus {
		if errors.Is(err, k.kind) {
			if code == "" {
				code = k.code
			}
			return k.status, code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// Respond writes err as a JSON error body and aborts the request.
// Unclassified errors are logged and rendered without their message.
func Respond(c *gin.Context, err error) {
	status, code := Status(err)
	_ = c.Error(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Unhandled request error", "path", c.FullPath(), "error", err)
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

// BadRequest responds 400 for binding failures.
func BadRequest(c *gin.Context, err error) {
	Respond(c, New(ErrInvalidInput, "invalid_input", err.Error()))
}
