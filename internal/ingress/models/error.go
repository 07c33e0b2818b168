// Package models provides ingress request and response types.
package models

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ProblemDetails represents an RFC 7807 problem details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetails) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// Problem types.
const (
	ErrorTypeBadRequest    = "https://tributary.dev/errors/bad-request"
	ErrorTypeUnauthorized  = "https://tributary.dev/errors/unauthorized"
	ErrorTypeForbidden     = "https://tributary.dev/errors/forbidden"
	ErrorTypeNotFound      = "https://tributary.dev/errors/not-found"
	ErrorTypeConflict      = "https://tributary.dev/errors/conflict"
	ErrorTypeUnprocessable = "https://tributary.dev/errors/unprocessable"
	ErrorTypeTooLarge      = "https://tributary.dev/errors/payload-too-large"
	ErrorTypeRateLimited   = "https://tributary.dev/errors/rate-limited"
	ErrorTypeInternal      = "https://tributary.dev/errors/internal-error"
	ErrorTypeUnavailable   = "https://tributary.dev/errors/unavailable"
)

func problem(typ, title string, status int, instance, detail string) *ProblemDetails {
	return &ProblemDetails{Type: typ, Title: title, Status: status, Detail: detail, Instance: instance}
}

// NewBadRequestError creates a bad request error.
func NewBadRequestError(instance, detail string) *ProblemDetails {
	return problem(ErrorTypeBadRequest, "Bad Request", http.StatusBadRequest, instance, detail)
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(instance, detail string) *ProblemDetails {
	return problem(ErrorTypeUnauthorized, "Unauthorized", http.StatusUnauthorized, instance, detail)
}

// NewForbiddenError creates a forbidden error.
func NewForbiddenError(instance, detail string) *ProblemDetails {
	return problem(ErrorTypeForbidden, "Forbidden", http.StatusForbidden, instance, detail)
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(instance, detail string) *ProblemDetails {
	return problem(ErrorTypeNotFound, "Not Found", http.StatusNotFound, instance, detail)
}

// NewConflictError creates a conflict error.
func NewConflictError(instance, detail string) *ProblemDetails {
	return problem(ErrorTypeConflict, "Conflict", http.StatusConflict, instance, detail)
}

// NewUnprocessableError is returned for well-formed requests carrying nothing
// to act on, such as a mutation with neither side present.
func NewUnprocessableError(instance, detail string) *ProblemDetails {
	return problem(ErrorTypeUnprocessable, "Unprocessable Entity", http.StatusUnprocessableEntity, instance, detail)
}

// NewPayloadTooLargeError creates a payload too large error.
func NewPayloadTooLargeError(instance, detail string) *ProblemDetails {
	return problem(ErrorTypeTooLarge, "Payload Too Large", http.StatusRequestEntityTooLarge, instance, detail)
}

// NewRateLimitedError creates a rate limited error.
func NewRateLimitedError(instance string) *ProblemDetails {
	return problem(ErrorTypeRateLimited, "Too Many Requests", http.StatusTooManyRequests, instance,
		"Rate limit exceeded. Please try again later.")
}

// NewInternalError creates an internal server error.
func NewInternalError(instance, detail string) *ProblemDetails {
	return problem(ErrorTypeInternal, "Internal Server Error", http.StatusInternalServerError, instance, detail)
}

// NewUnavailableError is returned when an optional collaborator is not wired.
func NewUnavailableError(instance, detail string) *ProblemDetails {
	return problem(ErrorTypeUnavailable, "Service Unavailable", http.StatusServiceUnavailable, instance, detail)
}

// RespondWithError sends a ProblemDetails error response.
func RespondWithError(c *gin.Context, err *ProblemDetails) {
	c.Header("Content-Type", "application/problem+json")
	c.JSON(err.Status, err)
}
