// Package responses writes RFC 7807 problem responses for every HTTP surface
// of the service.
package responses

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aidin1998/vaultrisk/pkg/errors"
)

// ContentTypeProblem is the media type of every error body.
const ContentTypeProblem = "application/problem+json"

// Error aborts the request with the given problem.
func Error(c *gin.Context, problemDetails *errors.ProblemDetails) {
	if problemDetails.Instance == "" {
		problemDetails.Instance = c.Request.URL.Path
	}
	// Add trace ID if the request is traced
	if traceID := getTraceID(c); traceID != "" {
		problemDetails.WithExtra("trace_id", traceID)
	}

	c.Header("Content-Type", ContentTypeProblem)
	c.AbortWithStatusJSON(problemDetails.Status, problemDetails)
}

// Problem maps a domain error to its problem response.
func Problem(c *gin.Context, err error) {
	Error(c, errors.NewProblem(err, c.Request.URL.Path))
}

// BadRequest sends a 400 validation problem
func BadRequest(c *gin.Context, detail string) {
	Error(c, newProblem(c, http.StatusBadRequest, errors.TypeValidationError, detail))
}

// NotFound sends a 404 problem
func NotFound(c *gin.Context, detail string) {
	Error(c, newProblem(c, http.StatusNotFound, errors.TypeNotFound, detail))
}

// TooManyRequests sends a 429 problem
func TooManyRequests(c *gin.Context, detail string) {
	Error(c, newProblem(c, http.StatusTooManyRequests, errors.TypeRateLimited, detail))
}

// InternalServerError sends a 500 problem
func InternalServerError(c *gin.Context, detail string) {
	Error(c, newProblem(c, http.StatusInternalServerError, errors.TypeInternalError, detail))
}

func newProblem(c *gin.Context, status int, problemType, detail string) *errors.ProblemDetails {
	return &errors.ProblemDetails{
		Type:     problemType,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: c.Request.URL.Path,
	}
}

// getTraceID extracts the trace ID from the active span or the X-Trace-ID header
func getTraceID(c *gin.Context) string {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return c.GetHeader("X-Trace-ID")
}
