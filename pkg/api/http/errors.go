package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aescanero/agentmesh/pkg/domain"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidParameter, http.StatusBadRequest, "INVALID_PARAMETER"},
	{domain.ErrInvalidEdge, http.StatusBadRequest, "INVALID_EDGE"},
	{domain.ErrUnsupportedFormat, http.StatusBadRequest, "UNSUPPORTED_FORMAT"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrUnknownAgent, http.StatusNotFound, "UNKNOWN_AGENT"},
	{domain.ErrUnknownNode, http.StatusNotFound, "UNKNOWN_NODE"},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
	{domain.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
	{domain.ErrCycle, http.StatusUnprocessableEntity, "CYCLE_DETECTED"},
	{domain.ErrDuplicateNode, http.StatusUnprocessableEntity, "DUPLICATE_NODE"},
	{domain.ErrDuplicateEdge, http.StatusUnprocessableEntity, "DUPLICATE_EDGE"},
}

// statusFor maps an error to an HTTP status and error code
func statusFor(err error) (int, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// writeError renders err in the error envelope
func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}

// badRequest renders a request binding failure
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}
