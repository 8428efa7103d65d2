package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type ErrorType string

const (
	TypeBadRequest          ErrorType = "BAD_REQUEST"
	TypeUnauthorized        ErrorType = "UNAUTHORIZED"
	TypeNotFound            ErrorType = "NOT_FOUND"
	TypeInsufficientCredits ErrorType = "INSUFFICIENT_CREDITS"
	TypeConflict            ErrorType = "CONFLICT"
	TypeUnprocessable       ErrorType = "UNPROCESSABLE"
	TypeRateLimited         ErrorType = "RATE_LIMITED"
	TypeInternal            ErrorType = "INTERNAL_SERVER_ERROR"
)

type ErrorBody struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// Error writes {"error": {"type", "message"}} plus any extra top-level fields.
func Error(c *gin.Context, status int, errType ErrorType, message string, extra gin.H) {
	body := gin.H{"error": ErrorBody{Type: errType, Message: message}}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, TypeBadRequest, message, nil)
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, TypeUnauthorized, "Unauthorized access", nil)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, TypeNotFound, message, nil)
}

func BusinessError(c *gin.Context, status int, errType ErrorType, message string) {
	Error(c, status, errType, message, nil)
}

// ServerError logs err and answers with a generic message.
func ServerError(c *gin.Context, err error) {
	log.Error().
		Err(err).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg("internal server error")
	Error(c, http.StatusInternalServerError, TypeInternal, "An unexpected error occurred", nil)
}
