package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"creditledger/internal/auth"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	ctxIdentityKey      = "identity"
	webhookSecretHeader = "X-Webhook-Secret"
)

// LoggerMiddleware logs one line per request.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}
		event.
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Msg("http request")
	}
}

func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Str("path", c.Request.URL.Path).Msg("recovered from panic")
				response.Error(c, http.StatusInternalServerError, response.TypeInternal, "An unexpected error occurred", nil)
			}
		}()
		c.Next()
	}
}

// AuthMiddleware requires a valid bearer token and stores the caller's
// identity on the context.
func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ParseBearer(c.GetHeader("Authorization"))
		if err != nil {
			response.Unauthorized(c)
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			log.Debug().Err(err).Msg("token rejected")
			response.Unauthorized(c)
			return
		}

		c.Set(ctxIdentityKey, identity)
		c.Next()
	}
}

// WebhookSecretMiddleware rejects every request when secret is empty.
func WebhookSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(webhookSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			response.Unauthorized(c)
			return
		}
		c.Next()
	}
}
