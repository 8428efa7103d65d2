package handler

import (
	"time"

	"creditledger/internal/auth"
	"creditledger/internal/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter registers every route on a new engine.
func SetupRouter(h *Handler, verifier *auth.Verifier, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	corsConfig := cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	r.Use(cors.New(corsConfig))

	requireAuth := AuthMiddleware(verifier)

	api := r.Group("/api/v1")
	{
		credits := api.Group("/credits")
		{
			credits.GET("/costs", h.GetCosts)
			credits.GET("", requireAuth, h.GetCredits)
			credits.POST("/check", requireAuth, h.CheckCredits)
			credits.GET("/transactions", requireAuth, h.ListTransactions)
			credits.GET("/transactions/:transaction_no", requireAuth, h.GetTransaction)
			credits.POST("/spend/summary", requireAuth, h.SpendSummary)
			credits.POST("/spend/chat", requireAuth, h.SpendChat)
		}

		referrals := api.Group("/referrals")
		{
			referrals.GET("/validate", h.ValidateCode)
			referrals.GET("", requireAuth, h.GetReferrals)
			referrals.POST("/invite", requireAuth, h.SendInvite)
			referrals.POST("/apply", requireAuth, h.ApplyReferral)
		}
	}

	webhooks := r.Group("/webhooks", WebhookSecretMiddleware(cfg.Auth.WebhookSecret))
	{
		webhooks.POST("/users", h.ProvisionUser)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
