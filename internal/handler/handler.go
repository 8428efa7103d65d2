package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"creditledger/internal/auth"
	"creditledger/internal/config"
	"creditledger/internal/infrastructure/cache"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const recentTransactionLimit = 10

// Handler holds every service the HTTP layer calls.
type Handler struct {
	cfg             *config.Config
	creditService   *service.CreditService
	referralService *service.ReferralService
	userService     *service.UserService
	inviteService   *service.InviteService
}

// NewHandler builds the services. rdb may be nil, in which case spends run
// without the Redis lock and invites are not rate limited.
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, sender service.EmailSender) *Handler {
	var (
		locker  service.SpendLocker
		limiter service.RateLimiter
	)
	if rdb != nil {
		if cfg.Credits.SpendLock {
			locker = lock.NewSpendLocker(rdb, cfg.Credits.LockTTL)
		}
		limiter = cache.NewRateLimiter(rdb, "invites:sender", cfg.Referral.InviteLimitPerHour, time.Hour)
	}

	referralService := service.NewReferralService(db, cfg)
	return &Handler{
		cfg:             cfg,
		creditService:   service.NewCreditService(db, cfg, locker),
		referralService: referralService,
		userService:     service.NewUserService(db, cfg, referralService),
		inviteService:   service.NewInviteService(db, cfg, referralService, sender, limiter),
	}
}

func currentUser(c *gin.Context) *auth.Identity {
	identity, _ := c.Get(ctxIdentityKey)
	id, _ := identity.(*auth.Identity)
	return id
}

// ============================================================
// Credits
// ============================================================

// GetCredits returns the caller's balance and latest transactions.
// GET /api/v1/credits
func (h *Handler) GetCredits(c *gin.Context) {
	user := currentUser(c)
	ctx := c.Request.Context()

	balance, err := h.creditService.GetBalance(ctx, user.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			response.NotFound(c, "Credit balance not found")
			return
		}
		response.ServerError(c, err)
		return
	}

	recent, err := h.creditService.GetRecentTransactions(ctx, user.UserID, recentTransactionLimit)
	if err != nil {
		response.ServerError(c, err)
		return
	}

	response.Success(c, gin.H{
		"balance":             balance,
		"recent_transactions": recent,
	})
}

type CheckCreditsRequest struct {
	ActionType string              `json:"action_type"`
	Style      model.SummaryStyle  `json:"style"`
	Length     model.SummaryLength `json:"length"`
}

// CheckCredits prices an action and compares it with the caller's balance.
// POST /api/v1/credits/check
func (h *Handler) CheckCredits(c *gin.Context) {
	var req CheckCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "Invalid request body")
		return
	}

	var required int64
	switch req.ActionType {
	case "summary":
		if req.Style == "" || req.Length == "" {
			response.ParamError(c, "style and length are required for summary")
			return
		}
		cost, err := h.creditService.GetSummaryCreditCost(req.Style, req.Length)
		if err != nil {
			response.ParamError(c, err.Error())
			return
		}
		required = cost
	case "chat_message":
		required = h.creditService.GetChatMessageCreditCost()
	default:
		response.ParamError(c, "action_type must be summary or chat_message")
		return
	}

	check, err := h.creditService.CheckBalance(c.Request.Context(), currentUser(c).UserID, required)
	if err != nil {
		response.ServerError(c, err)
		return
	}
	response.Success(c, check)
}

// GetCosts lists every price.
// GET /api/v1/credits/costs
func (h *Handler) GetCosts(c *gin.Context) {
	response.Success(c, h.creditService.CostTable())
}

// ListTransactions pages through the caller's ledger, newest first.
// GET /api/v1/credits/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	transactions, total, err := h.creditService.ListTransactions(c.Request.Context(), currentUser(c).UserID, page, pageSize)
	if err != nil {
		response.ServerError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transactions": transactions,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
	})
}

// GetTransaction returns one of the caller's transactions.
// GET /api/v1/credits/transactions/:transaction_no
func (h *Handler) GetTransaction(c *gin.Context) {
	trans, err := h.creditService.GetTransaction(c.Request.Context(), currentUser(c).UserID, c.Param("transaction_no"))
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			response.NotFound(c, "Transaction not found")
			return
		}
		response.ServerError(c, err)
		return
	}

	direction := "credit"
	if trans.IsDebit() {
		direction = "debit"
	}
	response.Success(c, gin.H{
		"transaction": trans,
		"direction":   direction,
	})
}

type SpendSummaryRequest struct {
	SummaryID string              `json:"summary_id" binding:"required"`
	BookID    string              `json:"book_id" binding:"required"`
	Style     model.SummaryStyle  `json:"style" binding:"required"`
	Length    model.SummaryLength `json:"length" binding:"required"`
}

// SpendSummary charges for a generated summary. It is a qualifying action
// for the caller's pending referral.
// POST /api/v1/credits/spend/summary
func (h *Handler) SpendSummary(c *gin.Context) {
	var req SpendSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "summary_id, book_id, style and length are required")
		return
	}
	cost, err := h.creditService.GetSummaryCreditCost(req.Style, req.Length)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	user := currentUser(c)
	ctx := c.Request.Context()
	tx, err := h.creditService.DeductForSummary(ctx, user.UserID, req.SummaryID, req.BookID, req.Style, req.Length)
	if err != nil {
		h.spendError(c, user.UserID, cost, err)
		return
	}

	credited := h.activateReferral(c, user.UserID, model.ActivationTypeSummaryGenerated)
	response.Success(c, gin.H{
		"transaction":       tx,
		"balance":           tx.BalanceAfter,
		"referral_credited": credited,
	})
}

type SpendChatRequest struct {
	BookID string `json:"book_id" binding:"required"`
}

// SpendChat charges for one chat message on a book.
// POST /api/v1/credits/spend/chat
func (h *Handler) SpendChat(c *gin.Context) {
	var req SpendChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "book_id is required")
		return
	}

	user := currentUser(c)
	ctx := c.Request.Context()
	cost := h.creditService.GetChatMessageCreditCost()

	session, err := h.creditService.GetOrCreateChatSession(ctx, user.UserID, req.BookID)
	if err != nil {
		response.ServerError(c, err)
		return
	}

	tx, err := h.creditService.DeductForChat(ctx, user.UserID, session.ID, req.BookID)
	if err != nil {
		h.spendError(c, user.UserID, cost, err)
		return
	}

	if err := h.creditService.UpdateChatSession(ctx, session.ID, cost); err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("update chat session failed")
	}

	credited := h.activateReferral(c, user.UserID, model.ActivationTypeChatMessage)
	response.Success(c, gin.H{
		"transaction":       tx,
		"balance":           tx.BalanceAfter,
		"session_id":        session.ID,
		"referral_credited": credited,
	})
}

func (h *Handler) spendError(c *gin.Context, userID string, required int64, err error) {
	switch {
	case errors.Is(err, repository.ErrInsufficientCredits):
		extra := gin.H{"required_credits": required}
		if check, cerr := h.creditService.CheckBalance(c.Request.Context(), userID, required); cerr == nil {
			extra["current_balance"] = check.CurrentBalance
		}
		response.Error(c, http.StatusPaymentRequired, response.TypeInsufficientCredits, "Insufficient credits", extra)
	case errors.Is(err, repository.ErrBalanceNotFound):
		response.NotFound(c, "Credit balance not found")
	default:
		response.ServerError(c, err)
	}
}

// activateReferral never fails the spend that triggered it.
func (h *Handler) activateReferral(c *gin.Context, userID string, activation model.ActivationType) bool {
	credited, err := h.referralService.ActivateReferral(c.Request.Context(), userID, activation)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("referral activation failed")
		return false
	}
	return credited
}
