package handler

import (
	"errors"
	"net/http"
	"strings"

	"creditledger/internal/repository"
	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ============================================================
// Referrals
// ============================================================

// GetReferrals returns the caller's referral stats.
// GET /api/v1/referrals
func (h *Handler) GetReferrals(c *gin.Context) {
	user := currentUser(c)
	stats, err := h.referralService.GetReferralStats(c.Request.Context(), user.UserID, h.cfg.Server.BaseURL)
	if err != nil {
		if errors.Is(err, repository.ErrReferralCodeNotFound) {
			// every provisioned user has a code
			log.Error().Str("user_id", user.UserID).Msg("referral code missing")
			response.Error(c, http.StatusInternalServerError, response.TypeInternal, "Referral stats unavailable", nil)
			return
		}
		response.ServerError(c, err)
		return
	}
	response.Success(c, gin.H{"stats": stats})
}

// ValidateCode checks a referral code without revealing why a code is
// unusable.
// GET /api/v1/referrals/validate?code=X
func (h *Handler) ValidateCode(c *gin.Context) {
	code := c.Query("code")
	if strings.TrimSpace(code) == "" {
		response.ParamError(c, "code is required")
		return
	}

	result, err := h.referralService.GetCodeByValue(c.Request.Context(), code)
	if err != nil {
		response.ServerError(c, err)
		return
	}

	body := gin.H{"valid": result.Valid, "code": result.Code}
	if result.Error != "" {
		body["error"] = result.Error
	}
	response.Success(c, body)
}

type InviteRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name"`
}

// SendInvite emails the caller's referral link.
// POST /api/v1/referrals/invite
func (h *Handler) SendInvite(c *gin.Context) {
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "email is required")
		return
	}

	user := currentUser(c)
	result, err := h.inviteService.SendInvite(c.Request.Context(), &service.InviteRequest{
		SenderID:    user.UserID,
		SenderEmail: user.Email,
		SenderName:  user.Name,
		Email:       req.Email,
		Name:        req.Name,
		BaseURL:     h.cfg.Server.BaseURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidEmail), errors.Is(err, service.ErrSelfInvite):
			response.ParamError(c, err.Error())
		case errors.Is(err, service.ErrSenderEmailUnknown):
			response.BusinessError(c, http.StatusUnprocessableEntity, response.TypeUnprocessable, err.Error())
		case errors.Is(err, service.ErrInviteRateLimited):
			response.BusinessError(c, http.StatusTooManyRequests, response.TypeRateLimited, err.Error())
		default:
			response.ServerError(c, err)
		}
		return
	}

	response.Success(c, gin.H{
		"success":   true,
		"message":   "Invitation sent to " + result.Email,
		"messageId": result.MessageID,
	})
}

type ApplyReferralRequest struct {
	Code string `json:"code" binding:"required"`
}

// ApplyReferral attaches a referral code to a caller who signed up without
// one and has not spent credits yet.
// POST /api/v1/referrals/apply
func (h *Handler) ApplyReferral(c *gin.Context) {
	var req ApplyReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "code is required")
		return
	}

	_, err := h.referralService.ApplyReferral(c.Request.Context(), currentUser(c).UserID, req.Code)
	if err != nil {
		failed := gin.H{"success": false}
		switch {
		case errors.Is(err, service.ErrInvalidReferralCode):
			response.Error(c, http.StatusUnprocessableEntity, response.TypeUnprocessable, service.InvalidCodeMessage, failed)
		case errors.Is(err, service.ErrSelfReferral), errors.Is(err, service.ErrReferralWindowClosed):
			response.Error(c, http.StatusUnprocessableEntity, response.TypeUnprocessable, err.Error(), failed)
		case errors.Is(err, repository.ErrBalanceNotFound):
			response.Error(c, http.StatusNotFound, response.TypeNotFound, "Credit balance not found", failed)
		case errors.Is(err, repository.ErrAlreadyReferred):
			response.Error(c, http.StatusConflict, response.TypeConflict, err.Error(), failed)
		default:
			response.ServerError(c, err)
		}
		return
	}

	response.Success(c, gin.H{"success": true})
}
