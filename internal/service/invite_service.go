package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/mail"
	"strings"
	texttemplate "text/template"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/email"
	"creditledger/internal/repository"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrInvalidEmail       = errors.New("a valid email address is required")
	ErrSelfInvite         = errors.New("you cannot invite yourself")
	ErrInviteRateLimited  = errors.New("too many invites, try again later")
	// ErrSenderEmailUnknown means neither the session nor the provisioned
	// account carries the caller's email, so a self-invite cannot be ruled out.
	ErrSenderEmailUnknown = errors.New("your account has no email address on file")
)

type EmailSender interface {
	Send(ctx context.Context, msg email.Message) (string, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

const inviteHTML = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2937;">
  <p>Hi {{.Name}},</p>
  <p>{{.SenderName}} invited you to {{.AppName}}.</p>
  <p>Sign up with their link and you get <strong>{{.ReferredBonus}} bonus credits</strong>
  once you generate your first summary or send your first chat message.
  {{.SenderName}} gets {{.ReferrerBonus}} credits too.</p>
  <p><a href="{{.Link}}">Join {{.AppName}}</a></p>
  <p>Or use referral code <strong>{{.Code}}</strong>.</p>
</body>
</html>
`

const inviteText = `Hi {{.Name}},

{{.SenderName}} invited you to {{.AppName}}.

Sign up with their link and you get {{.ReferredBonus}} bonus credits once you
generate your first summary or send your first chat message. {{.SenderName}}
gets {{.ReferrerBonus}} credits too.

{{.Link}}

Referral code: {{.Code}}
`

var (
	inviteHTMLTmpl = htmltemplate.Must(htmltemplate.New("invite_html").Parse(inviteHTML))
	inviteTextTmpl = texttemplate.Must(texttemplate.New("invite_text").Parse(inviteText))
)

type inviteData struct {
	Name          string
	SenderName    string
	AppName       string
	Link          string
	Code          string
	ReferrerBonus int64
	ReferredBonus int64
}

type InviteService struct {
	cfg         *config.Config
	balanceRepo *repository.BalanceRepository
	referrals   *ReferralService
	sender      EmailSender
	limiter     RateLimiter
}

// NewInviteService wires invites. limiter may be nil, which disables the
// per-sender limit.
func NewInviteService(db *gorm.DB, cfg *config.Config, referrals *ReferralService, sender EmailSender, limiter RateLimiter) *InviteService {
	return &InviteService{
		cfg:         cfg,
		balanceRepo: repository.NewBalanceRepository(db),
		referrals:   referrals,
		sender:      sender,
		limiter:     limiter,
	}
}

type InviteRequest struct {
	SenderID    string
	SenderEmail string
	SenderName  string
	Email       string
	Name        string
	BaseURL     string
}

type InviteResult struct {
	MessageID string `json:"messageId"`
	Email     string `json:"email"`
}

func (s *InviteService) SendInvite(ctx context.Context, req *InviteRequest) (*InviteResult, error) {
	to := strings.TrimSpace(req.Email)
	addr, err := mail.ParseAddress(to)
	if err != nil || addr.Address != to {
		return nil, ErrInvalidEmail
	}

	known, err := s.senderEmails(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(known) == 0 {
		return nil, ErrSenderEmailUnknown
	}
	for _, own := range known {
		if strings.EqualFold(to, own) {
			return nil, ErrSelfInvite
		}
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, req.SenderID)
		if err != nil {
			return nil, fmt.Errorf("invite rate limit: %w", err)
		}
		if !ok {
			return nil, ErrInviteRateLimited
		}
	}

	code, err := s.referrals.EnsureReferralCode(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}

	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = s.cfg.Server.BaseURL
	}
	data := inviteData{
		Name:          firstNonEmpty(req.Name, "there"),
		SenderName:    firstNonEmpty(req.SenderName, req.SenderEmail, "A friend"),
		AppName:       s.cfg.Email.AppName,
		Link:          ReferralLink(baseURL, code.Code),
		Code:          code.Code,
		ReferrerBonus: s.cfg.Referral.ReferrerBonus,
		ReferredBonus: s.cfg.Referral.ReferredBonus,
	}

	msg, err := renderInvite(to, data)
	if err != nil {
		return nil, err
	}

	id, err := s.sender.Send(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("send invite: %w", err)
	}

	log.Info().Str("sender_id", req.SenderID).Str("message_id", id).Msg("invite sent")
	return &InviteResult{MessageID: id, Email: to}, nil
}

// senderEmails collects every address the caller is known by: the session
// claim, when present, and the email stored at provisioning.
func (s *InviteService) senderEmails(ctx context.Context, req *InviteRequest) ([]string, error) {
	var known []string
	if claim := strings.TrimSpace(req.SenderEmail); claim != "" {
		known = append(known, claim)
	}
	balance, err := s.balanceRepo.GetByUserID(ctx, nil, req.SenderID)
	switch {
	case err == nil:
		if balance.Email != "" {
			known = append(known, balance.Email)
		}
	case errors.Is(err, repository.ErrBalanceNotFound):
	default:
		return nil, fmt.Errorf("load sender: %w", err)
	}
	return known, nil
}

func renderInvite(to string, data inviteData) (email.Message, error) {
	var html, text bytes.Buffer
	if err := inviteHTMLTmpl.Execute(&html, data); err != nil {
		return email.Message{}, fmt.Errorf("render invite html: %w", err)
	}
	if err := inviteTextTmpl.Execute(&text, data); err != nil {
		return email.Message{}, fmt.Errorf("render invite text: %w", err)
	}
	return email.Message{
		To:      to,
		Subject: fmt.Sprintf("%s invited you to %s", data.SenderName, data.AppName),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
