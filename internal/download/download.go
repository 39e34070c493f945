package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/licensegate/internal/email"
	"github.com/dukerupert/licensegate/internal/identity"
	"github.com/dukerupert/licensegate/internal/model"
	"github.com/dukerupert/licensegate/internal/store"
)

const (
	// TokenTTL is how long an emailed download link stays redeemable.
	TokenTTL = 30 * 24 * time.Hour
	// URLTTL is the lifetime of the presigned artifact URL handed out on redeem.
	URLTTL = 10 * time.Minute
)

var ErrEmailRequired = errors.New("email required")

type Status string

const (
	StatusOK               Status = "ok"
	StatusInvalidRequest   Status = "invalid_request"
	StatusInvalidOrExpired Status = "invalid_or_expired"
	StatusAlreadyUsed      Status = "already_used"
	StatusServerError      Status = "server_error"
)

// Result is the outcome of presenting or redeeming a token. Code is the HTTP
// status a handler should answer with; URL is only set by a successful Redeem.
type Result struct {
	Status Status
	Code   int
	Token  *model.DownloadToken
	URL    string
}

func (r Result) OK() bool {
	return r.Status == StatusOK
}

func result(s Status, code int) Result {
	return Result{Status: s, Code: code}
}

type TokenStore interface {
	Insert(ctx context.Context, email, token string, expiresAt time.Time) (*model.DownloadToken, error)
	GetByToken(ctx context.Context, token string) (*model.DownloadToken, error)
	MarkUsed(ctx context.Context, id int64, now time.Time) (bool, error)
}

type LicenseStore interface {
	FindLatestByEmail(ctx context.Context, email string) (*model.License, error)
	MarkDownloaded(ctx context.Context, id int64, now time.Time) error
}

type Signer interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type ArtifactLocator interface {
	ArtifactPath(ctx context.Context) (string, error)
}

type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Config struct {
	BaseURL         string
	DefaultArtifact string
	Branding        email.Branding
}

type Service struct {
	tokens   TokenStore
	licenses LicenseStore
	signer   Signer
	artifact ArtifactLocator
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(tokens TokenStore, licenses LicenseStore, signer Signer, artifact ArtifactLocator, notifier Notifier, cfg Config, logger *slog.Logger) *Service {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Service{
		tokens:   tokens,
		licenses: licenses,
		signer:   signer,
		artifact: artifact,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "download"),
		now:      time.Now,
	}
}

// URL returns the customer-facing link for token.
func (s *Service) URL(token string) string {
	return s.cfg.BaseURL + "/download?token=" + url.QueryEscape(token)
}

// IssueToken creates a fresh single-use token for email. Failures are logged
// and reported as ok=false.
func (s *Service) IssueToken(ctx context.Context, email string) (string, bool) {
	token, err := store.GenerateToken()
	if err != nil {
		s.logger.Error("generate token", "error", err)
		return "", false
	}
	if _, err := s.tokens.Insert(ctx, email, token, s.now().UTC().Add(TokenTTL)); err != nil {
		s.logger.Error("insert token", "email", email, "error", err)
		return "", false
	}
	return token, true
}

// Present checks a token without consuming it.
func (s *Service) Present(ctx context.Context, token string) Result {
	token = strings.TrimSpace(token)
	if token == "" {
		return result(StatusInvalidRequest, http.StatusBadRequest)
	}

	dt, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		s.logger.Error("get token", "error", err)
		return result(StatusServerError, http.StatusInternalServerError)
	}
	if dt == nil {
		return result(StatusInvalidOrExpired, http.StatusBadRequest)
	}
	if dt.UsedAt != nil {
		return result(StatusAlreadyUsed, http.StatusGone)
	}
	if !dt.Redeemable(s.now().UTC()) {
		return result(StatusInvalidOrExpired, http.StatusGone)
	}
	return Result{Status: StatusOK, Code: http.StatusOK, Token: dt}
}

// Redeem consumes token and returns a short-lived artifact URL. The token is
// only marked used once a URL has been signed, and at most one caller wins.
func (s *Service) Redeem(ctx context.Context, token string) Result {
	res := s.Present(ctx, token)
	if !res.OK() {
		return res
	}
	dt := res.Token

	key, err := s.artifactPath(ctx)
	if err != nil {
		s.logger.Error("resolve artifact path", "error", err)
		return result(StatusServerError, http.StatusInternalServerError)
	}

	signed, err := s.signer.SignedURL(ctx, key, URLTTL)
	if err != nil {
		s.logger.Error("sign artifact url", "key", key, "error", err)
		return result(StatusServerError, http.StatusInternalServerError)
	}

	now := s.now().UTC()
	used, err := s.tokens.MarkUsed(ctx, dt.ID, now)
	if err != nil {
		s.logger.Error("mark token used", "token_id", dt.ID, "error", err)
		return result(StatusServerError, http.StatusInternalServerError)
	}
	if !used {
		return result(StatusAlreadyUsed, http.StatusGone)
	}

	s.recordDownload(ctx, dt.Email, now)
	s.logger.Info("download redeemed", "token_id", dt.ID, "email", dt.Email, "key", key)

	return Result{Status: StatusOK, Code: http.StatusSeeOther, Token: dt, URL: signed}
}

func (s *Service) artifactPath(ctx context.Context) (string, error) {
	if s.artifact != nil {
		key, err := s.artifact.ArtifactPath(ctx)
		if err != nil {
			return "", err
		}
		if key != "" {
			return key, nil
		}
	}
	if s.cfg.DefaultArtifact == "" {
		return "", fmt.Errorf("no artifact path configured")
	}
	return s.cfg.DefaultArtifact, nil
}

func (s *Service) recordDownload(ctx context.Context, email string, now time.Time) {
	lic, err := s.licenses.FindLatestByEmail(ctx, email)
	if err != nil {
		s.logger.Warn("find license for download", "email", email, "error", err)
		return
	}
	if lic == nil {
		return
	}
	if err := s.licenses.MarkDownloaded(ctx, lic.ID, now); err != nil {
		s.logger.Warn("mark license downloaded", "license_id", lic.ID, "error", err)
	}
}

// ConfirmPayment issues a token for a manually confirmed purchase and returns
// its link without sending mail.
func (s *Service) ConfirmPayment(ctx context.Context, rawEmail string) (string, error) {
	addr := identity.Email(rawEmail)
	if addr == "" {
		return "", ErrEmailRequired
	}
	token, ok := s.IssueToken(ctx, addr)
	if !ok {
		return "", fmt.Errorf("issue token for %s", addr)
	}
	return s.URL(token), nil
}

// ResendDownload issues a new token and mails the link.
func (s *Service) ResendDownload(ctx context.Context, rawEmail string) error {
	return s.mailLink(ctx, rawEmail, email.ResendMessage)
}

// SendDownloadLink issues a token and mails the post-purchase link.
func (s *Service) SendDownloadLink(ctx context.Context, rawEmail string) error {
	return s.mailLink(ctx, rawEmail, email.DownloadMessage)
}

func (s *Service) mailLink(ctx context.Context, rawEmail string, build func(email.Branding, string) email.Message) error {
	addr := identity.Email(rawEmail)
	if addr == "" {
		return ErrEmailRequired
	}
	token, ok := s.IssueToken(ctx, addr)
	if !ok {
		return fmt.Errorf("issue token for %s", addr)
	}

	msg := build(s.cfg.Branding, s.URL(token))
	if err := s.notifier.Send(ctx, addr, msg.Subject, msg.Body); err != nil {
		return fmt.Errorf("send download link: %w", err)
	}
	s.logger.Info("download link sent", "email", addr)
	return nil
}
