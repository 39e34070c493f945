package server

import (
	"database/sql"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/licensegate/internal/backup"
	"github.com/dukerupert/licensegate/internal/billing"
	"github.com/dukerupert/licensegate/internal/config"
	"github.com/dukerupert/licensegate/internal/download"
	"github.com/dukerupert/licensegate/internal/email"
	"github.com/dukerupert/licensegate/internal/handler"
	"github.com/dukerupert/licensegate/internal/license"
	"github.com/dukerupert/licensegate/internal/middleware"
	"github.com/dukerupert/licensegate/internal/reminder"
	"github.com/dukerupert/licensegate/internal/store"
)

// Deps are the outbound integrations the server cannot build from config
// alone.
type Deps struct {
	Signer   download.Signer
	Notifier download.Notifier
	// Backups may be nil when backups are disabled.
	Backups *backup.Manager
}

type Server struct {
	cfg         *config.Config
	licenseH    *handler.LicenseHandler
	downloadH   *handler.DownloadHandler
	adminH      *handler.AdminHandler
	cronH       *handler.CronHandler
	backupH     *handler.BackupHandler
	webhookH    *billing.WebhookHandler
	tokenStore  *store.DownloadTokenStore
	rateLimiter *middleware.RateLimiter
	scheduler   *reminder.Scheduler
	logger      *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	licenseStore := store.NewLicenseStore(db)
	tokenStore := store.NewDownloadTokenStore(db)
	settingsStore := store.NewSettingsStore(db)

	branding := email.Branding{
		Product:      cfg.Email.Product,
		SupportEmail: cfg.Email.Support,
		SiteURL:      cfg.Email.SiteURL,
	}

	validator := license.NewValidator(licenseStore, logger)
	downloads := download.NewService(tokenStore, licenseStore, deps.Signer, settingsStore, deps.Notifier, download.Config{
		BaseURL:         cfg.BaseURL,
		DefaultArtifact: cfg.ArtifactPath,
		Branding:        branding,
	}, logger)
	scheduler := reminder.NewScheduler(licenseStore, deps.Notifier, reminder.Config{
		Offset:   cfg.Reminder.Offset(),
		Hour:     cfg.Reminder.Hour,
		Branding: branding,
	}, logger)

	return &Server{
		cfg:         cfg,
		licenseH:    handler.NewLicenseHandler(validator),
		downloadH:   handler.NewDownloadHandler(downloads, cfg.Email.Product, logger.With("component", "download_handler")),
		adminH:      handler.NewAdminHandler(downloads, licenseStore, settingsStore, logger.With("component", "admin")),
		cronH:       handler.NewCronHandler(scheduler, logger.With("component", "cron")),
		backupH:     handler.NewBackupHandler(backupsOrNil(deps.Backups), logger.With("component", "backup_handler")),
		webhookH:    billing.NewWebhookHandler(cfg.Stripe.WebhookSecret, licenseStore, downloads, logger),
		tokenStore:  tokenStore,
		rateLimiter: middleware.NewRateLimiter(),
		scheduler:   scheduler,
		logger:      logger,
	}
}

// TokenStore returns the download token store for cleanup tasks.
func (s *Server) TokenStore() *store.DownloadTokenStore {
	return s.tokenStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// ReminderScheduler returns the in-process trial reminder loop.
func (s *Server) ReminderScheduler() *reminder.Scheduler {
	return s.scheduler
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.rootHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)

	mux.HandleFunc("POST /license/validate", s.rateLimited(s.licenseH.Validate))
	mux.HandleFunc("GET /download", s.rateLimited(s.downloadH.Present))
	mux.HandleFunc("POST /download", s.rateLimited(s.downloadH.Redeem))
	mux.HandleFunc("POST /stripe/webhook", s.webhookH.HandleStripeWebhook)

	admin := middleware.RequireKey("X-Admin-Key", s.cfg.AdminKey)
	mux.Handle("POST /admin/confirm-payment", admin(http.HandlerFunc(s.adminH.ConfirmPayment)))
	mux.Handle("POST /admin/resend-download", admin(http.HandlerFunc(s.adminH.ResendDownload)))
	mux.Handle("POST /admin/license/trial", admin(http.HandlerFunc(s.adminH.CreateTrial)))
	mux.Handle("POST /admin/license/unbind", admin(http.HandlerFunc(s.adminH.Unbind)))
	mux.Handle("GET /admin/artifact", admin(http.HandlerFunc(s.adminH.GetArtifact)))
	mux.Handle("PUT /admin/artifact", admin(http.HandlerFunc(s.adminH.SetArtifact)))
	mux.Handle("POST /admin/backup", admin(http.HandlerFunc(s.backupH.Run)))
	mux.Handle("GET /admin/backup", admin(http.HandlerFunc(s.backupH.Status)))

	cron := middleware.RequireKey("X-Cron-Key", s.cfg.CronKey)
	mux.Handle("POST /admin/cron/demo-ending-reminder", cron(http.HandlerFunc(s.cronH.DemoEndingReminder)))

	httpLogger := s.logger.With("component", "http")
	return middleware.RequestLogger(httpLogger)(middleware.Recover(httpLogger)(mux))
}

// backupsOrNil keeps a nil *backup.Manager from becoming a non-nil interface.
func backupsOrNil(m *backup.Manager) handler.Backups {
	if m == nil {
		return nil
	}
	return m
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "API running")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok")
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ByIP, s.cfg.RateLimit, s.cfg.RateWindow)
	wrapped := rl(h)
	return wrapped.ServeHTTP
}
