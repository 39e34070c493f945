package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/licensegate/internal/download"
	"github.com/dukerupert/licensegate/internal/identity"
	"github.com/dukerupert/licensegate/internal/model"
)

type Issuer interface {
	ConfirmPayment(ctx context.Context, email string) (string, error)
	ResendDownload(ctx context.Context, email string) error
}

type AdminLicenseStore interface {
	FindLatestByEmail(ctx context.Context, email string) (*model.License, error)
	Create(ctx context.Context, email string, plan model.PlanType, expiresAt *time.Time) (*model.License, error)
	Unbind(ctx context.Context, id int64) error
}

type ArtifactSettings interface {
	ArtifactPath(ctx context.Context) (string, error)
	SetArtifactPath(ctx context.Context, path string) error
}

type AdminHandler struct {
	issuer   Issuer
	licenses AdminLicenseStore
	settings ArtifactSettings
	logger   *slog.Logger
}

func NewAdminHandler(issuer Issuer, licenses AdminLicenseStore, settings ArtifactSettings, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{issuer: issuer, licenses: licenses, settings: settings, logger: logger}
}

func (h *AdminHandler) emailField(w http.ResponseWriter, r *http.Request) (string, bool) {
	fields, err := readFields(w, r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid_request")
		return "", false
	}
	addr := identity.Email(fields.Get("email"))
	if addr == "" {
		writeFailure(w, http.StatusBadRequest, "email_required")
		return "", false
	}
	return addr, true
}

// ConfirmPayment issues a download link for a manually confirmed payment and
// returns it to the operator without emailing it.
func (h *AdminHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.emailField(w, r)
	if !ok {
		return
	}

	link, err := h.issuer.ConfirmPayment(r.Context(), addr)
	if err != nil {
		h.logger.Error("confirm payment", "email", addr, "error", err)
		writeFailure(w, http.StatusInternalServerError, "token_failed")
		return
	}
	h.logger.Info("download link issued", "email", addr)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "downloadUrl": link})
}

func (h *AdminHandler) ResendDownload(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.emailField(w, r)
	if !ok {
		return
	}

	if err := h.issuer.ResendDownload(r.Context(), addr); err != nil {
		if errors.Is(err, download.ErrEmailRequired) {
			writeFailure(w, http.StatusBadRequest, "email_required")
			return
		}
		h.logger.Error("resend download", "email", addr, "error", err)
		writeFailure(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// CreateTrial registers a new trial license. The trial clock starts on the
// first demo check, not here.
func (h *AdminHandler) CreateTrial(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.emailField(w, r)
	if !ok {
		return
	}

	lic, err := h.licenses.Create(r.Context(), addr, model.PlanTrial, nil)
	if err != nil {
		h.logger.Error("create trial", "email", addr, "error", err)
		writeFailure(w, http.StatusInternalServerError, "server_error")
		return
	}
	h.logger.Info("trial created", "email", addr, "license_id", lic.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "license_id": lic.ID})
}

// Unbind releases the account binding on the latest license for an email.
func (h *AdminHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.emailField(w, r)
	if !ok {
		return
	}

	lic, err := h.licenses.FindLatestByEmail(r.Context(), addr)
	if err != nil {
		h.logger.Error("find license", "email", addr, "error", err)
		writeFailure(w, http.StatusInternalServerError, "server_error")
		return
	}
	if lic == nil {
		writeFailure(w, http.StatusNotFound, "not_found")
		return
	}

	if err := h.licenses.Unbind(r.Context(), lic.ID); err != nil {
		h.logger.Error("unbind license", "license_id", lic.ID, "error", err)
		writeFailure(w, http.StatusInternalServerError, "server_error")
		return
	}
	h.logger.Info("license unbound", "license_id", lic.ID, "email", addr)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "license_id": lic.ID})
}

func (h *AdminHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	path, err := h.settings.ArtifactPath(r.Context())
	if err != nil {
		h.logger.Error("get artifact path", "error", err)
		writeFailure(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": path})
}

// SetArtifact points future downloads at a different object key.
func (h *AdminHandler) SetArtifact(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid_request")
		return
	}
	path := strings.TrimSpace(fields.Get("path"))
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		writeFailure(w, http.StatusBadRequest, "path_invalid")
		return
	}

	if err := h.settings.SetArtifactPath(r.Context(), path); err != nil {
		h.logger.Error("set artifact path", "error", err)
		writeFailure(w, http.StatusInternalServerError, "server_error")
		return
	}
	h.logger.Info("artifact path updated", "path", path)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": path})
}
