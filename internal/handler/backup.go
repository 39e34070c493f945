package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/licensegate/internal/backup"
)

type Backups interface {
	RunNow(ctx context.Context) (*backup.Result, error)
	Status() backup.Status
}

type BackupHandler struct {
	backups Backups
	logger  *slog.Logger
}

// NewBackupHandler accepts a nil Backups, in which case every request
// reports not_configured.
func NewBackupHandler(b Backups, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{backups: b, logger: logger}
}

func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeFailure(w, http.StatusServiceUnavailable, "not_configured")
		return
	}
	res, err := h.backups.RunNow(r.Context())
	if errors.Is(err, backup.ErrInProgress) {
		writeFailure(w, http.StatusConflict, "in_progress")
		return
	}
	if err != nil {
		h.logger.Error("manual backup", "error", err)
		writeFailure(w, http.StatusInternalServerError, "backup_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": res.Key, "size": res.Size})
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeFailure(w, http.StatusServiceUnavailable, "not_configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": h.backups.Status()})
}
