package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/licensegate/internal/reminder"
)

type Sweeper interface {
	Sweep(ctx context.Context) (reminder.Result, error)
}

type CronHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

func NewCronHandler(s Sweeper, logger *slog.Logger) *CronHandler {
	return &CronHandler{sweeper: s, logger: logger}
}

func (h *CronHandler) DemoEndingReminder(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.Error("reminder sweep", "error", err)
		writeFailure(w, http.StatusInternalServerError, "query_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"targetDate": res.TargetDate,
		"matched":    res.Matched,
		"sent":       res.Sent,
	})
}
