package handler

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/dukerupert/licensegate/internal/download"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var statusMessages = map[download.Status]string{
	download.StatusInvalidRequest:   "Invalid request.",
	download.StatusInvalidOrExpired: "This link is invalid or has expired.",
	download.StatusAlreadyUsed:      "This link has already been used.",
	download.StatusServerError:      "Something went wrong. Please try again later.",
}

type Downloads interface {
	Present(ctx context.Context, token string) download.Result
	Redeem(ctx context.Context, token string) download.Result
}

type DownloadHandler struct {
	downloads Downloads
	product   string
	logger    *slog.Logger
}

func NewDownloadHandler(d Downloads, product string, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{downloads: d, product: product, logger: logger}
}

// Present shows the confirmation page. It never consumes the token, so link
// previews and scanners cannot burn it.
func (h *DownloadHandler) Present(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	res := h.downloads.Present(r.Context(), token)
	if !res.OK() {
		h.renderError(w, res)
		return
	}
	h.render(w, http.StatusOK, "confirm", map[string]string{
		"Product": h.product,
		"Token":   token,
	})
}

func (h *DownloadHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.renderError(w, download.Result{Status: download.StatusInvalidRequest, Code: http.StatusBadRequest})
		return
	}

	res := h.downloads.Redeem(r.Context(), r.PostForm.Get("token"))
	if !res.OK() {
		h.renderError(w, res)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, res.URL, http.StatusSeeOther)
}

func (h *DownloadHandler) renderError(w http.ResponseWriter, res download.Result) {
	msg, ok := statusMessages[res.Status]
	if !ok {
		msg = statusMessages[download.StatusServerError]
	}
	code := res.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	h.render(w, code, "error", map[string]string{
		"Product": h.product,
		"Message": msg,
	})
}

func (h *DownloadHandler) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("render page", "page", name, "error", err)
	}
}
