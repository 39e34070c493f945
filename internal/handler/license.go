package handler

import (
	"context"
	"net/http"

	"github.com/dukerupert/licensegate/internal/license"
)

type Validator interface {
	Validate(ctx context.Context, req license.Request) license.Decision
}

type LicenseHandler struct {
	validator Validator
}

func NewLicenseHandler(v Validator) *LicenseHandler {
	return &LicenseHandler{validator: v}
}

// Validate answers every check with 200; the outcome is in the body.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		// Unparseable input is treated as missing fields.
		fields = nil
	}

	d := h.validator.Validate(r.Context(), license.Request{
		Email:   fields.Get("email"),
		Account: fields.Get("account"),
		Server:  fields.Get("server"),
	})
	writeJSON(w, http.StatusOK, d)
}
