package billing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/licensegate/internal/identity"
	"github.com/dukerupert/licensegate/internal/license"
	"github.com/dukerupert/licensegate/internal/model"
)

const maxBodyBytes = 65536

type LicenseStore interface {
	Create(ctx context.Context, email string, plan model.PlanType, expiresAt *time.Time) (*model.License, error)
	UpsertByCustomerID(ctx context.Context, u model.LicenseUpsert) (*model.License, error)
	UpdateBillingPeriod(ctx context.Context, customerID string, expiresAt, graceUntil time.Time) (bool, error)
	UpdateStatusByCustomerID(ctx context.Context, customerID, status string) (bool, error)
}

// LinkSender mails a fresh download link to a new customer.
type LinkSender interface {
	SendDownloadLink(ctx context.Context, email string) error
}

type WebhookHandler struct {
	secret   string
	licenses LicenseStore
	links    LinkSender
	logger   *slog.Logger
}

func NewWebhookHandler(secret string, licenses LicenseStore, links LinkSender, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:   secret,
		licenses: licenses,
		links:    links,
		logger:   logger.With("component", "billing"),
	}
}

func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		http.Error(w, "webhook not configured", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("invalid webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe event", "type", event.Type, "id", event.ID)

	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(ctx, event)
	case "invoice.paid":
		h.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		h.handleInvoicePaymentFailed(event)
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(ctx, event)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("unmarshal checkout session", "error", err)
		return
	}

	var addr string
	if sess.CustomerDetails != nil {
		addr = identity.Email(sess.CustomerDetails.Email)
	}
	if addr == "" {
		addr = identity.Email(sess.CustomerEmail)
	}
	if addr == "" {
		h.logger.Warn("checkout session missing email", "session", sess.ID)
		return
	}

	if sess.Customer != nil && sess.Customer.ID != "" {
		_, err := h.licenses.UpsertByCustomerID(ctx, model.LicenseUpsert{
			StripeCustomerID: sess.Customer.ID,
			Email:            addr,
			Status:           model.StatusActive,
			PlanType:         model.PlanPaid,
		})
		if err != nil {
			h.logger.Error("upsert license", "customer", sess.Customer.ID, "error", err)
			return
		}
	} else if _, err := h.licenses.Create(ctx, addr, model.PlanPaid, nil); err != nil {
		h.logger.Error("create license", "email", addr, "error", err)
		return
	}

	if err := h.links.SendDownloadLink(ctx, addr); err != nil {
		h.logger.Error("send download link", "email", addr, "error", err)
		return
	}
	h.logger.Info("checkout completed", "email", addr)
}

// invoicePeriodEnd prefers the subscription line's service period over the
// invoice's own period, which only covers pending items.
func invoicePeriodEnd(invoice stripe.Invoice) int64 {
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End > 0 {
				return line.Period.End
			}
		}
	}
	return invoice.PeriodEnd
}

func (h *WebhookHandler) handleInvoicePaid(ctx context.Context, event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("unmarshal invoice", "error", err)
		return
	}
	if invoice.Customer == nil || invoice.Customer.ID == "" {
		return
	}

	end := invoicePeriodEnd(invoice)
	if end == 0 {
		h.logger.Warn("invoice without period end", "invoice", invoice.ID)
		return
	}
	expires := time.Unix(end, 0).UTC()

	grace := expires.Add(license.GracePeriod)

	ok, err := h.licenses.UpdateBillingPeriod(ctx, invoice.Customer.ID, expires, grace)
	if err != nil {
		h.logger.Error("update billing period", "customer", invoice.Customer.ID, "error", err)
		return
	}
	if !ok {
		// The invoice can arrive before checkout.session.completed. Create the
		// license now so the first period is enforced; checkout keeps the dates.
		addr := identity.Email(invoice.CustomerEmail)
		if addr == "" {
			h.logger.Warn("invoice for unknown customer without email", "customer", invoice.Customer.ID)
			return
		}
		_, err := h.licenses.UpsertByCustomerID(ctx, model.LicenseUpsert{
			StripeCustomerID: invoice.Customer.ID,
			Email:            addr,
			Status:           model.StatusActive,
			PlanType:         model.PlanPaid,
			ExpiresAt:        &expires,
			GraceUntil:       &grace,
		})
		if err != nil {
			h.logger.Error("upsert license from invoice", "customer", invoice.Customer.ID, "error", err)
			return
		}
	}
	h.logger.Info("billing period extended", "customer", invoice.Customer.ID, "expires_at", expires)
}

func (h *WebhookHandler) handleInvoicePaymentFailed(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("unmarshal invoice", "error", err)
		return
	}
	var customer string
	if invoice.Customer != nil {
		customer = invoice.Customer.ID
	}
	// The grace window covers retries; status stays active.
	h.logger.Warn("invoice payment failed", "customer", customer, "invoice", invoice.ID)
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("unmarshal subscription", "error", err)
		return
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return
	}

	ok, err := h.licenses.UpdateStatusByCustomerID(ctx, sub.Customer.ID, model.StatusCanceled)
	if err != nil {
		h.logger.Error("cancel license", "customer", sub.Customer.ID, "error", err)
		return
	}
	if ok {
		h.logger.Info("license canceled", "customer", sub.Customer.ID)
	}
}
