package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/coreflow360/core/internal/config"
	"github.com/coreflow360/core/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, webhookCfg config.Webhook) {
	r.Get("/health", h.HandleHealth)
	r.Get("/health/ready", h.HandleReady)

	// Billing webhooks sit outside tenant scoping; signature verification
	// authenticates the billing provider.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.WebhookHMAC(webhookCfg.BillingSecret, "X-Billing-Signature")).
			Post("/billing", h.HandleBillingWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Catalog (tenant independent)
		r.Get("/bundles", h.HandleListBundles)
		r.Post("/pricing/quote", h.HandleQuote)
		r.Get("/backends", h.HandleListBackends)

		// Tenant-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireTenant)

			r.Post("/capabilities/{id}/execute", h.HandleExecute)
			r.Get("/entitlements", h.HandleListEntitlements)
			r.Get("/usage", h.HandleUsage)
			r.Get("/usage/costs", h.HandleListCosts)
			r.Post("/admin/usage/adjust", h.HandleAdjustUsage)
		})
	})
}
