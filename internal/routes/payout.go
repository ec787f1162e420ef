package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makala-pay/makala_pay/internal/payout"
)

// RegisterPayoutRoutes wires payout transaction and refund endpoints.
func RegisterPayoutRoutes(r fiber.Router, h *payout.Handler) {
	r.Post("/accounts/:accountId/payouts/off-platform", h.CreateOffPlatform)
	r.Post("/funding/:fundingId/refunds", h.Refund)
	r.Get("/payouts/:id", h.Get)
	r.Post("/payouts/:id/send", h.Send)
	r.Post("/payouts/:id/cancel", h.Cancel)
}
