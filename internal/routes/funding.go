package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makala-pay/makala_pay/internal/funding"
)

// RegisterFundingRoutes wires funding transaction endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/accounts/:accountId/funding/off-platform", h.CreateOffPlatform)
	r.Get("/funding/:id", h.Get)
	r.Post("/funding/:id/collect", h.Collect)
	r.Post("/funding/:id/cancel", h.Cancel)
}
