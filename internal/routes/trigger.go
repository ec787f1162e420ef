package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makala-pay/makala_pay/internal/trigger"
)

// RegisterTriggerRoutes wires subsidy trigger endpoints.
func RegisterTriggerRoutes(r fiber.Router, h *trigger.Handler) {
	r.Post("/triggers", h.Create)
	r.Post("/triggers/:id/subdivide", h.Subdivide)
}
