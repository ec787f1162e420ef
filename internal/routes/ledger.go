package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makala-pay/makala_pay/internal/ledger"
)

// RegisterLedgerRoutes wires account and ledger read endpoints.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler) {
	r.Get("/accounts/:accountId/balances", h.Balances)
	r.Get("/ledgers/:ledgerId/transactions", h.Transactions)
}
