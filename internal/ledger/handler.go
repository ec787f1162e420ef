package ledger

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handler exposes read endpoints over accounts, ledgers, and book
// transactions.
type Handler struct {
	service *Service
}

// NewHandler constructs a ledger handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type ledgerBalanceResponse struct {
	LedgerID uuid.UUID `json:"ledger_id"`
	Name     string    `json:"name"`
	Currency string    `json:"currency"`
	Balance  int64     `json:"balance"`
}

// Balances returns per-ledger and total balances for an account.
func (h *Handler) Balances(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("accountId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid account id")
	}
	account, err := h.service.Store().GetAccount(c.UserContext(), accountID)
	if err != nil {
		return mapError(err)
	}
	ledgers, err := h.service.Store().LedgersForAccount(c.UserContext(), account.ID)
	if err != nil {
		return mapError(err)
	}
	out := make([]ledgerBalanceResponse, 0, len(ledgers))
	var total int64
	for _, l := range ledgers {
		b, err := h.service.Store().Balance(c.UserContext(), l.ID)
		if err != nil {
			return mapError(err)
		}
		total += b
		out = append(out, ledgerBalanceResponse{LedgerID: l.ID, Name: l.Name, Currency: l.Currency, Balance: b})
	}
	return c.JSON(fiber.Map{"account_id": account.ID, "total": total, "ledgers": out})
}

type directedResponse struct {
	ID           uuid.UUID `json:"id"`
	OpaqueID     string    `json:"opaque_id"`
	ApplyAt      time.Time `json:"apply_at"`
	Amount       int64     `json:"amount"`
	SignedAmount int64     `json:"signed_amount"`
	Currency     string    `json:"currency"`
	Memo         string    `json:"memo"`
}

// Transactions lists a ledger's combined book transactions, signed relative
// to the ledger.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	ledgerID, err := uuid.Parse(c.Params("ledgerId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid ledger id")
	}
	if _, err := h.service.Store().GetLedger(c.UserContext(), ledgerID); err != nil {
		return mapError(err)
	}
	bts, err := h.service.Store().CombinedBookTransactions(c.UserContext(), ledgerID)
	if err != nil {
		return mapError(err)
	}
	out := make([]directedResponse, 0, len(bts))
	for _, bt := range bts {
		d, err := bt.DirectedTo(ledgerID)
		if err != nil {
			return mapError(err)
		}
		out = append(out, directedResponse{
			ID:           d.ID,
			OpaqueID:     d.OpaqueID,
			ApplyAt:      d.ApplyAt,
			Amount:       d.Amount,
			SignedAmount: d.SignedAmount,
			Currency:     d.Currency,
			Memo:         d.Memo,
		})
	}
	return c.JSON(fiber.Map{"ledger_id": ledgerID, "transactions": out})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
