package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/ledger"
	"github.com/makala-pay/makala_pay/internal/middleware"
	"github.com/makala-pay/makala_pay/internal/payment"
)

// Handler exposes operator endpoints for funding transactions.
type Handler struct {
	service *Service
	ledgers *ledger.Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service, ledgers *ledger.Service) *Handler {
	return &Handler{service: service, ledgers: ledgers}
}

type createRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

type transactionResponse struct {
	ID                          uuid.UUID `json:"id"`
	Status                      Status    `json:"status"`
	Amount                      int64     `json:"amount"`
	Currency                    string    `json:"currency"`
	AccountID                   uuid.UUID `json:"account_id"`
	OriginatedBookTransactionID uuid.UUID `json:"originated_book_transaction_id,omitempty"`
	ReversalBookTransactionID   uuid.UUID `json:"reversal_book_transaction_id,omitempty"`
	Memo                        string    `json:"memo"`
}

// CreateOffPlatform records a manual off-platform funding for an account and
// begins collecting immediately.
func (h *Handler) CreateOffPlatform(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("accountId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid account id")
	}
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.ledgers.Store().GetAccount(c.UserContext(), accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "account not found")
		}
		return mapError(err)
	}
	strat := h.service.Strategies().OffPlatform(req.Note)
	t, err := h.service.StartNew(c.UserContext(), account, req.Amount, strat, CollectIfReady, middleware.ActorID(c))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(t))
}

// Get returns one funding transaction with its audit trail.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid transaction id")
	}
	t, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return mapError(err)
	}
	audits, err := h.service.Store().Audits(c.UserContext(), t.ID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"transaction": toResponse(t), "audit_logs": audits})
}

// Collect drives one collect_funds transition.
func (h *Handler) Collect(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid transaction id")
	}
	t, err := h.service.CollectFunds(c.UserContext(), id, middleware.ActorID(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toResponse(t))
}

// Cancel cancels a non-terminal funding transaction.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid transaction id")
	}
	t, err := h.service.Cancel(c.UserContext(), id, middleware.ActorID(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toResponse(t))
}

func toResponse(t Transaction) transactionResponse {
	return transactionResponse{
		ID:                          t.ID,
		Status:                      t.Status,
		Amount:                      t.Amount,
		Currency:                    t.Currency,
		AccountID:                   t.AccountID,
		OriginatedBookTransactionID: t.OriginatedBookTransactionID,
		ReversalBookTransactionID:   t.ReversalBookTransactionID,
		Memo:                        t.Memo,
	}
}

func mapError(err error) error {
	var invalid *payment.InvalidError
	var precondition *payment.PreconditionError
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.As(err, &invalid), errors.As(err, &precondition):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payment.ErrStrategyUnavailable), errors.Is(err, payment.ErrUnsupportedMethod):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
