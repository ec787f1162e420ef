package payout

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/funding"
	"github.com/makala-pay/makala_pay/internal/ledger"
	"github.com/makala-pay/makala_pay/internal/middleware"
	"github.com/makala-pay/makala_pay/internal/payment"
)

// Handler exposes operator endpoints for payout transactions and refunds.
type Handler struct {
	service  *Service
	ledgers  *ledger.Service
	fundings funding.Store
}

// NewHandler constructs a payout handler.
func NewHandler(service *Service, ledgers *ledger.Service, fundings funding.Store) *Handler {
	return &Handler{service: service, ledgers: ledgers, fundings: fundings}
}

type createRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

type refundRequest struct {
	Amount int64 `json:"amount"`
}

type transactionResponse struct {
	ID                           uuid.UUID      `json:"id"`
	Status                       Status         `json:"status"`
	Classification               Classification `json:"classification"`
	Amount                       int64          `json:"amount"`
	Currency                     string         `json:"currency"`
	AccountID                    uuid.UUID      `json:"account_id"`
	OriginatedBookTransactionID  uuid.UUID      `json:"originated_book_transaction_id,omitempty"`
	CreditingBookTransactionID   uuid.UUID      `json:"crediting_book_transaction_id,omitempty"`
	ReversalBookTransactionID    uuid.UUID      `json:"reversal_book_transaction_id,omitempty"`
	RefundedFundingTransactionID uuid.UUID      `json:"refunded_funding_transaction_id,omitempty"`
	Memo                         string         `json:"memo"`
}

// CreateOffPlatform records a manual off-platform payout from an account's
// cash ledger.
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
	t, err := h.service.StartNew(c.UserContext(), account, req.Amount, strat, middleware.ActorID(c))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(t))
}

// Refund initiates a refund payout against a funding transaction.
func (h *Handler) Refund(c *fiber.Ctx) error {
	fundingID, err := uuid.Parse(c.Params("fundingId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid funding transaction id")
	}
	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	f, err := h.fundings.Get(c.UserContext(), fundingID)
	if err != nil {
		if errors.Is(err, funding.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "funding transaction not found")
		}
		return mapError(err)
	}
	t, err := h.service.InitiateRefund(c.UserContext(), f, req.Amount, time.Now().UTC(), middleware.IdempotencyKey(c), nil, middleware.ActorID(c))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(t))
}

// Get returns one payout transaction with its audit trail.
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

// Send drives one send_funds transition.
func (h *Handler) Send(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid transaction id")
	}
	t, err := h.service.SendFunds(c.UserContext(), id, middleware.ActorID(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toResponse(t))
}

// Cancel cancels a non-terminal payout transaction.
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
		ID:                           t.ID,
		Status:                       t.Status,
		Classification:               t.Classification(),
		Amount:                       t.Amount,
		Currency:                     t.Currency,
		AccountID:                    t.AccountID,
		OriginatedBookTransactionID:  t.OriginatedBookTransactionID,
		CreditingBookTransactionID:   t.CreditingBookTransactionID,
		ReversalBookTransactionID:    t.ReversalBookTransactionID,
		RefundedFundingTransactionID: t.RefundedFundingTransactionID,
		Memo:                         t.Memo,
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
	case errors.Is(err, ErrUnknownClassification):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
