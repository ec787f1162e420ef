package trigger

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handler exposes operator endpoints for subsidy triggers.
type Handler struct {
	service *Service
}

// NewHandler constructs a trigger handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Label                    string    `json:"label"`
	OriginatingLedgerID      uuid.UUID `json:"originating_ledger_id"`
	ReceivingLedgerName      string    `json:"receiving_ledger_name"`
	MatchMultiplier          float64   `json:"match_multiplier"`
	PayerFraction            float64   `json:"payer_fraction"`
	MaximumCumulativeSubsidy int64     `json:"maximum_cumulative_subsidy"`
	ActiveAt                 time.Time `json:"active_at"`
	ActiveUntil              time.Time `json:"active_until"`
	ProgramID                uuid.UUID `json:"program_id"`
}

type subdivideRequest struct {
	Slices int    `json:"slices"`
	Unit   string `json:"unit"`
}

// Create persists a new subsidy trigger.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Label == "" || req.OriginatingLedgerID == uuid.Nil || req.ReceivingLedgerName == "" {
		return fiber.NewError(http.StatusBadRequest, "label, originating_ledger_id and receiving_ledger_name are required")
	}
	if !req.ActiveUntil.After(req.ActiveAt) {
		return fiber.NewError(http.StatusBadRequest, "active_until must be after active_at")
	}
	t, err := h.service.Store().Create(c.UserContext(), Trigger{
		Label:                    req.Label,
		OriginatingLedgerID:      req.OriginatingLedgerID,
		ReceivingLedgerName:      req.ReceivingLedgerName,
		MatchMultiplier:          req.MatchMultiplier,
		PayerFraction:            req.PayerFraction,
		MaximumCumulativeSubsidy: req.MaximumCumulativeSubsidy,
		ActiveAt:                 req.ActiveAt,
		ActiveUntil:              req.ActiveUntil,
		ProgramID:                req.ProgramID,
	})
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(t)
}

// Subdivide splits a trigger into sequential slices.
func (h *Handler) Subdivide(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid trigger id")
	}
	var req subdivideRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	var unit time.Duration
	if req.Unit != "" {
		unit, err = time.ParseDuration(req.Unit)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid unit: "+err.Error())
		}
	}
	subs, err := h.service.SubdivideTrigger(c.UserContext(), id, req.Slices, unit)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"triggers": subs})
}
