package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditLog records a state-machine transition (or a failed attempt) against a
// funding or payout transaction.
type AuditLog struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	At            time.Time
	Event         string
	FromStatus    string
	ToStatus      string
	Message       string
	Reason        string
	ActorID       uuid.UUID
}

// TicketSink opens support tickets for transactions that need human review.
type TicketSink interface {
	CreateTicket(ctx context.Context, subject, body string) error
}

// LoggerTickets is a stub ticket sink that writes tickets to the structured
// logger. Production deployments swap in the helpdesk integration.
type LoggerTickets struct {
	logger *slog.Logger
}

// NewLoggerTickets constructs a logging ticket sink.
func NewLoggerTickets(logger *slog.Logger) *LoggerTickets {
	return &LoggerTickets{logger: logger}
}

// CreateTicket writes the ticket to the structured logger.
func (t *LoggerTickets) CreateTicket(_ context.Context, subject, body string) error {
	if t == nil || t.logger == nil {
		return nil
	}
	t.logger.Info("support ticket", "subject", subject, "body", body)
	return nil
}
