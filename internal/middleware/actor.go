package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const actorIDHeader = "X-Actor-ID"

// ActorID returns the acting operator's id from the request, or uuid.Nil
// when absent or malformed. Book transactions record it for attribution.
func ActorID(c *fiber.Ctx) uuid.UUID {
	id, err := uuid.Parse(c.Get(actorIDHeader))
	if err != nil {
		return uuid.Nil
	}
	return id
}
