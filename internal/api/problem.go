package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/sweeper/internal/dispatch"
	serrors "github.com/p-blackswan/sweeper/internal/errors"
	"github.com/p-blackswan/sweeper/internal/fleet"
)

const problemContentType = "application/problem+json"

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	}, problemContentType)
}

// errorResponse maps a domain error onto a problem response. Unknown errors
// are left to the server's error handler.
func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, serrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.Is(err, serrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_input", "Bad Request", err.Error())
	case errors.Is(err, dispatch.ErrInFlight):
		return problemResponse(c, fiber.StatusConflict, "sweep_in_flight", "Conflict", err.Error())
	case errors.Is(err, fleet.ErrRunActive):
		return problemResponse(c, fiber.StatusConflict, "fleet_run_active", "Conflict", err.Error())
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrStopped):
		c.Set(fiber.HeaderRetryAfter, "30")
		return problemResponse(c, fiber.StatusServiceUnavailable, "dispatch_unavailable", "Service Unavailable", err.Error())
	}
	return err
}
