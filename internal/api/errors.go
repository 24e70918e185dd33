package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/mediastash-io/mediastash/internal/domain"
)

// errorEnvelope is the uniform error response body.
type errorEnvelope struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Errors  []string `json:"errors,omitempty"`
}

// statusFor maps a domain error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case domain.ErrCodeNotFound:
		return fiber.StatusNotFound
	case domain.ErrCodeInternal:
		return fiber.StatusInternalServerError
	default:
		// InvalidArgument, Conflict, FailedPrecondition, Integrity,
		// InvalidContent and DataLoss are all client-visible 400s.
		return fiber.StatusBadRequest
	}
}

// respondError writes the error envelope for a domain error.
func respondError(c *fiber.Ctx, err error) error {
	var ue *domain.UploadError
	if !errors.As(err, &ue) {
		log.Error().Err(err).Str("path", c.Path()).Msg("Unclassified error")
		return c.Status(fiber.StatusInternalServerError).JSON(errorEnvelope{
			Success: false,
			Error:   "internal server error",
		})
	}

	status := statusFor(ue.Code)
	if status == fiber.StatusInternalServerError {
		log.Error().Err(ue).Str("path", c.Path()).Msg("Internal error")
		return c.Status(status).JSON(errorEnvelope{
			Success: false,
			Error:   ue.Message,
		})
	}

	return c.Status(status).JSON(errorEnvelope{
		Success: false,
		Error:   ue.Message,
		Errors:  ue.Details,
	})
}

// customErrorHandler handles errors that escape the handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	return c.Status(code).JSON(errorEnvelope{
		Success: false,
		Error:   message,
	})
}
