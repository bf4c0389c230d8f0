package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
)

// ErrorHandler renders every error as {"error": {"code", "message"}}. Causes of
// internal and unavailable errors are logged and never returned.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorBody(statusSlug(fe.Code), fe.Message))
	}

	code := apperr.CodeOf(err)
	if code == codes.Internal || code == codes.Unavailable {
		log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(apperr.HTTPStatus(code)).JSON(errorBody(apperr.Slug(code), apperr.PublicMessage(err)))
}

func errorBody(code, message string) fiber.Map {
	return fiber.Map{"error": fiber.Map{"code": code, "message": message}}
}

func statusSlug(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity, fiber.StatusRequestEntityTooLarge:
		return apperr.Slug(codes.InvalidArgument)
	case fiber.StatusUnauthorized:
		return apperr.Slug(codes.Unauthenticated)
	case fiber.StatusForbidden:
		return apperr.Slug(codes.PermissionDenied)
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return apperr.Slug(codes.NotFound)
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	case fiber.StatusServiceUnavailable:
		return apperr.Slug(codes.Unavailable)
	}
	return apperr.Slug(codes.Internal)
}

// parseBody decodes an optional JSON body into out.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperr.InvalidArgument("invalid request body")
	}
	return nil
}
