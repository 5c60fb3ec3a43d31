package httpapi

import (
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// statusFor prefers the code carried by the error and falls back to the
// category.
func statusFor(richErr *goerrors.Error) int {
	if richErr.Code >= 400 && richErr.Code < 600 {
		return richErr.Code
	}
	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	case goerrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return fiber.StatusForbidden
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	case goerrors.CategoryRateLimit:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func (ctrl *Controller) renderError(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := statusFor(richErr)
	if status >= fiber.StatusInternalServerError {
		ctrl.logger.Error("request failed",
			"path", c.Path(),
			"category", richErr.Category,
			"text_code", richErr.TextCode,
			"error", err,
		)
	} else {
		ctrl.logger.Debug("request rejected",
			"path", c.Path(),
			"category", richErr.Category,
			"text_code", richErr.TextCode,
		)
	}

	body := fiber.Map{
		"category": richErr.Category,
		"message":  richErr.Message,
	}
	if richErr.TextCode != "" {
		body["text_code"] = richErr.TextCode
	}
	if fields, ok := richErr.Metadata["fields"]; ok {
		body["fields"] = fields
	}
	return c.Status(status).JSON(fiber.Map{"error": body})
}
