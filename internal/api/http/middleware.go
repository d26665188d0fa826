package http

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/workhistory/history-migrator/internal/observability"
	apperrors "github.com/workhistory/history-migrator/pkg/util"
)

// HeaderRequestID carries the request correlation id in both directions.
const HeaderRequestID = "X-Request-ID"

// RegisterMiddlewares attaches the global middleware chain. Item failures surface as 4xx
// responses, store outages as 5xx.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestIDMiddleware())
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	// The logger wraps error rendering so it records the final status.
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
}

func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Locals(observability.RequestIDLocal, id)
		c.Set(HeaderRequestID, id)
		return c.Next()
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err == nil {
				return
			}
			domainErr := apperrors.ToDomainError(err)
			metrics.RecordError(c.Route().Path, c.Method(), domainErr.Code)
			logDomainError(logger, c, domainErr)
			err = renderError(c, domainErr)
		}()
		return c.Next()
	}
}

func renderError(c *fiber.Ctx, domainErr *apperrors.DomainError) error {
	body := fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}
	if len(domainErr.Details) > 0 {
		body["details"] = domainErr.Details
	}
	if id, ok := c.Locals(observability.RequestIDLocal).(string); ok {
		body["request_id"] = id
	}
	return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{"error": body})
}

func logDomainError(logger *zap.Logger, c *fiber.Ctx, domainErr *apperrors.DomainError) {
	fields := []zap.Field{
		zap.String("code", domainErr.Code),
		zap.String("path", c.Path()),
	}
	if id, ok := c.Locals(observability.RequestIDLocal).(string); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	switch {
	case domainErr.HTTPStatus >= 500:
		logger.Error("request failed", append(fields, zap.Error(domainErr))...)
	case domainErr.HTTPStatus == fiber.StatusUnprocessableEntity || domainErr.HTTPStatus == fiber.StatusConflict:
		logger.Warn("item not migrated", append(fields,
			zap.Any("details", domainErr.Details),
			zap.String("message", domainErr.Message))...)
	}
}
