package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/workhistory/history-migrator/internal/api/dto"
	"github.com/workhistory/history-migrator/internal/auth"
	"github.com/workhistory/history-migrator/internal/domain"
	apperrors "github.com/workhistory/history-migrator/pkg/util"
)

// Authenticator issues operator tokens.
type Authenticator interface {
	Login(ctx context.Context, name, password string) (domain.Token, string, error)
}

// AuthHandler exposes operator login.
type AuthHandler struct {
	service Authenticator
}

// NewAuthHandler constructs handler.
func NewAuthHandler(service Authenticator) *AuthHandler {
	return &AuthHandler{service: service}
}

// Login POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Name) == "" || req.Password == "" {
		return apperrors.NewValidationError("name and password required", nil)
	}
	token, raw, err := h.service.Login(c.UserContext(), req.Name, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return apperrors.NewUnauthorized("invalid credentials")
		}
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AuthResponse{
		Token:     raw,
		Role:      string(token.Role),
		ExpiresAt: token.ExpiresAt,
	}})
}
