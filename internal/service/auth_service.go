package service

import (
	"context"

	"github.com/workhistory/history-migrator/internal/auth"
	"github.com/workhistory/history-migrator/internal/config"
	"github.com/workhistory/history-migrator/internal/domain"
)

// dummyHash keeps login timing similar for unknown operators.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z6n7f1y1mZ8C7o6vZ5bK6xqS"

// AuthService authenticates operators configured via AUTH_OPERATORS.
type AuthService struct {
	operators map[string]domain.Operator
	tokenMgr  *auth.TokenManager
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig) (*AuthService, error) {
	operators, err := auth.ParseOperators(cfg.Operators)
	if err != nil {
		return nil, err
	}
	return &AuthService{
		operators: operators,
		tokenMgr:  auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
	}, nil
}

// TokenManager exposes the JWT manager for middleware.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// Login verifies credentials and issues a token.
func (s *AuthService) Login(_ context.Context, name, password string) (domain.Token, string, error) {
	operator, ok := s.operators[name]
	if !ok {
		_ = auth.ComparePassword(dummyHash, password)
		return domain.Token{}, "", auth.ErrInvalidCredentials
	}
	if err := auth.ComparePassword(operator.PasswordHash, password); err != nil {
		return domain.Token{}, "", auth.ErrInvalidCredentials
	}
	return s.tokenMgr.GenerateToken(operator.Name, operator.Role)
}
