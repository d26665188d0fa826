package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/workhistory/history-migrator/internal/domain"
)

// ErrInvalidCredentials hides whether the operator or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// HashPassword hashes a plaintext password with configured cost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its hashed value.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// ParseOperators reads "name:role:hash" entries separated by commas.
// bcrypt hashes never contain ':' or ','.
func ParseOperators(list string) (map[string]domain.Operator, error) {
	operators := make(map[string]domain.Operator)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("operator entry %q: want name:role:hash", entry)
		}
		role := domain.OperatorRole(strings.ToUpper(parts[1]))
		if role != domain.OperatorRoleViewer && role != domain.OperatorRoleMigrator {
			return nil, fmt.Errorf("operator %s: unknown role %q", parts[0], parts[1])
		}
		if _, dup := operators[parts[0]]; dup {
			return nil, fmt.Errorf("operator %s listed twice", parts[0])
		}
		operators[parts[0]] = domain.Operator{Name: parts[0], Role: role, PasswordHash: parts[2]}
	}
	return operators, nil
}
