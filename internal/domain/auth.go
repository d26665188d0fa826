package domain

import "time"

// OperatorRole enumerates what an operator may do through the API.
type OperatorRole string

const (
	OperatorRoleViewer   OperatorRole = "VIEWER"
	OperatorRoleMigrator OperatorRole = "MIGRATOR"
)

// Operator is a person allowed to drive migrations.
type Operator struct {
	Name         string
	Role         OperatorRole
	PasswordHash string
}

// Token represents issued authentication token metadata.
type Token struct {
	Subject   string
	Role      OperatorRole
	ExpiresAt time.Time
	IssuedAt  time.Time
}
