package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the customer's role. Only RoleAdmin and RoleManager are ever persisted.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleManager Role = "Manager"
)

// Roles lists the valid roles in display order.
var Roles = []Role{RoleAdmin, RoleManager}

// RoleAll is the filter value that matches every role. It is never stored.
const RoleAll = "All"

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleManager
}

// Customer is a record in the local cache.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`

	// Set by the store on insert and update.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RawCustomer is a customer as delivered by the remote source.
// Email and Role may be null; Role is free text.
type RawCustomer struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

// NewID returns a fresh identifier for a locally created customer.
func NewID() string {
	return uuid.NewString()
}

// NameKey returns the normalized name used for uniqueness checks.
func (c Customer) NameKey() string {
	return NormalizeName(c.Name)
}

// Normalized returns c with its free-text fields trimmed and an
// unrecognized role mapped to Admin.
func (c Customer) Normalized() Customer {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	if !c.Role.Valid() {
		raw := string(c.Role)
		c.Role = NormalizeRole(&raw)
	}
	return c
}

// ToCustomer converts a remote record into a Customer with a normalized role.
// The second return value reports whether a non-empty, unrecognized role
// was coerced to Admin.
func (r RawCustomer) ToCustomer() (Customer, bool) {
	role, coerced := NormalizeRoleReport(r.Role)
	c := Customer{
		ID:   r.ID,
		Name: r.Name,
		Role: role,
	}
	if r.Email != nil {
		c.Email = *r.Email
	}
	return c, coerced
}

// String returns a short description for log lines.
func (c Customer) String() string {
	return fmt.Sprintf("%s (%s, %s)", c.ID, c.Name, c.Role)
}
