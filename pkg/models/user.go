package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int       `bun:",pk,nullzero" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Username     string    `bun:",nullzero" json:"username"`
	Email        *string   `json:"email,omitempty"`
	PasswordHash string    `json:"-"` // Never expose password hash
	IsStaff      bool      `json:"is_staff"`
	IsActive     bool      `json:"is_active"`

	// ActiveLoanCount is populated by the staff member listing.
	ActiveLoanCount int `bun:",scanonly" json:"active_loan_count,omitempty"`
}
