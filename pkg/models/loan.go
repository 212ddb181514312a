package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Loan records a single lending transaction between a member and a book.
// Loans are never deleted: a return flips IsActive and stamps ReturnedAt.
type Loan struct {
	bun.BaseModel `bun:"table:loans,alias:l"`

	ID           int        `bun:",pk,nullzero" json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MemberID     int        `bun:",nullzero" json:"member_id"`
	Member       *User      `bun:"rel:belongs-to,join:member_id=id" json:"member,omitempty"`
	BookID       int        `bun:",nullzero" json:"book_id"`
	Book         *Book      `bun:"rel:belongs-to,join:book_id=id" json:"book,omitempty"`
	CheckedOutAt time.Time  `json:"checked_out_at"`
	ReturnedAt   *time.Time `json:"returned_at"`
	IsActive     bool       `json:"is_active"`
}
