package loans

// ListLoansQuery represents the query parameters for the staff loan listing.
type ListLoansQuery struct {
	Status   *string `query:"status" validate:"omitempty,oneof=active returned"`
	MemberID *int    `query:"member_id" validate:"omitempty,min=1"`
	BookID   *int    `query:"book_id" validate:"omitempty,min=1"`
	Limit    int     `query:"limit" default:"50" validate:"min=1,max=100"`
	Offset   int     `query:"offset" validate:"min=0"`
}

// AssignLoanPayload represents the request body for a staff-assigned loan.
type AssignLoanPayload struct {
	MemberID int `json:"member_id" validate:"required,min=1"`
	BookID   int `json:"book_id" validate:"required,min=1"`
}
