package users

// CreateUserPayload represents the request body for creating a user.
type CreateUserPayload struct {
	Username string  `json:"username" validate:"required,min=3,max=50" mod:"trim"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Password string  `json:"password" validate:"required,min=8"`
	IsStaff  bool    `json:"is_staff"`
}

// ResetPasswordPayload represents the request body for resetting a password.
type ResetPasswordPayload struct {
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// ListUsersQuery represents the query parameters for listing members.
type ListUsersQuery struct {
	Search *string `query:"search" validate:"omitempty,max=100"`
	Limit  int     `query:"limit" default:"50" validate:"min=1,max=100"`
	Offset int     `query:"offset" validate:"min=0"`
}
