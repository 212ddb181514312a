package books

// ListBooksQuery represents the query parameters for listing books.
type ListBooksQuery struct {
	Limit   int     `query:"limit" default:"24" validate:"min=1,max=100"`
	Offset  int     `query:"offset" validate:"min=0"`
	GenreID *int    `query:"genre_id" validate:"omitempty,min=1"`
	Search  *string `query:"search" validate:"omitempty,max=100"`
}

// CreateBookPayload represents the request body for creating a book.
type CreateBookPayload struct {
	Title           string   `json:"title" validate:"required,max=200" mod:"trim"`
	Author          string   `json:"author" validate:"required,max=200" mod:"trim"`
	ISBN            *string  `json:"isbn" validate:"omitempty,max=13" mod:"trim"`
	Genres          []string `json:"genres" validate:"omitempty,dive,max=100"`
	TotalCopies     int      `json:"total_copies" default:"1" validate:"min=1"`
	AvailableCopies *int     `json:"available_copies" validate:"omitempty,min=0"`
}

// UpdateBookPayload represents the request body for updating a book.
type UpdateBookPayload struct {
	Title           *string   `json:"title" validate:"omitempty,max=200" mod:"trim"`
	Author          *string   `json:"author" validate:"omitempty,max=200" mod:"trim"`
	ISBN            *string   `json:"isbn" validate:"omitempty,max=13" mod:"trim"`
	Genres          *[]string `json:"genres" validate:"omitempty,dive,max=100"`
	TotalCopies     *int      `json:"total_copies" validate:"omitempty,min=1"`
	AvailableCopies *int      `json:"available_copies" validate:"omitempty,min=0"`
}
