package books

import (
	"net/http"
	"strconv"

	"github.com/circulatehq/circulate/pkg/auth"
	"github.com/circulatehq/circulate/pkg/errcodes"
	"github.com/circulatehq/circulate/pkg/loans"
	"github.com/circulatehq/circulate/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	bookService *Service
	loanService *loans.Service
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListBooksQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	opts := ListBooksOptions{
		Limit:   &params.Limit,
		Offset:  &params.Offset,
		GenreID: params.GenreID,
		Search:  params.Search,
	}

	books, total, err := h.bookService.ListBooksWithTotal(ctx, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Books []*models.Book `json:"books"`
		Total int            `json:"total"`
	}{books, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Book")
	}

	book, err := h.bookService.RetrieveBook(ctx, RetrieveBookOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	// Checkout eligibility for the requesting user.
	hasActiveLoan := false
	if userID, ok := auth.GetUserIDFromContext(c); ok {
		hasActiveLoan, err = h.loanService.HasActiveLoan(ctx, userID, book.ID)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	resp := struct {
		*models.Book
		HasActiveLoan bool `json:"has_active_loan"`
		CanCheckout   bool `json:"can_checkout"`
	}{book, hasActiveLoan, book.AvailableCopies > 0 && !hasActiveLoan}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	params := CreateBookPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	available := params.TotalCopies
	if params.AvailableCopies != nil {
		available = *params.AvailableCopies
	}
	if available > params.TotalCopies {
		return errcodes.ValidationError("Available copies cannot exceed total copies")
	}

	isbn := params.ISBN
	if isbn != nil && *isbn == "" {
		isbn = nil
	}

	book := &models.Book{
		Title:           params.Title,
		Author:          params.Author,
		ISBN:            isbn,
		TotalCopies:     params.TotalCopies,
		AvailableCopies: available,
	}

	if err := h.bookService.CreateBook(ctx, book, params.Genres); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, book))
}

func (h *handler) update(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Book")
	}

	params := UpdateBookPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	book, err := h.bookService.RetrieveBook(ctx, RetrieveBookOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	opts := UpdateBookOptions{Columns: []string{}}
	if params.Title != nil {
		book.Title = *params.Title
		opts.Columns = append(opts.Columns, "title")
	}
	if params.Author != nil {
		book.Author = *params.Author
		opts.Columns = append(opts.Columns, "author")
	}
	if params.ISBN != nil {
		if *params.ISBN == "" {
			book.ISBN = nil
		} else {
			book.ISBN = params.ISBN
		}
		opts.Columns = append(opts.Columns, "isbn")
	}
	if params.TotalCopies != nil {
		book.TotalCopies = *params.TotalCopies
		opts.Columns = append(opts.Columns, "total_copies")
	}
	if params.AvailableCopies != nil {
		book.AvailableCopies = *params.AvailableCopies
		opts.Columns = append(opts.Columns, "available_copies")
	}
	if params.Genres != nil {
		opts.UpdateGenres = true
		opts.GenreNames = *params.Genres
	}

	if book.AvailableCopies > book.TotalCopies {
		return errcodes.ValidationError("Available copies cannot exceed total copies")
	}

	if err := h.bookService.UpdateBook(ctx, book, opts); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, book))
}

func (h *handler) deleteBook(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Book")
	}

	if err := h.bookService.DeleteBook(ctx, id); err != nil {
		return errors.WithStack(err)
	}

	return c.NoContent(http.StatusNoContent)
}
