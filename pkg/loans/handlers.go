package loans

import (
	"net/http"
	"strconv"

	"github.com/circulatehq/circulate/pkg/auth"
	"github.com/circulatehq/circulate/pkg/errcodes"
	"github.com/circulatehq/circulate/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	loanService *Service
}

// checkout lends the book in the URL to the requesting user.
func (h *handler) checkout(c echo.Context) error {
	ctx := c.Request().Context()
	bookID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Book")
	}

	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		return errcodes.Unauthorized("Authentication required")
	}

	loan, err := h.loanService.Checkout(ctx, userID, bookID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, loan))
}

// returnLoan closes one of the requesting user's own loans.
func (h *handler) returnLoan(c echo.Context) error {
	ctx := c.Request().Context()
	loanID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Loan")
	}

	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		return errcodes.Unauthorized("Authentication required")
	}

	loan, err := h.loanService.Return(ctx, loanID, ReturnOptions{
		MemberID: &userID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, loan))
}

// mine lists the requesting user's loans, split into active and past.
func (h *handler) mine(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		return errcodes.Unauthorized("Authentication required")
	}

	active := true
	activeLoans, err := h.loanService.ListLoans(ctx, ListLoansOptions{
		MemberID: &userID,
		Active:   &active,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	past := false
	pastLoans, err := h.loanService.ListLoans(ctx, ListLoansOptions{
		MemberID: &userID,
		Active:   &past,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		ActiveLoans []*models.Loan `json:"active_loans"`
		PastLoans   []*models.Loan `json:"past_loans"`
	}{activeLoans, pastLoans}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

// list is the staff view over all loans.
func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListLoansQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	opts := ListLoansOptions{
		MemberID: params.MemberID,
		BookID:   params.BookID,
		Limit:    &params.Limit,
		Offset:   &params.Offset,
	}
	if params.Status != nil {
		active := *params.Status == "active"
		opts.Active = &active
	}

	loans, total, err := h.loanService.ListLoansWithTotal(ctx, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Loans []*models.Loan `json:"loans"`
		Total int            `json:"total"`
	}{loans, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

// assign lets staff check a book out on behalf of a member.
func (h *handler) assign(c echo.Context) error {
	ctx := c.Request().Context()

	params := AssignLoanPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	loan, err := h.loanService.Checkout(ctx, params.MemberID, params.BookID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, loan))
}

// forceReturn lets staff close any active loan regardless of owner.
func (h *handler) forceReturn(c echo.Context) error {
	ctx := c.Request().Context()
	loanID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Loan")
	}

	loan, err := h.loanService.Return(ctx, loanID, ReturnOptions{})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, loan))
}
