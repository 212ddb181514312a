package loans

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroups registers loan routes. The checkout endpoint lives
// under the books group so members can act on the book they are viewing; the
// rest live under the loans group. Staff-only operations take the staff
// middleware.
func RegisterRoutesWithGroups(booksGroup *echo.Group, loansGroup *echo.Group, db *bun.DB, staff echo.MiddlewareFunc) {
	h := handler{
		loanService: NewService(db),
	}

	booksGroup.POST("/:id/checkout", h.checkout)

	loansGroup.GET("/mine", h.mine)
	loansGroup.POST("/:id/return", h.returnLoan)

	loansGroup.GET("", h.list, staff)
	loansGroup.POST("", h.assign, staff)
	loansGroup.POST("/:id/force-return", h.forceReturn, staff)
}
