package books

import (
	"github.com/circulatehq/circulate/pkg/loans"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers all book routes on the given group. Write
// operations are restricted by the staff middleware.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, staff echo.MiddlewareFunc) {
	h := handler{
		bookService: NewService(db),
		loanService: loans.NewService(db),
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.POST("", h.create, staff)
	g.PATCH("/:id", h.update, staff)
	g.DELETE("/:id", h.deleteBook, staff)
}
