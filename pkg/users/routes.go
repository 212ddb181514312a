package users

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers all user routes on the given group. Every
// route here is staff-only, so the caller applies the staff middleware via the
// group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	h := &handler{
		userService: NewService(db),
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.POST("", h.create)
	g.POST("/:id/reset-password", h.resetPassword)
	g.DELETE("/:id", h.deactivate)
}
