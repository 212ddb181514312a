package genres

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers genre routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	genreService := NewService(db)

	h := &handler{
		genreService: genreService,
	}

	g.GET("", h.list)
}
