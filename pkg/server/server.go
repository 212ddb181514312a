package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/circulatehq/circulate/pkg/auth"
	"github.com/circulatehq/circulate/pkg/binder"
	"github.com/circulatehq/circulate/pkg/books"
	"github.com/circulatehq/circulate/pkg/config"
	"github.com/circulatehq/circulate/pkg/errcodes"
	"github.com/circulatehq/circulate/pkg/genres"
	"github.com/circulatehq/circulate/pkg/loans"
	"github.com/circulatehq/circulate/pkg/users"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/uptrace/bun"
)

func New(cfg *config.Config, db *bun.DB) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	// Register auth routes and get the auth service
	authService := auth.RegisterRoutes(e, db, cfg.JWTSecret)
	authMiddleware := auth.NewMiddleware(authService)

	registerProtectedRoutes(e, db, authMiddleware)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

// registerProtectedRoutes registers all routes that require a session. Staff
// restrictions are applied per route (books, loans) or per group (users).
func registerProtectedRoutes(e *echo.Echo, db *bun.DB, authMiddleware *auth.Middleware) {
	// Books routes; writes are staff-only
	booksGroup := e.Group("/books")
	booksGroup.Use(authMiddleware.Authenticate)
	books.RegisterRoutesWithGroup(booksGroup, db, authMiddleware.RequireStaff)

	// Loans routes; the checkout route lives under /books
	loansGroup := e.Group("/loans")
	loansGroup.Use(authMiddleware.Authenticate)
	loans.RegisterRoutesWithGroups(booksGroup, loansGroup, db, authMiddleware.RequireStaff)

	// Genres routes
	genresGroup := e.Group("/genres")
	genresGroup.Use(authMiddleware.Authenticate)
	genres.RegisterRoutesWithGroup(genresGroup, db)

	// User management routes are staff-only as a whole
	usersGroup := e.Group("/users")
	usersGroup.Use(authMiddleware.Authenticate)
	usersGroup.Use(authMiddleware.RequireStaff)
	users.RegisterRoutesWithGroup(usersGroup, db)
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
