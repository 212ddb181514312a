package genres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/circulatehq/circulate/pkg/errcodes"
	"github.com/circulatehq/circulate/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveGenreOptions struct {
	ID   *int
	Name *string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateGenre(ctx context.Context, genre *models.Genre) error {
	now := time.Now()
	if genre.CreatedAt.IsZero() {
		genre.CreatedAt = now
	}
	genre.UpdatedAt = genre.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(genre).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveGenre(ctx context.Context, opts RetrieveGenreOptions) (*models.Genre, error) {
	genre := &models.Genre{}

	q := svc.db.
		NewSelect().
		Model(genre)

	if opts.ID != nil {
		q = q.Where("g.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		// Case-insensitive match
		q = q.Where("LOWER(g.name) = LOWER(?)", *opts.Name)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Genre")
		}
		return nil, errors.WithStack(err)
	}

	return genre, nil
}

// FindOrCreateGenre finds an existing genre or creates a new one
// (case-insensitive match).
func (svc *Service) FindOrCreateGenre(ctx context.Context, name string) (*models.Genre, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errcodes.ValidationError("Genre name cannot be empty")
	}

	genre, err := svc.RetrieveGenre(ctx, RetrieveGenreOptions{Name: &name})
	if err == nil {
		return genre, nil
	}
	if !errors.Is(err, errcodes.NotFound("Genre")) {
		return nil, err
	}

	genre = &models.Genre{Name: name}
	err = svc.CreateGenre(ctx, genre)
	if err != nil {
		return nil, err
	}
	return genre, nil
}

// ListGenres returns all genres ordered by name, with book counts attached.
func (svc *Service) ListGenres(ctx context.Context) ([]*models.Genre, error) {
	var genres []*models.Genre

	err := svc.db.
		NewSelect().
		Model(&genres).
		ColumnExpr("g.*").
		ColumnExpr("(SELECT COUNT(*) FROM book_genres bg WHERE bg.genre_id = g.id) AS book_count").
		Order("g.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return genres, nil
}
