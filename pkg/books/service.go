package books

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

type RetrieveBookOptions struct {
	ID   *int
	ISBN *string
}

type ListBooksOptions struct {
	Limit   *int
	Offset  *int
	GenreID *int
	Search  *string

	includeTotal bool
}

type UpdateBookOptions struct {
	Columns      []string
	UpdateGenres bool
	GenreNames   []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// CreateBook inserts a book along with its genre associations. Genre names
// are matched case-insensitively and created on demand.
func (svc *Service) CreateBook(ctx context.Context, book *models.Book, genreNames []string) error {
	now := time.Now()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = book.CreatedAt

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.
			NewInsert().
			Model(book).
			Returning("*").
			Exec(ctx)
		if err != nil {
			if isUniqueISBNError(err) {
				return errcodes.ValidationError("A book with this ISBN already exists")
			}
			return errors.WithStack(err)
		}

		return svc.setGenres(ctx, tx, book.ID, genreNames)
	})
	if err != nil {
		return err
	}

	return svc.loadGenres(ctx, book)
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.Book, error) {
	book := &models.Book{}

	q := svc.db.
		NewSelect().
		Model(book).
		Relation("Genres", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("name ASC")
		})

	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}
	if opts.ISBN != nil {
		q = q.Where("b.isbn = ?", *opts.ISBN)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, errors.WithStack(err)
	}

	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, error) {
	books, _, err := svc.listBooksWithTotal(ctx, opts)
	return books, errors.WithStack(err)
}

func (svc *Service) ListBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	opts.includeTotal = true
	return svc.listBooksWithTotal(ctx, opts)
}

func (svc *Service) listBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	var books []*models.Book
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&books).
		Relation("Genres", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("name ASC")
		}).
		Order("b.title ASC")

	if opts.GenreID != nil {
		q = q.Where("b.id IN (SELECT book_id FROM book_genres WHERE genre_id = ?)", *opts.GenreID)
	}
	if opts.Search != nil && *opts.Search != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*opts.Search)) + "%"
		q = q.Where("(LOWER(b.title) LIKE ? OR LOWER(b.author) LIKE ?)", search, search)
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return books, total, nil
}

func (svc *Service) UpdateBook(ctx context.Context, book *models.Book, opts UpdateBookOptions) error {
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if len(opts.Columns) > 0 {
			book.UpdatedAt = time.Now()
			columns := append(opts.Columns, "updated_at")

			_, err := tx.
				NewUpdate().
				Model(book).
				Column(columns...).
				WherePK().
				Exec(ctx)
			if err != nil {
				if isUniqueISBNError(err) {
					return errcodes.ValidationError("A book with this ISBN already exists")
				}
				return errors.WithStack(err)
			}
		}

		if opts.UpdateGenres {
			// Replace all associations.
			_, err := tx.NewDelete().
				Model((*models.BookGenre)(nil)).
				Where("book_id = ?", book.ID).
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}

			return svc.setGenres(ctx, tx, book.ID, opts.GenreNames)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return svc.loadGenres(ctx, book)
}

// DeleteBook deletes a book and its genre associations. Books with active
// loans cannot be deleted.
func (svc *Service) DeleteBook(ctx context.Context, bookID int) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		activeLoans, err := tx.NewSelect().
			Model((*models.Loan)(nil)).
			Where("book_id = ?", bookID).
			Where("is_active = ?", true).
			Count(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if activeLoans > 0 {
			return errcodes.ValidationError("Cannot delete a book with active loans")
		}

		_, err = tx.NewDelete().
			Model((*models.BookGenre)(nil)).
			Where("book_id = ?", bookID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		res, err := tx.NewDelete().
			Model((*models.Book)(nil)).
			Where("id = ?", bookID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		if rows == 0 {
			return errcodes.NotFound("Book")
		}
		return nil
	})
}

// setGenres creates the book_genres associations for the given genre names,
// creating missing genres on the fly. Runs inside the caller's transaction.
func (svc *Service) setGenres(ctx context.Context, tx bun.Tx, bookID int, genreNames []string) error {
	seen := map[string]bool{}
	for _, name := range genreNames {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true

		genre := &models.Genre{}
		err := tx.NewSelect().
			Model(genre).
			Where("LOWER(g.name) = LOWER(?)", name).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			now := time.Now()
			genre = &models.Genre{CreatedAt: now, UpdatedAt: now, Name: name}
			_, err = tx.NewInsert().Model(genre).Exec(ctx)
		}
		if err != nil {
			return errors.WithStack(err)
		}

		bookGenre := &models.BookGenre{BookID: bookID, GenreID: genre.ID}
		_, err = tx.NewInsert().Model(bookGenre).Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (svc *Service) loadGenres(ctx context.Context, book *models.Book) error {
	var genres []*models.Genre
	err := svc.db.NewSelect().
		Model(&genres).
		Join("INNER JOIN book_genres bg ON bg.genre_id = g.id").
		Where("bg.book_id = ?", book.ID).
		Order("g.name ASC").
		Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	book.Genres = genres
	return nil
}

func isUniqueISBNError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "ux_books_isbn") ||
		strings.Contains(err.Error(), "books.isbn")
}
