package loans

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

type RetrieveLoanOptions struct {
	ID *int
}

type ListLoansOptions struct {
	MemberID *int
	BookID   *int
	Active   *bool
	Limit    *int
	Offset   *int

	includeTotal bool
}

// ReturnOptions narrows which loans a return may touch. When MemberID is set,
// only that member's own loan can be returned.
type ReturnOptions struct {
	MemberID *int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// Checkout lends one copy of a book to a member. The available copy count and
// the loan row are written in a single transaction: the decrement only
// succeeds while copies remain, and the loan insert is rejected by a partial
// unique index if the member already holds this book. Under concurrent
// checkouts at most available_copies of them can succeed.
func (svc *Service) Checkout(ctx context.Context, memberID int, bookID int) (*models.Loan, error) {
	now := time.Now()
	loan := &models.Loan{
		CreatedAt:    now,
		UpdatedAt:    now,
		MemberID:     memberID,
		BookID:       bookID,
		CheckedOutAt: now,
		IsActive:     true,
	}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.User)(nil)).
			Where("id = ?", memberID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Member")
		}

		exists, err = tx.NewSelect().
			Model((*models.Book)(nil)).
			Where("id = ?", bookID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Book")
		}

		// Availability is checked before the duplicate loan: a member who
		// already holds the last copy of a book is told there are no copies
		// left, not that they hold it. Failing the duplicate check rolls the
		// transaction back, so the decrement never sticks.
		res, err := tx.NewUpdate().
			Model((*models.Book)(nil)).
			Set("available_copies = available_copies - 1").
			Set("updated_at = ?", now).
			Where("id = ?", bookID).
			Where("available_copies > 0").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		if rows == 0 {
			return errcodes.ValidationError("No copies currently available.")
		}

		active, err := tx.NewSelect().
			Model((*models.Loan)(nil)).
			Where("member_id = ?", memberID).
			Where("book_id = ?", bookID).
			Where("is_active = ?", true).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if active {
			return errcodes.Conflict("This member already has an active loan for this book.")
		}

		_, err = tx.NewInsert().
			Model(loan).
			Returning("*").
			Exec(ctx)
		if err != nil {
			// Two checkouts for the same (member, book) can pass the active
			// loan check before either inserts. The partial unique index
			// catches the loser.
			if isDuplicateActiveLoanError(err) {
				return errcodes.Conflict("This member already has an active loan for this book.")
			}
			return errors.WithStack(err)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return loan, nil
}

// Return closes a loan and restores the book's available copy count. The loan
// is deactivated with a guard on is_active so a loan returned twice only
// increments the count once.
func (svc *Service) Return(ctx context.Context, loanID int, opts ReturnOptions) (*models.Loan, error) {
	now := time.Now()
	loan := &models.Loan{}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*models.Loan)(nil)).
			Set("is_active = ?", false).
			Set("returned_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", loanID).
			Where("is_active = ?", true)
		if opts.MemberID != nil {
			q = q.Where("member_id = ?", *opts.MemberID)
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		if rows == 0 {
			return errcodes.NotFound("Active loan")
		}

		err = tx.NewSelect().
			Model(loan).
			Where("l.id = ?", loanID).
			Scan(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = tx.NewUpdate().
			Model((*models.Book)(nil)).
			Set("available_copies = available_copies + 1").
			Set("updated_at = ?", now).
			Where("id = ?", loan.BookID).
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return loan, nil
}

func (svc *Service) RetrieveLoan(ctx context.Context, opts RetrieveLoanOptions) (*models.Loan, error) {
	loan := &models.Loan{}

	q := svc.db.
		NewSelect().
		Model(loan).
		Relation("Book").
		Relation("Member")

	if opts.ID != nil {
		q = q.Where("l.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, errcodes.NotFound("Loan")
	} else if err != nil {
		return nil, errors.WithStack(err)
	}

	return loan, nil
}

func (svc *Service) ListLoans(ctx context.Context, opts ListLoansOptions) ([]*models.Loan, error) {
	loans, _, err := svc.listLoansWithTotal(ctx, opts)
	return loans, errors.WithStack(err)
}

func (svc *Service) ListLoansWithTotal(ctx context.Context, opts ListLoansOptions) ([]*models.Loan, int, error) {
	opts.includeTotal = true
	return svc.listLoansWithTotal(ctx, opts)
}

func (svc *Service) listLoansWithTotal(ctx context.Context, opts ListLoansOptions) ([]*models.Loan, int, error) {
	var loans []*models.Loan
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&loans).
		Relation("Book").
		Relation("Member").
		Order("l.checked_out_at DESC").
		Order("l.id DESC")

	if opts.MemberID != nil {
		q = q.Where("l.member_id = ?", *opts.MemberID)
	}
	if opts.BookID != nil {
		q = q.Where("l.book_id = ?", *opts.BookID)
	}
	if opts.Active != nil {
		q = q.Where("l.is_active = ?", *opts.Active)
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

	return loans, total, nil
}

// HasActiveLoan reports whether the member currently holds the book.
func (svc *Service) HasActiveLoan(ctx context.Context, memberID int, bookID int) (bool, error) {
	exists, err := svc.db.NewSelect().
		Model((*models.Loan)(nil)).
		Where("member_id = ?", memberID).
		Where("book_id = ?", bookID).
		Where("is_active = ?", true).
		Exists(ctx)
	return exists, errors.WithStack(err)
}

func isDuplicateActiveLoanError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "ux_loans_member_book_active") ||
		strings.Contains(err.Error(), "loans.member_id")
}
