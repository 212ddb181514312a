package loans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/circulatehq/circulate/pkg/config"
	"github.com/circulatehq/circulate/pkg/database"
	"github.com/circulatehq/circulate/pkg/errcodes"
	"github.com/circulatehq/circulate/pkg/migrations"
	"github.com/circulatehq/circulate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	db.RegisterModel((*models.BookGenre)(nil))

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// newFileTestDB opens a temp file database so that multiple connections see
// the same data, which the concurrency tests depend on.
func newFileTestDB(t *testing.T) *bun.DB {
	t.Helper()

	cfg := config.NewForTest()
	cfg.DatabaseFilePath = filepath.Join(t.TempDir(), "test.db")

	db, err := database.New(cfg)
	require.NoError(t, err)

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func createTestMember(t *testing.T, db *bun.DB, username string) *models.User {
	t.Helper()

	now := time.Now()
	user := &models.User{
		CreatedAt:    now,
		UpdatedAt:    now,
		Username:     username,
		PasswordHash: "x",
		IsActive:     true,
	}
	_, err := db.NewInsert().Model(user).Returning("*").Exec(context.Background())
	require.NoError(t, err)
	return user
}

func createTestBook(t *testing.T, db *bun.DB, title string, copies int) *models.Book {
	t.Helper()

	now := time.Now()
	book := &models.Book{
		CreatedAt:       now,
		UpdatedAt:       now,
		Title:           title,
		Author:          "Test Author",
		TotalCopies:     copies,
		AvailableCopies: copies,
	}
	_, err := db.NewInsert().Model(book).Returning("*").Exec(context.Background())
	require.NoError(t, err)
	return book
}

func availableCopies(t *testing.T, db *bun.DB, bookID int) int {
	t.Helper()

	var available int
	err := db.NewSelect().
		Model((*models.Book)(nil)).
		Column("available_copies").
		Where("id = ?", bookID).
		Scan(context.Background(), &available)
	require.NoError(t, err)
	return available
}

func TestServiceCheckout(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	member := createTestMember(t, db, "reader")
	book := createTestBook(t, db, "The Secret History", 2)

	loan, err := svc.Checkout(ctx, member.ID, book.ID)
	require.NoError(t, err)

	assert.NotZero(t, loan.ID)
	assert.Equal(t, member.ID, loan.MemberID)
	assert.Equal(t, book.ID, loan.BookID)
	assert.True(t, loan.IsActive)
	assert.False(t, loan.CheckedOutAt.IsZero())
	assert.Nil(t, loan.ReturnedAt)

	assert.Equal(t, 1, availableCopies(t, db, book.ID))

	has, err := svc.HasActiveLoan(ctx, member.ID, book.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestServiceCheckoutNoCopies(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	first := createTestMember(t, db, "first")
	second := createTestMember(t, db, "second")
	book := createTestBook(t, db, "Onyx Storm", 1)

	_, err := svc.Checkout(ctx, first.ID, book.ID)
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, second.ID, book.ID)
	require.Error(t, err)

	var codeErr *errcodes.Error
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, "validation_error", codeErr.Code)
	assert.Equal(t, "No copies currently available.", codeErr.Message)

	// The failed checkout must not create a loan or touch the count.
	assert.Equal(t, 0, availableCopies(t, db, book.ID))

	count, err := db.NewSelect().
		Model((*models.Loan)(nil)).
		Where("book_id = ?", book.ID).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestServiceCheckoutDuplicate(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	member := createTestMember(t, db, "reader")
	book := createTestBook(t, db, "Atomic Habits", 3)

	_, err := svc.Checkout(ctx, member.ID, book.ID)
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, member.ID, book.ID)
	require.Error(t, err)

	var codeErr *errcodes.Error
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, "conflict", codeErr.Code)

	// The duplicate attempt must not decrement the count.
	assert.Equal(t, 2, availableCopies(t, db, book.ID))
}

func TestServiceCheckoutNoCopiesTrumpsDuplicate(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	member := createTestMember(t, db, "reader")
	book := createTestBook(t, db, "Tomorrow, and Tomorrow, and Tomorrow", 1)

	_, err := svc.Checkout(ctx, member.ID, book.ID)
	require.NoError(t, err)

	// The member holds the last copy. Availability wins over the duplicate
	// loan, so they hear there are no copies, not that they already have it.
	_, err = svc.Checkout(ctx, member.ID, book.ID)
	require.Error(t, err)

	var codeErr *errcodes.Error
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, "validation_error", codeErr.Code)
	assert.Equal(t, "No copies currently available.", codeErr.Message)

	assert.Equal(t, 0, availableCopies(t, db, book.ID))
}

func TestServiceCheckoutNotFound(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	member := createTestMember(t, db, "reader")
	book := createTestBook(t, db, "James", 1)

	_, err := svc.Checkout(ctx, member.ID, book.ID+100)
	require.ErrorIs(t, err, errcodes.NotFound("Book"))

	_, err = svc.Checkout(ctx, member.ID+100, book.ID)
	require.ErrorIs(t, err, errcodes.NotFound("Member"))
}

func TestServiceReturn(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	member := createTestMember(t, db, "reader")
	book := createTestBook(t, db, "Nexus", 1)

	loan, err := svc.Checkout(ctx, member.ID, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, availableCopies(t, db, book.ID))

	returned, err := svc.Return(ctx, loan.ID, ReturnOptions{MemberID: &member.ID})
	require.NoError(t, err)

	assert.False(t, returned.IsActive)
	require.NotNil(t, returned.ReturnedAt)
	assert.Equal(t, 1, availableCopies(t, db, book.ID))

	has, err := svc.HasActiveLoan(ctx, member.ID, book.ID)
	require.NoError(t, err)
	assert.False(t, has)

	// A second return of the same loan must not increment the count again.
	_, err = svc.Return(ctx, loan.ID, ReturnOptions{MemberID: &member.ID})
	require.Error(t, err)

	var codeErr *errcodes.Error
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, "not_found", codeErr.Code)
	assert.Equal(t, 1, availableCopies(t, db, book.ID))

	// After returning, the member can borrow the same book again.
	_, err = svc.Checkout(ctx, member.ID, book.ID)
	require.NoError(t, err)
}

func TestServiceReturnMemberScope(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	owner := createTestMember(t, db, "owner")
	other := createTestMember(t, db, "other")
	book := createTestBook(t, db, "Intermezzo", 1)

	loan, err := svc.Checkout(ctx, owner.ID, book.ID)
	require.NoError(t, err)

	// Another member cannot return a loan they don't own.
	_, err = svc.Return(ctx, loan.ID, ReturnOptions{MemberID: &other.ID})
	require.Error(t, err)
	assert.Equal(t, 0, availableCopies(t, db, book.ID))

	// An unscoped return succeeds regardless of owner.
	returned, err := svc.Return(ctx, loan.ID, ReturnOptions{})
	require.NoError(t, err)
	assert.False(t, returned.IsActive)
	assert.Equal(t, 1, availableCopies(t, db, book.ID))
}

func TestServiceListLoans(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	first := createTestMember(t, db, "first")
	second := createTestMember(t, db, "second")
	book := createTestBook(t, db, "The Women", 5)

	firstLoan, err := svc.Checkout(ctx, first.ID, book.ID)
	require.NoError(t, err)
	_, err = svc.Checkout(ctx, second.ID, book.ID)
	require.NoError(t, err)
	_, err = svc.Return(ctx, firstLoan.ID, ReturnOptions{})
	require.NoError(t, err)

	all, total, err := svc.ListLoansWithTotal(ctx, ListLoansOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, total)
	require.NotNil(t, all[0].Book)
	require.NotNil(t, all[0].Member)

	active := true
	activeLoans, err := svc.ListLoans(ctx, ListLoansOptions{Active: &active})
	require.NoError(t, err)
	require.Len(t, activeLoans, 1)
	assert.Equal(t, second.ID, activeLoans[0].MemberID)

	firstOnly, err := svc.ListLoans(ctx, ListLoansOptions{MemberID: &first.ID})
	require.NoError(t, err)
	require.Len(t, firstOnly, 1)
	assert.False(t, firstOnly[0].IsActive)
	require.NotNil(t, firstOnly[0].ReturnedAt)
}

// TestConcurrentCheckouts races more members than there are copies. Exactly
// available_copies checkouts may succeed and the count must land on zero.
func TestConcurrentCheckouts(t *testing.T) {
	t.Parallel()

	db := newFileTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	const copies = 3
	const members = 10

	book := createTestBook(t, db, "Wind and Truth", copies)

	memberIDs := make([]int, members)
	for i := range memberIDs {
		memberIDs[i] = createTestMember(t, db, fmt.Sprintf("reader-%d", i)).ID
	}

	var wg sync.WaitGroup
	var successes atomic.Int32
	var rejections atomic.Int32
	unexpected := make(chan error, members)

	for _, memberID := range memberIDs {
		wg.Add(1)
		go func(memberID int) {
			defer wg.Done()
			_, err := svc.Checkout(ctx, memberID, book.ID)
			codeErr := unwrapCodeErr(err)
			switch {
			case err == nil:
				successes.Add(1)
			case codeErr != nil && codeErr.Code == "validation_error":
				rejections.Add(1)
			default:
				unexpected <- err
			}
		}(memberID)
	}

	wg.Wait()
	close(unexpected)

	for err := range unexpected {
		t.Errorf("unexpected checkout error: %v", err)
	}

	assert.Equal(t, int32(copies), successes.Load())
	assert.Equal(t, int32(members-copies), rejections.Load())
	assert.Equal(t, 0, availableCopies(t, db, book.ID))

	activeLoans, err := db.NewSelect().
		Model((*models.Loan)(nil)).
		Where("book_id = ?", book.ID).
		Where("is_active = ?", true).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, copies, activeLoans)
}

// TestConcurrentDuplicateCheckouts races one member grabbing the same book
// from multiple goroutines. Only one loan may be created.
func TestConcurrentDuplicateCheckouts(t *testing.T) {
	t.Parallel()

	db := newFileTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	const attempts = 8

	member := createTestMember(t, db, "reader")
	book := createTestBook(t, db, "Here One Moment", attempts)

	var wg sync.WaitGroup
	var successes atomic.Int32
	unexpected := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(ctx, member.ID, book.ID)
			codeErr := unwrapCodeErr(err)
			switch {
			case err == nil:
				successes.Add(1)
			case codeErr != nil && codeErr.Code == "conflict":
				// expected for all but one attempt
			default:
				unexpected <- err
			}
		}()
	}

	wg.Wait()
	close(unexpected)

	for err := range unexpected {
		t.Errorf("unexpected checkout error: %v", err)
	}

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, attempts-1, availableCopies(t, db, book.ID))

	activeLoans, err := db.NewSelect().
		Model((*models.Loan)(nil)).
		Where("member_id = ?", member.ID).
		Where("book_id = ?", book.ID).
		Where("is_active = ?", true).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, activeLoans)
}

func unwrapCodeErr(err error) *errcodes.Error {
	var codeErr *errcodes.Error
	if errors.As(err, &codeErr) {
		return codeErr
	}
	return nil
}
