package users

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/circulatehq/circulate/pkg/auth"
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

func createTestLoan(t *testing.T, db *bun.DB, memberID int, active bool) {
	t.Helper()

	now := time.Now()
	book := &models.Book{
		CreatedAt:       now,
		UpdatedAt:       now,
		Title:           "Test Book",
		Author:          "Test Author",
		TotalCopies:     1,
		AvailableCopies: 0,
	}
	_, err := db.NewInsert().Model(book).Returning("*").Exec(context.Background())
	require.NoError(t, err)

	loan := &models.Loan{
		CreatedAt:    now,
		UpdatedAt:    now,
		MemberID:     memberID,
		BookID:       book.ID,
		CheckedOutAt: now,
		IsActive:     active,
	}
	if !active {
		loan.ReturnedAt = &now
	}
	_, err = db.NewInsert().Model(loan).Exec(context.Background())
	require.NoError(t, err)
}

func TestServiceCreate(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	user, err := svc.Create(ctx, CreateUserOptions{
		Username: "reader",
		Password: "password123",
	})
	require.NoError(t, err)

	assert.NotZero(t, user.ID)
	assert.False(t, user.IsStaff)
	assert.True(t, user.IsActive)
	assert.True(t, auth.CheckPassword("password123", user.PasswordHash))

	// Usernames collide case-insensitively.
	_, err = svc.Create(ctx, CreateUserOptions{Username: "READER", Password: "password123"})
	require.Error(t, err)

	var codeErr *errcodes.Error
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, "validation_error", codeErr.Code)
}

func TestServiceListMembers(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateUserOptions{Username: "first", Password: "password123"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateUserOptions{Username: "second", Password: "password123"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateUserOptions{Username: "librarian", Password: "password123", IsStaff: true})
	require.NoError(t, err)

	createTestLoan(t, db, first.ID, true)
	createTestLoan(t, db, first.ID, true)
	createTestLoan(t, db, second.ID, false)

	members, total, err := svc.ListMembers(ctx, ListMembersOptions{})
	require.NoError(t, err)

	// Staff accounts are excluded.
	assert.Equal(t, 2, total)
	require.Len(t, members, 2)

	counts := map[string]int{}
	for _, m := range members {
		counts[m.Username] = m.ActiveLoanCount
	}
	assert.Equal(t, 2, counts["first"])
	// Returned loans don't count.
	assert.Equal(t, 0, counts["second"])
}

func TestServiceListMembersSearch(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	email := "anna@example.com"
	_, err := svc.Create(ctx, CreateUserOptions{Username: "anna", Email: &email, Password: "password123"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateUserOptions{Username: "bert", Password: "password123"})
	require.NoError(t, err)

	search := "ANNA"
	members, total, err := svc.ListMembers(ctx, ListMembersOptions{Search: &search})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, members, 1)
	assert.Equal(t, "anna", members[0].Username)
}

func TestServiceResetPassword(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	user, err := svc.Create(ctx, CreateUserOptions{Username: "reader", Password: "password123"})
	require.NoError(t, err)

	require.NoError(t, svc.ResetPassword(ctx, user.ID, "newpassword123"))

	updated, err := svc.Retrieve(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword("newpassword123", updated.PasswordHash))
	assert.False(t, auth.CheckPassword("password123", updated.PasswordHash))

	require.ErrorIs(t, svc.ResetPassword(ctx, user.ID+100, "newpassword123"), errcodes.NotFound("User"))
}

func TestServiceDeactivate(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	user, err := svc.Create(ctx, CreateUserOptions{Username: "reader", Password: "password123"})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, user.ID))

	updated, err := svc.Retrieve(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	require.ErrorIs(t, svc.Deactivate(ctx, user.ID+100), errcodes.NotFound("User"))
}
