package auth

import (
	"context"
	"database/sql"
	"testing"

	"github.com/circulatehq/circulate/pkg/errcodes"
	"github.com/circulatehq/circulate/pkg/migrations"
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

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestServiceRegister(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db, "test-secret")
	ctx := context.Background()

	email := "reader@example.com"
	user, err := svc.Register(ctx, RegisterOptions{
		Username: "reader",
		Email:    &email,
		Password: "password123",
	})
	require.NoError(t, err)

	assert.NotZero(t, user.ID)
	assert.Equal(t, "reader", user.Username)
	assert.False(t, user.IsStaff)
	assert.True(t, user.IsActive)
}

func TestServiceRegisterDuplicateUsername(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db, "test-secret")
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterOptions{Username: "reader", Password: "password123"})
	require.NoError(t, err)

	// Case-insensitive collision.
	_, err = svc.Register(ctx, RegisterOptions{Username: "Reader", Password: "password123"})
	require.Error(t, err)

	var codeErr *errcodes.Error
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, "validation_error", codeErr.Code)
}

func TestServiceAuthenticate(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db, "test-secret")
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterOptions{Username: "reader", Password: "password123"})
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "reader", "password123")
	require.NoError(t, err)
	assert.Equal(t, "reader", user.Username)

	// Username lookup is case-insensitive.
	_, err = svc.Authenticate(ctx, "READER", "password123")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "reader", "wrongpassword")
	require.Error(t, err)

	var codeErr *errcodes.Error
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, "unauthorized", codeErr.Code)
}

func TestServiceTokenRoundTrip(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db, "test-secret")
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterOptions{Username: "reader", Password: "password123"})
	require.NoError(t, err)

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "reader", claims.Username)
	assert.NotEmpty(t, claims.ID)

	// A token signed with a different secret is rejected.
	other := NewService(db, "other-secret")
	_, err = other.ValidateToken(token)
	require.Error(t, err)
}
