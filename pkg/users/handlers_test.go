package users

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/circulatehq/circulate/pkg/auth"
	"github.com/circulatehq/circulate/pkg/binder"
	"github.com/circulatehq/circulate/pkg/errcodes"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUsersTestContext(t *testing.T, method, path, payload string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()
	b, err := binder.New()
	require.NoError(t, err)
	e.Binder = b
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	var req *http.Request
	if payload != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(payload))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	return e.NewContext(req, rr), rr
}

func TestHandlerCreateUser(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	h := &handler{userService: NewService(db)}

	c, rr := newUsersTestContext(t, http.MethodPost, "/users", `{"username": "reader", "password": "password123"}`)

	err := h.create(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rr.Code)

	// The password hash never leaves the server.
	assert.NotContains(t, rr.Body.String(), "password_hash")

	var resp struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
		IsStaff  bool   `json:"is_staff"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotZero(t, resp.ID)
	assert.Equal(t, "reader", resp.Username)
	assert.False(t, resp.IsStaff)
}

func TestHandlerCreateUserShortPassword(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	h := &handler{userService: NewService(db)}

	c, _ := newUsersTestContext(t, http.MethodPost, "/users", `{"username": "reader", "password": "short"}`)

	err := h.create(c)
	require.Error(t, err)

	var codeErr *errcodes.Error
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, http.StatusUnprocessableEntity, codeErr.HTTPCode)
}

func TestHandlerListMembers(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	h := &handler{userService: NewService(db)}
	svc := h.userService
	ctx := context.Background()

	member, err := svc.Create(ctx, CreateUserOptions{Username: "reader", Password: "password123"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateUserOptions{Username: "librarian", Password: "password123", IsStaff: true})
	require.NoError(t, err)

	createTestLoan(t, db, member.ID, true)

	c, rr := newUsersTestContext(t, http.MethodGet, "/users", "")

	err = h.list(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Users []struct {
			Username        string `json:"username"`
			ActiveLoanCount int    `json:"active_loan_count"`
		} `json:"users"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Users, 1)
	assert.Equal(t, "reader", resp.Users[0].Username)
	assert.Equal(t, 1, resp.Users[0].ActiveLoanCount)
}

func TestHandlerResetPassword(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	h := &handler{userService: NewService(db)}
	ctx := context.Background()

	user, err := h.userService.Create(ctx, CreateUserOptions{Username: "reader", Password: "password123"})
	require.NoError(t, err)

	c, rr := newUsersTestContext(t, http.MethodPost, "/users/"+strconv.Itoa(user.ID)+"/reset-password", `{"new_password": "newpassword123"}`)
	c.SetParamNames("id")
	c.SetParamValues(strconv.Itoa(user.ID))

	err = h.resetPassword(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rr.Code)

	updated, err := h.userService.Retrieve(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword("newpassword123", updated.PasswordHash))
}

func TestHandlerDeactivate(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	h := &handler{userService: NewService(db)}
	ctx := context.Background()

	member, err := h.userService.Create(ctx, CreateUserOptions{Username: "reader", Password: "password123"})
	require.NoError(t, err)
	staff, err := h.userService.Create(ctx, CreateUserOptions{Username: "librarian", Password: "password123", IsStaff: true})
	require.NoError(t, err)

	// Staff cannot deactivate their own account.
	c, _ := newUsersTestContext(t, http.MethodDelete, "/users/"+strconv.Itoa(staff.ID), "")
	c.SetParamNames("id")
	c.SetParamValues(strconv.Itoa(staff.ID))
	c.Set("user_id", staff.ID)

	err = h.deactivate(c)
	require.Error(t, err)

	var codeErr *errcodes.Error
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, "validation_error", codeErr.Code)

	// Deactivating a member works.
	c, rr := newUsersTestContext(t, http.MethodDelete, "/users/"+strconv.Itoa(member.ID), "")
	c.SetParamNames("id")
	c.SetParamValues(strconv.Itoa(member.ID))
	c.Set("user_id", staff.ID)

	err = h.deactivate(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rr.Code)

	updated, err := h.userService.Retrieve(ctx, member.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
}
