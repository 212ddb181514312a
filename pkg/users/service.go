package users

import (
	"context"
	"database/sql"
	"time"

	"github.com/circulatehq/circulate/pkg/auth"
	"github.com/circulatehq/circulate/pkg/errcodes"
	"github.com/circulatehq/circulate/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// Service handles user operations for staff.
type Service struct {
	db *bun.DB
}

// NewService creates a new users service.
func NewService(db *bun.DB) *Service {
	return &Service{db: db}
}

// activeLoanCountColumn annotates each row with the member's open loan count.
const activeLoanCountColumn = "(SELECT COUNT(*) FROM loans l WHERE l.member_id = u.id AND l.is_active) AS active_loan_count"

// CreateUserOptions contains options for creating a user.
type CreateUserOptions struct {
	Username string
	Email    *string
	Password string
	IsStaff  bool
}

// Create creates a new user account on behalf of staff.
func (s *Service) Create(ctx context.Context, opts CreateUserOptions) (*models.User, error) {
	exists, err := s.db.NewSelect().
		Model((*models.User)(nil)).
		Where("username = ? COLLATE NOCASE", opts.Username).
		Exists(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if exists {
		return nil, errcodes.ValidationError("Username already exists")
	}

	hashedPassword, err := auth.HashPassword(opts.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &models.User{
		CreatedAt:    now,
		UpdatedAt:    now,
		Username:     opts.Username,
		Email:        opts.Email,
		PasswordHash: hashedPassword,
		IsStaff:      opts.IsStaff,
		IsActive:     true,
	}

	_, err = s.db.NewInsert().Model(user).Returning("*").Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return user, nil
}

// Retrieve gets a user by ID, annotated with their active loan count.
func (s *Service) Retrieve(ctx context.Context, id int) (*models.User, error) {
	user := &models.User{}
	err := s.db.NewSelect().
		Model(user).
		ColumnExpr("u.*").
		ColumnExpr(activeLoanCountColumn).
		Where("u.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("User")
		}
		return nil, errors.WithStack(err)
	}
	return user, nil
}

// ListMembersOptions contains options for listing members.
type ListMembersOptions struct {
	Search *string
	Limit  int
	Offset int
}

// ListMembers returns a paginated list of non-staff users, newest first, each
// annotated with their active loan count.
func (s *Service) ListMembers(ctx context.Context, opts ListMembersOptions) ([]*models.User, int, error) {
	members := []*models.User{}

	query := s.db.NewSelect().
		Model(&members).
		ColumnExpr("u.*").
		ColumnExpr(activeLoanCountColumn).
		Where("u.is_staff = ?", false).
		Order("u.created_at DESC").
		Order("u.id DESC")

	if opts.Search != nil && *opts.Search != "" {
		search := "%" + *opts.Search + "%"
		query = query.Where("(LOWER(u.username) LIKE LOWER(?) OR LOWER(COALESCE(u.email, '')) LIKE LOWER(?))", search, search)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	total, err := query.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return members, total, nil
}

// ResetPassword changes a user's password.
func (s *Service) ResetPassword(ctx context.Context, userID int, newPassword string) error {
	hashedPassword, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	res, err := s.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("password_hash = ?", hashedPassword).
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if rows == 0 {
		return errcodes.NotFound("User")
	}

	return nil
}

// Deactivate deactivates a user (soft delete). Their loan history is kept and
// any active loans stay open until returned.
func (s *Service) Deactivate(ctx context.Context, userID int) error {
	res, err := s.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("is_active = ?", false).
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if rows == 0 {
		return errcodes.NotFound("User")
	}
	return nil
}
