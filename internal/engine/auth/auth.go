package auth

import (
	"context"
	"errors"
	"fmt"

	"avcb/internal/apperr"
	"avcb/internal/domain"
	"avcb/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

func (e ForbiddenError) Is(target error) bool { return target == apperr.ErrForbidden }

const (
	PermissionStaff = "staff"
	PermissionOwner = "process.owner"
)

// Service answers role questions from the user_role table.
type Service struct {
	Repo repo.Repo
}

func (s Service) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	return s.Repo.IsAdmin(ctx, actorID)
}

// RequireAdmin fails with ForbiddenError unless actorID holds the admin role.
func (s Service) RequireAdmin(ctx context.Context, actorID string) error {
	if actorID == "" {
		return fmt.Errorf("actor_id required: %w", apperr.ErrUnauthorized)
	}
	ok, err := s.IsAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: PermissionStaff}
	}
	return nil
}

// RequireOwnerOrAdmin lets the process owner through, then falls back to the admin check.
func (s Service) RequireOwnerOrAdmin(ctx context.Context, actorID string, p domain.Process) error {
	if actorID != "" && actorID == p.UserID {
		return nil
	}
	err := s.RequireAdmin(ctx, actorID)
	var fe ForbiddenError
	if errors.As(err, &fe) {
		return ForbiddenError{Permission: PermissionOwner}
	}
	return err
}

// Roles lists the role names held by actorID, defaulting to user.
func (s Service) Roles(ctx context.Context, actorID string) ([]string, error) {
	roles, err := s.Repo.Roles(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return []string{domain.RoleUser}, nil
	}
	return roles, nil
}
