package repo

import (
	"context"
	"errors"
	"strings"

	"avcb/internal/apperr"
	"avcb/internal/domain"
	"avcb/internal/store"
)

func (r Repo) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	return get[domain.Profile](ctx, r.Store, store.TableProfile, userID)
}

// UpsertProfile creates the profile keyed by its user id or merges into the existing one.
func (r Repo) UpsertProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	if p.ID == "" {
		return p, apperr.Invalid("id", "is required")
	}
	rec, err := toRecord(p)
	if err != nil {
		return p, err
	}
	existing, err := r.GetProfile(ctx, p.ID)
	switch {
	case err == nil:
		delete(rec, "id")
		if err := r.Store.Update(ctx, store.TableProfile, p.ID, rec); err != nil {
			return p, err
		}
		p.CreatedAt = existing.CreatedAt
		return p, nil
	case errors.Is(err, ErrNotFound):
		if p.CreatedAt == "" {
			p.CreatedAt = store.Timestamp(r.now())
		}
		rec["created_at"] = p.CreatedAt
		if _, err := r.Store.Create(ctx, store.TableProfile, rec); err != nil {
			return p, err
		}
		return p, nil
	default:
		return p, err
	}
}

func (r Repo) ListUserRoles(ctx context.Context, userID string) ([]domain.UserRole, error) {
	return scan[domain.UserRole](ctx, r.Store, store.TableUserRole, store.Filter{Field: "user_id", Value: userID})
}

// Roles returns the distinct role names of a user.
func (r Repo) Roles(ctx context.Context, userID string) ([]string, error) {
	items, err := r.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var roles []string
	for _, it := range items {
		if !seen[it.Role] {
			seen[it.Role] = true
			roles = append(roles, it.Role)
		}
	}
	return roles, nil
}

// AssignRole is idempotent.
func (r Repo) AssignRole(ctx context.Context, userID, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != domain.RoleAdmin && role != domain.RoleUser {
		return apperr.Invalid("role", "must be one of admin user")
	}
	if userID == "" {
		return apperr.Invalid("user_id", "is required")
	}
	items, err := r.ListUserRoles(ctx, userID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.Role == role {
			return nil
		}
	}
	rec := store.Record{"user_id": userID, "role": role, "created_at": store.Timestamp(r.now())}
	_, err = r.Store.Create(ctx, store.TableUserRole, rec)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, userID, role string) error {
	items, err := r.ListUserRoles(ctx, userID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.Role == role {
			if err := r.Store.Delete(ctx, store.TableUserRole, it.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r Repo) IsAdmin(ctx context.Context, userID string) (bool, error) {
	roles, err := r.Roles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role == domain.RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}
