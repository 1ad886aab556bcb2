package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"avcb/internal/apperr"
	"avcb/internal/domain"
	"avcb/internal/store"
)

// NormalizeEmail lowercases and trims an e-mail address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CredentialID returns the stable SHA-256 hex key of a credential for email.
func CredentialID(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) GetCredentialByEmail(ctx context.Context, email string) (domain.Credential, error) {
	return get[domain.Credential](ctx, r.Store, store.TableCredential, CredentialID(email))
}

// InsertCredential stores a hashed password. PasswordHash must already be hashed.
func (r Repo) InsertCredential(ctx context.Context, c domain.Credential) (domain.Credential, error) {
	if c.UserID == "" {
		return c, apperr.Invalid("user_id", "is required")
	}
	if c.PasswordHash == "" {
		return c, apperr.Invalid("password_hash", "is required")
	}
	c.Email = NormalizeEmail(c.Email)
	c.ID = CredentialID(c.Email)
	if c.CreatedAt == "" {
		c.CreatedAt = store.Timestamp(r.now())
	}
	rec, err := toRecord(c)
	if err != nil {
		return c, err
	}
	rec["id"], rec["created_at"] = c.ID, c.CreatedAt
	if _, err := r.Store.Create(ctx, store.TableCredential, rec); err != nil {
		return c, err
	}
	return c, nil
}
