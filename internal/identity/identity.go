package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"avcb/internal/apperr"
	"avcb/internal/domain"
	"avcb/internal/repo"
	"avcb/internal/store"
)

// ErrInvalidCredentials is returned for unknown users, bad passwords and bad tokens alike.
var ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)

// Principal is an authenticated user.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source"`
}

type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	CPF      string `json:"cpf,omitempty"`
}

func (in SignUpInput) validate() error {
	fields := map[string]string{}
	if e := strings.TrimSpace(in.Email); e == "" || !strings.Contains(e, "@") {
		fields["email"] = "must be a valid e-mail"
	}
	if len(in.Password) < 8 {
		fields["password"] = "must be at least 8"
	}
	if strings.TrimSpace(in.FullName) == "" {
		fields["full_name"] = "is required"
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Message: "invalid input", Fields: fields}
	}
	return nil
}

// Provider authenticates portal users.
type Provider interface {
	SignUp(ctx context.Context, in SignUpInput) (Principal, error)
	Login(ctx context.Context, email, password string) (Session, error)
	Verify(ctx context.Context, token string) (Principal, error)
}

// registerProfile stores the profile and the default role of a new user.
func registerProfile(ctx context.Context, tx store.Store, now func() time.Time, userID string, in SignUpInput) error {
	r := repo.Repo{Store: tx, Now: now}
	if _, err := r.UpsertProfile(ctx, domain.Profile{
		ID:       userID,
		FullName: strings.TrimSpace(in.FullName),
		Email:    repo.NormalizeEmail(in.Email),
		Phone:    in.Phone,
		CPF:      in.CPF,
	}); err != nil {
		return err
	}
	return r.AssignRole(ctx, userID, domain.RoleUser)
}
