package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"avcb/internal/domain"
	"avcb/internal/repo"
	"avcb/internal/store"
)

const defaultSessionTTL = 12 * time.Hour

// Local keeps bcrypt credentials in the entity store and issues HS256 sessions.
type Local struct {
	Repo   repo.Repo
	Secret string
	TTL    time.Duration
	Cost   int
	Now    func() time.Time
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func (l Local) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Local) SignUp(ctx context.Context, in SignUpInput) (Principal, error) {
	if err := in.validate(); err != nil {
		return Principal{}, err
	}
	cost := l.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), cost)
	if err != nil {
		return Principal{}, fmt.Errorf("hash password: %w", err)
	}
	userID := store.NewID()
	err = l.Repo.Store.Tx(ctx, func(tx store.Store) error {
		r := l.Repo.With(tx)
		if _, err := r.InsertCredential(ctx, domain.Credential{
			UserID:       userID,
			Email:        in.Email,
			PasswordHash: string(hash),
		}); err != nil {
			return err
		}
		return registerProfile(ctx, tx, l.Repo.Now, userID, in)
	})
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: userID, Email: repo.NormalizeEmail(in.Email), Name: strings.TrimSpace(in.FullName), Source: "local"}, nil
}

func (l Local) Login(ctx context.Context, email, password string) (Session, error) {
	cred, err := l.Repo.GetCredentialByEmail(ctx, email)
	if err != nil {
		if repo.IsNotFound(err) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	name := ""
	if prof, err := l.Repo.GetProfile(ctx, cred.UserID); err == nil {
		name = prof.FullName
	}
	return l.Issue(Principal{UserID: cred.UserID, Email: cred.Email, Name: name})
}

// Issue signs a session token for p.
func (l Local) Issue(p Principal) (Session, error) {
	if strings.TrimSpace(l.Secret) == "" {
		return Session{}, errors.New("jwt secret not configured")
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	now := l.now()
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "avcb",
		},
		Email: p.Email,
		Name:  p.Name,
	})
	signed, err := token.SignedString([]byte(l.Secret))
	if err != nil {
		return Session{}, err
	}
	return Session{Token: signed, UserID: p.UserID, ExpiresAt: exp}, nil
}

func (l Local) Verify(ctx context.Context, token string) (Principal, error) {
	if strings.TrimSpace(l.Secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(l.now),
		jwt.WithIssuer("avcb"),
	)
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(l.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidCredentials
	}
	if claims.Subject == "" {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{UserID: claims.Subject, Email: claims.Email, Name: claims.Name, Source: "jwt"}, nil
}
