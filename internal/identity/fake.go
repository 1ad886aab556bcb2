package identity

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Provider for tests. Tokens map directly to principals.
type Fake struct {
	mu        sync.Mutex
	passwords map[string]string
	users     map[string]Principal
	tokens    map[string]Principal
}

func NewFake() *Fake {
	return &Fake{
		passwords: map[string]string{},
		users:     map[string]Principal{},
		tokens:    map[string]Principal{},
	}
}

// Grant makes token authenticate as p.
func (f *Fake) Grant(token string, p Principal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Source == "" {
		p.Source = "fake"
	}
	f.tokens[token] = p
}

func (f *Fake) SignUp(ctx context.Context, in SignUpInput) (Principal, error) {
	if err := in.validate(); err != nil {
		return Principal{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := Principal{UserID: "user-" + in.Email, Email: in.Email, Name: in.FullName, Source: "fake"}
	f.passwords[in.Email] = in.Password
	f.users[in.Email] = p
	return p, nil
}

func (f *Fake) Login(ctx context.Context, email, password string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.users[email]
	if !ok || f.passwords[email] != password {
		return Session{}, ErrInvalidCredentials
	}
	token := "token-" + p.UserID
	f.tokens[token] = p
	return Session{Token: token, UserID: p.UserID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *Fake) Verify(ctx context.Context, token string) (Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.tokens[token]
	if !ok {
		return Principal{}, ErrInvalidCredentials
	}
	return p, nil
}
