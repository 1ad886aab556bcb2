package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	cognito "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/golang-jwt/jwt/v5"

	"avcb/internal/apperr"
	"avcb/internal/repo"
)

// CognitoAPI is the subset of the Cognito user pool client in use.
type CognitoAPI interface {
	SignUp(ctx context.Context, in *cognito.SignUpInput, opts ...func(*cognito.Options)) (*cognito.SignUpOutput, error)
	InitiateAuth(ctx context.Context, in *cognito.InitiateAuthInput, opts ...func(*cognito.Options)) (*cognito.InitiateAuthOutput, error)
}

// Cognito delegates credentials to a user pool and verifies its RS256 id tokens.
type Cognito struct {
	Client   CognitoAPI
	ClientID string
	Issuer   string
	KeyFunc  jwt.Keyfunc
	// Repo stores the local profile mirrored at sign up.
	Repo repo.Repo
	Now  func() time.Time
}

// PoolIssuer is the token issuer of a user pool.
func PoolIssuer(region, poolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, poolID)
}

// NewCognito fetches the pool JWKS and keeps it refreshed in the background.
func NewCognito(ctx context.Context, client CognitoAPI, region, poolID, clientID string, r repo.Repo) (*Cognito, error) {
	issuer := PoolIssuer(region, poolID)
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{issuer + "/.well-known/jwks.json"})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS client for %s: %w", issuer, err)
	}
	return &Cognito{Client: client, ClientID: clientID, Issuer: issuer, KeyFunc: jwks.Keyfunc, Repo: r}, nil
}

func (c *Cognito) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Cognito) SignUp(ctx context.Context, in SignUpInput) (Principal, error) {
	if err := in.validate(); err != nil {
		return Principal{}, err
	}
	email := repo.NormalizeEmail(in.Email)
	out, err := c.Client.SignUp(ctx, &cognito.SignUpInput{
		ClientId: aws.String(c.ClientID),
		Username: aws.String(email),
		Password: aws.String(in.Password),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
			{Name: aws.String("name"), Value: aws.String(strings.TrimSpace(in.FullName))},
		},
	})
	if err != nil {
		return Principal{}, cognitoErr(err)
	}
	sub := aws.ToString(out.UserSub)
	if err := registerProfile(ctx, c.Repo.Store, c.Repo.Now, sub, in); err != nil {
		return Principal{}, fmt.Errorf("store profile of %s: %w", sub, err)
	}
	return Principal{UserID: sub, Email: email, Name: strings.TrimSpace(in.FullName), Source: "cognito"}, nil
}

func (c *Cognito) Login(ctx context.Context, email, password string) (Session, error) {
	out, err := c.Client.InitiateAuth(ctx, &cognito.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		AuthParameters: map[string]string{
			"USERNAME": repo.NormalizeEmail(email),
			"PASSWORD": password,
		},
		ClientId: aws.String(c.ClientID),
	})
	if err != nil {
		return Session{}, cognitoErr(err)
	}
	if out.AuthenticationResult == nil {
		return Session{}, fmt.Errorf("cognito challenge %s not supported: %w", out.ChallengeName, apperr.ErrUnauthorized)
	}
	token := aws.ToString(out.AuthenticationResult.IdToken)
	p, err := c.Verify(ctx, token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    p.UserID,
		ExpiresAt: c.now().Add(time.Duration(out.AuthenticationResult.ExpiresIn) * time.Second),
	}, nil
}

type cognitoClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Name     string `json:"name"`
	TokenUse string `json:"token_use"`
}

func (c *Cognito) Verify(ctx context.Context, token string) (Principal, error) {
	if c.KeyFunc == nil {
		return Principal{}, errors.New("cognito jwks not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(c.Issuer),
		jwt.WithAudience(c.ClientID),
		jwt.WithTimeFunc(c.now),
	)
	claims := &cognitoClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, c.KeyFunc)
	if err != nil || !parsed.Valid || claims.Subject == "" || claims.TokenUse != "id" {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{UserID: claims.Subject, Email: claims.Email, Name: claims.Name, Source: "cognito"}, nil
}

func cognitoErr(err error) error {
	var exists *types.UsernameExistsException
	var badPassword *types.InvalidPasswordException
	var notAuthorized *types.NotAuthorizedException
	var notFound *types.UserNotFoundException
	var notConfirmed *types.UserNotConfirmedException
	switch {
	case errors.As(err, &exists):
		return apperr.Conflict("e-mail already registered")
	case errors.As(err, &badPassword):
		return apperr.Invalid("password", "does not meet the password policy")
	case errors.As(err, &notAuthorized), errors.As(err, &notFound):
		return ErrInvalidCredentials
	case errors.As(err, &notConfirmed):
		return fmt.Errorf("e-mail not confirmed: %w", apperr.ErrUnauthorized)
	}
	return fmt.Errorf("cognito: %w", err)
}
