package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"avcb/internal/config"
	"avcb/internal/db"
	"avcb/internal/engine"
	"avcb/internal/identity"
	"avcb/internal/migrate"
	"avcb/internal/notify"
	"avcb/internal/receita"
	"avcb/internal/storage"
	"avcb/internal/store"
	avcbsdk "avcb/sdk/go"
)

// Settings are the runtime knobs of a portal instance. Portal policy lives
// in avcb.yml instead.
type Settings struct {
	Workspace  string
	ConfigPath string

	// Store is "sql" (default), "dynamodb" or "remote".
	Store        string
	Driver       string
	DSN          string
	DynamoPrefix string
	RemoteURL    string
	RemoteToken  string

	AWSRegion    string
	AWSAccessKey string
	AWSSecretKey string

	S3Bucket string
	FilesDir string

	CompanyLookup bool
	ReceitaURL    string
	RedisURL      string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	WebhookURL   string
	WebhookToken string

	// Identity is "local" (default), "cognito" or "none" for offline tooling.
	Identity        string
	JWTSecret       string
	SessionTTL      time.Duration
	CognitoPoolID   string
	CognitoClientID string
}

// App is a wired portal instance.
type App struct {
	Engine   engine.Engine
	Identity identity.Provider
	closers  []func() error
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// LoadConfig reads the portal policy from ConfigPath, then the workspace
// avcb.yml, falling back to the built-in defaults.
func LoadConfig(s Settings) (*config.Config, error) {
	if s.ConfigPath != "" {
		return config.FromFile(s.ConfigPath)
	}
	cfg, err := config.LoadOptional(s.Workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("avcb")
	}
	return cfg, nil
}

type builder struct {
	s      Settings
	logger *zap.Logger
	app    *App
	aws    *aws.Config
}

// Build wires the store, engine and identity provider selected by s.
func Build(ctx context.Context, s Settings, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &builder{s: s, logger: logger, app: &App{}}
	a, err := b.build(ctx)
	if err != nil {
		_ = b.app.Close()
		return nil, err
	}
	return a, nil
}

func (b *builder) build(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig(b.s)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st, err := b.store(ctx)
	if err != nil {
		return nil, err
	}
	e := engine.New(st, cfg)
	e.Logger = b.logger
	e.Notifier = b.notifier()
	if e.Files, err = b.files(ctx); err != nil {
		return nil, err
	}
	if e.Companies, err = b.companies(ctx); err != nil {
		return nil, err
	}
	b.app.Engine = e
	if b.app.Identity, err = b.identity(ctx, e); err != nil {
		return nil, err
	}
	return b.app, nil
}

func (b *builder) awsConfig(ctx context.Context) (aws.Config, error) {
	if b.aws != nil {
		return *b.aws, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if b.s.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(b.s.AWSRegion))
	}
	if b.s.AWSAccessKey != "" && b.s.AWSSecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.s.AWSAccessKey, b.s.AWSSecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	b.aws = &cfg
	return cfg, nil
}

func (b *builder) store(ctx context.Context) (store.Store, error) {
	switch strings.ToLower(b.s.Store) {
	case "", "sql":
		conn, dialect, err := db.Open(db.Config{Driver: b.s.Driver, DSN: b.s.DSN, Workspace: b.s.Workspace})
		if err != nil {
			return nil, err
		}
		b.app.closers = append(b.app.closers, conn.Close)
		if err := migrate.Migrate(conn, dialect); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return store.NewSQL(conn, dialect), nil
	case "dynamodb":
		cfg, err := b.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewDynamo(dynamodb.NewFromConfig(cfg), b.s.DynamoPrefix), nil
	case "remote":
		if b.s.RemoteURL == "" {
			return nil, errors.New("remote store requires a base url")
		}
		client := avcbsdk.New(b.s.RemoteURL)
		client.BearerToken = b.s.RemoteToken
		return store.NewRemote(client), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", b.s.Store)
	}
}

func (b *builder) notifier() notify.Dispatcher {
	var out notify.Multi
	if b.s.WebhookURL != "" {
		out = append(out, notify.Webhook{URL: b.s.WebhookURL, Token: b.s.WebhookToken})
	}
	if b.s.SMTPHost != "" {
		out = append(out, notify.Email{
			Host:     b.s.SMTPHost,
			Port:     b.s.SMTPPort,
			Username: b.s.SMTPUser,
			Password: b.s.SMTPPassword,
			From:     b.s.SMTPFrom,
			FromName: b.s.SMTPFromName,
		})
	}
	switch len(out) {
	case 0:
		return notify.Noop{}
	case 1:
		return out[0]
	}
	return out
}

func (b *builder) files(ctx context.Context) (storage.ObjectStore, error) {
	if b.s.S3Bucket != "" {
		cfg, err := b.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewS3(s3.NewFromConfig(cfg), b.s.S3Bucket, cfg.Region)
	}
	dir := b.s.FilesDir
	if dir == "" {
		ws, err := db.EnsureWorkspace(b.s.Workspace)
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(ws, "files")
	}
	return storage.Local{Root: dir}, nil
}

func (b *builder) companies(ctx context.Context) (receita.Lookup, error) {
	if !b.s.CompanyLookup {
		return nil, nil
	}
	client := receita.NewClient()
	if b.s.ReceitaURL != "" {
		client.BaseURL = b.s.ReceitaURL
	}
	if b.s.RedisURL == "" {
		return client, nil
	}
	rdb, err := receita.NewRedis(ctx, b.s.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	b.app.closers = append(b.app.closers, rdb.Close)
	return receita.Cached{Next: client, Redis: rdb, TTL: receita.DefaultCacheTTL, Logger: b.logger}, nil
}

func (b *builder) identity(ctx context.Context, e engine.Engine) (identity.Provider, error) {
	switch strings.ToLower(b.s.Identity) {
	case "none":
		return nil, nil
	case "", "local":
		if strings.TrimSpace(b.s.JWTSecret) == "" {
			return nil, errors.New("AVCB_JWT_SECRET is required for local identity")
		}
		return identity.Local{Repo: e.Repo, Secret: b.s.JWTSecret, TTL: b.s.SessionTTL}, nil
	case "cognito":
		if b.s.CognitoPoolID == "" || b.s.CognitoClientID == "" {
			return nil, errors.New("cognito identity requires pool and client ids")
		}
		cfg, err := b.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return identity.NewCognito(ctx, cognitoidentityprovider.NewFromConfig(cfg), cfg.Region, b.s.CognitoPoolID, b.s.CognitoClientID, e.Repo)
	default:
		return nil, fmt.Errorf("unknown identity provider %q", b.s.Identity)
	}
}
