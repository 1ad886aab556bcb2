package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"avcb/internal/app"
	"avcb/internal/domain"
	"avcb/internal/engine"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "avcb",
	Short: "AVCB inspection portal",
	Long: `avcb runs the fire-safety inspection workflow behind the AVCB portal.
- Processes move cadastro -> triagem -> vistoria -> comissao -> aprovacao -> concluido.
- A rejected document sends the process to exigencia until staff advance it again.
- Every mutation is recorded in the process history.
- Staff operations need the admin role (avcb role grant <user-id>).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		l, err := newLogger(viper.GetBool("debug"))
		if err != nil {
			return err
		}
		logger = l
		if path := viper.GetString("ssm-path"); path != "" {
			if _, err := app.LoadSSMEnv(cmd.Context(), path, viper.GetString("aws-region"), logger); err != nil {
				return err
			}
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AVCB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "portal config file (defaults to <workspace>/avcb.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier recorded in history")
	flags.String("actor-name", "", "actor display name recorded in history")
	flags.String("store", "sql", "entity store backend: sql, dynamodb or remote")
	flags.String("driver", "sqlite", "sql driver: sqlite or postgres")
	flags.String("dsn", "", "sql data source name")
	flags.Bool("debug", false, "development logging")
	flags.String("ssm-path", "", "load settings from this SSM Parameter Store path")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "actor-name", "store", "driver", "dsn", "debug", "ssm-path"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.SetDefault("session-ttl", 12*time.Hour)
	viper.SetDefault("smtp-port", 587)
	viper.SetDefault("identity", "local")
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(stampCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(companyCmd())
}

// settings collects runtime settings from flags and AVCB_* variables.
func settings() app.Settings {
	return app.Settings{
		Workspace:       viper.GetString("workspace"),
		ConfigPath:      viper.GetString("config"),
		Store:           viper.GetString("store"),
		Driver:          viper.GetString("driver"),
		DSN:             viper.GetString("dsn"),
		DynamoPrefix:    viper.GetString("dynamo-prefix"),
		RemoteURL:       viper.GetString("remote-url"),
		RemoteToken:     viper.GetString("remote-token"),
		AWSRegion:       viper.GetString("aws-region"),
		AWSAccessKey:    viper.GetString("aws-access-key-id"),
		AWSSecretKey:    viper.GetString("aws-secret-access-key"),
		S3Bucket:        viper.GetString("s3-bucket"),
		FilesDir:        viper.GetString("files-dir"),
		CompanyLookup:   viper.GetBool("company-lookup"),
		ReceitaURL:      viper.GetString("receita-url"),
		RedisURL:        viper.GetString("redis-url"),
		SMTPHost:        viper.GetString("smtp-host"),
		SMTPPort:        viper.GetInt("smtp-port"),
		SMTPUser:        viper.GetString("smtp-user"),
		SMTPPassword:    viper.GetString("smtp-password"),
		SMTPFrom:        viper.GetString("smtp-from"),
		SMTPFromName:    viper.GetString("smtp-from-name"),
		WebhookURL:      viper.GetString("webhook-url"),
		WebhookToken:    viper.GetString("webhook-token"),
		Identity:        viper.GetString("identity"),
		JWTSecret:       viper.GetString("jwt-secret"),
		SessionTTL:      viper.GetDuration("session-ttl"),
		CognitoPoolID:   viper.GetString("cognito-pool-id"),
		CognitoClientID: viper.GetString("cognito-client-id"),
	}
}

// withEngine wires an engine for one offline command.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	s := settings()
	s.Identity = "none"
	a, err := app.Build(ctx, s, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

func actor() domain.Actor {
	return domain.Actor{ID: viper.GetString("actor-id"), Name: viper.GetString("actor-name")}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
