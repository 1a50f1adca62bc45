package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm/logger"

	"navio/pkg/db"
	"navio/services/api/internal/config"
	"navio/services/api/internal/seed"
	"navio/services/api/internal/store"
	"navio/services/api/internal/tokens"
)

const serviceName = "navio-api"

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Navio walkthrough API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSeedCommand())
	cmd.AddCommand(newTokenCommand())
	return cmd
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var out zerolog.Logger
	if cfg.LogFormat == "console" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		out = zerolog.New(os.Stderr)
	}
	return out.Level(level).With().Timestamp().Str("service", serviceName).Logger()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			log := newLogger(cfg)
			if err := db.Migrate(ctx, cfg.DBDSN, command); err != nil {
				return err
			}
			log.Info().Str("command", command).Msg("migrations done")
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users, tenants and sessions from a YAML fixture file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fx, err := seed.LoadFile(file)
			if err != nil {
				return err
			}

			handle, err := db.Connect(ctx, cfg.DBDSN, logger.Warn)
			if err != nil {
				return err
			}
			defer handle.Close()
			st, err := store.NewGorm(handle.ORM, handle.Pool)
			if err != nil {
				return err
			}

			res, err := seed.Apply(ctx, st, fx, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "users=%d tenants=%d memberships=%d\n", res.Users, res.Tenants, res.Memberships)
			for _, s := range res.Sessions {
				fmt.Fprintf(out, "%s\t%s\t%s\n", s.Email, s.Token, s.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to the fixture YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Extension token utilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newTokenIssueCommand())
	return cmd
}

func newTokenIssueCommand() *cobra.Command {
	var (
		userID   string
		tenantID string
		email    string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign an extension token without going through a browser session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(commandContext(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			uid, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("--tenant: %w", err)
			}
			issuer, err := tokens.NewIssuer(cfg.AuthSecret, cfg.ExtensionTokenTTL)
			if err != nil {
				return err
			}
			tok, err := issuer.Issue(uid, tid, email)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", tok.Value, tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
