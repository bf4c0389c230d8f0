package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Ananth-NQI/signdesk-backend/database"
	"github.com/Ananth-NQI/signdesk-backend/internal/config"
	"github.com/Ananth-NQI/signdesk-backend/internal/middleware"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/routes"
	"github.com/Ananth-NQI/signdesk-backend/internal/utils"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "signdesk",
		Short:         "SignDesk - document signing backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, errors.Wrap(err, "load config")
	}
	utils.SetupLogger(cfg.LogLevel, cfg.IsDevelopment())
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily expiration sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApplication(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			a.sweeper.Start(ctx)

			app := routes.NewApp("SignDesk Backend " + Version)
			routes.SetupRoutes(app, a.routes(), routes.Options{
				JWTSecret:          cfg.JWTSecret,
				OTPRateLimitPerMin: cfg.OTPRateLimitPerMin,
				AllowOrigins:       cfg.AppURL,
			})

			listenErr := make(chan error, 1)
			go func() {
				listenErr <- app.Listen(":" + cfg.Port)
			}()

			log.Info().
				Str("port", cfg.Port).
				Str("environment", cfg.Environment).
				Str("storage", a.storageType()).
				Str("version", Version).
				Msg("signdesk backend started")

			select {
			case err := <-listenErr:
				a.sweeper.Stop()
				return errors.Wrap(err, "listen")
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			a.sweeper.Stop()
			return app.ShutdownWithTimeout(10 * time.Second)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue signing sessions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApplication(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.sweeper.RunOnce(ctx)
			out, _ := json.Marshal(report)
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if err != nil {
				return err
			}
			if report.Errors > 0 {
				return errors.Errorf("%d sessions could not be expired", report.Errors)
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			return database.Migrate(db)
		},
	}
}

func tokenCmd() *cobra.Command {
	var caller models.Caller
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if caller.UserID == "" {
				return errors.New("--user is required")
			}
			token, err := middleware.IssueToken(cfg.JWTSecret, caller, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&caller.UserID, "user", "", "subject (user id)")
	cmd.Flags().StringVar(&caller.Email, "email", "", "caller email")
	cmd.Flags().StringVar(&caller.Role, "role", models.RoleAgent, "role (admin, agent, client)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
