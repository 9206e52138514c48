package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aris-ansari/x-clone/internal/activity"
	"github.com/aris-ansari/x-clone/internal/auth"
	"github.com/aris-ansari/x-clone/internal/config"
	"github.com/aris-ansari/x-clone/internal/database"
	"github.com/aris-ansari/x-clone/internal/logging"
	"github.com/aris-ansari/x-clone/internal/metrics"
	"github.com/aris-ansari/x-clone/internal/notifications"
	"github.com/aris-ansari/x-clone/internal/presence"
	"github.com/aris-ansari/x-clone/internal/realtime"
	"github.com/aris-ansari/x-clone/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "x-clone-api",
		Short: "X clone realtime notification service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (defaults to ./.env when present)")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("jwt-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("auth.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres, mongo)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL connection string")
	cmd.PersistentFlags().String("mongo-uri", "", "MongoDB connection URI")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Origins allowed to call the API and open sockets")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "auth.jwt_secret", "jwt-secret")
	bindFlag(cmd, "auth.cookie_name", "cookie-name")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "database.mongo_uri", "mongo-uri")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
	} else if err := config.LoadDotEnv(); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newTokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Print a signed session cookie value for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.JWTSecret),
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueToken(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n# expires %s\n", appConfig.CookieName, token, expiresAt.Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to 15 days)")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore, err := database.Open(ctx, database.Config{
		Driver:    appConfig.DatabaseDriver,
		Path:      appConfig.DatabasePath,
		DSN:       appConfig.DatabaseDSN,
		MongoURI:  appConfig.MongoURI,
		MongoName: appConfig.MongoName,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}()

	collectors := metrics.New(metrics.Config{})

	authenticator, err := auth.NewSessionAuthenticator(auth.SessionAuthenticatorConfig{
		SigningSecret: []byte(appConfig.JWTSecret),
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	hub := realtime.NewHub(realtime.HubConfig{Logger: logger, Metrics: collectors})
	registry := presence.NewRegistry()

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Store:     store,
		Publisher: hub,
		Logger:    logger,
		Metrics:   collectors,
	})
	if err != nil {
		return err
	}

	recorder, err := activity.NewRecorder(activity.RecorderConfig{
		Notifier: notificationService,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	gateway, err := realtime.NewGateway(realtime.GatewayConfig{
		Hub:             hub,
		Presence:        registry,
		Authenticator:   authenticator,
		ReadMarker:      notificationService,
		Logger:          logger,
		Metrics:         collectors,
		SendBuffer:      appConfig.SendBuffer,
		WriteTimeout:    appConfig.WriteTimeout,
		PongTimeout:     appConfig.PongTimeout,
		MaxMessageBytes: appConfig.MaxMessageBytes,
		AllowedOrigins:  appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authenticator:  authenticator,
		Notifications:  notificationService,
		Activity:       recorder,
		Presence:       registry,
		Gateway:        gateway,
		MetricsHandler: promhttp.Handler(),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked sockets are not tracked by Shutdown.
		hub.Close()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		hub.Close()
		return err
	}
}
