package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codedeck/backend/internal/auth"
	"github.com/codedeck/backend/internal/config"
	"github.com/codedeck/backend/internal/database"
	"github.com/codedeck/backend/internal/files"
	"github.com/codedeck/backend/internal/logging"
	"github.com/codedeck/backend/internal/projects"
	"github.com/codedeck/backend/internal/run"
	"github.com/codedeck/backend/internal/server"
	"github.com/codedeck/backend/internal/session"
	"github.com/codedeck/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "codedeck-api",
		Short: "Codedeck collaborative workspace backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("identity-signing-secret", "", "Upstream identity signing secret (overrides env)")
	cmd.PersistentFlags().String("identity-issuer", defaults.GetString("identity.issuer"), "Upstream identity token issuer")
	cmd.PersistentFlags().String("run-url", defaults.GetString("run.url"), "External run service base URL")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "identity.signing_secret", "identity-signing-secret")
	bindFlag(cmd, "identity.issuer", "identity-issuer")
	bindFlag(cmd, "run.url", "run-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "codedeck-api",
		Audience:      "codedeck-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	identityVerifier, err := auth.NewIdentityVerifier(auth.IdentityVerifierConfig{
		SigningSecret: []byte(appConfig.IdentitySigningSecret),
		Issuer:        appConfig.IdentityIssuer,
		CookieName:    appConfig.IdentityCookieName,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	projectsService, err := projects.NewService(projects.ServiceConfig{
		Database:   db,
		IDProvider: files.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	filesService, err := files.NewService(files.ServiceConfig{
		Database:   db,
		IDProvider: files.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewRoomDispatcher()

	registry, err := session.NewRegistry(session.Config{
		Broadcaster:   dispatcher,
		StaleAfter:    appConfig.PresenceStaleAfter,
		SweepInterval: appConfig.PresenceSweepInterval,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	relay := session.NewRelay(session.RelayConfig{
		Registry:    registry,
		Broadcaster: dispatcher,
		Logger:      logger,
	})

	var runService run.Service
	if appConfig.RunServiceURL != "" {
		runService = run.NewHTTPClient(run.HTTPClientConfig{BaseURL: appConfig.RunServiceURL})
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier: identityVerifier,
		TokenManager:     tokenManager,
		IdentityResolver: usersService,
		UserDirectory:    usersService,
		FilesService:     filesService,
		ProjectsService:  projectsService,
		RunService:       runService,
		Registry:         registry,
		Relay:            relay,
		Dispatcher:       dispatcher,
		AutosaveDebounce: appConfig.AutosaveDebounce,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry.Start(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
