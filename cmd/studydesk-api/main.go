package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/StudyDeskLabs/studydesk/backend/internal/accounts"
	"github.com/StudyDeskLabs/studydesk/backend/internal/auth"
	"github.com/StudyDeskLabs/studydesk/backend/internal/config"
	"github.com/StudyDeskLabs/studydesk/backend/internal/database"
	"github.com/StudyDeskLabs/studydesk/backend/internal/importer"
	"github.com/StudyDeskLabs/studydesk/backend/internal/logging"
	"github.com/StudyDeskLabs/studydesk/backend/internal/server"
	"github.com/StudyDeskLabs/studydesk/backend/internal/studyplan"
	"github.com/StudyDeskLabs/studydesk/backend/internal/tasks"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "studydesk-api",
		Short: "StudyDesk task management backend service",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key for study plan generation (overrides env)")
	cmd.PersistentFlags().String("gemini-model", defaults.GetString("gemini.model"), "Gemini model identifier")
	cmd.PersistentFlags().Int("canvas-timeout-seconds", defaults.GetInt("canvas.http_timeout_seconds"), "Canvas HTTP timeout in seconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "gemini.api_key", "gemini-api-key")
	bindFlag(cmd, "gemini.model", "gemini-model")
	bindFlag(cmd, "canvas.http_timeout_seconds", "canvas-timeout-seconds")
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
		TokenTTL:      appConfig.TokenTTL,
	})

	accountService, err := accounts.NewService(accounts.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()

	var planService *studyplan.Service
	var planRemover tasks.PlanRemover
	if appConfig.GeminiAPIKey != "" {
		generator, err := studyplan.NewGeminiGenerator(ctx, appConfig.GeminiAPIKey, appConfig.GeminiModel)
		if err != nil {
			return err
		}
		planService, err = studyplan.NewService(studyplan.ServiceConfig{
			Database:   db,
			Clock:      time.Now,
			IDProvider: tasks.NewUUIDProvider(),
			Generator:  generator,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		planRemover = planService
	} else {
		logger.Warn("gemini api key not configured, study plan endpoints disabled")
	}

	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: tasks.NewUUIDProvider(),
		Plans:      planRemover,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	importService, err := importer.NewService(importer.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: tasks.NewUUIDProvider(),
		Profiles:   accountService,
		Events:     dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Accounts:     accountService,
		Tasks:        taskService,
		Importer:     importService,
		TokenManager: tokenManager,
		Canvas: &server.HTTPCanvasFactory{
			Timeout: appConfig.CanvasTimeout,
			Logger:  logger,
		},
		Realtime: dispatcher,
		Logger:   logger,
	}
	if planService != nil {
		deps.Plans = planService
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
