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

	"github.com/MarcoPoloResearchLab/warden/internal/auth"
	"github.com/MarcoPoloResearchLab/warden/internal/bot"
	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/MarcoPoloResearchLab/warden/internal/config"
	"github.com/MarcoPoloResearchLab/warden/internal/database"
	"github.com/MarcoPoloResearchLab/warden/internal/downloads"
	"github.com/MarcoPoloResearchLab/warden/internal/gate"
	"github.com/MarcoPoloResearchLab/warden/internal/logging"
	"github.com/MarcoPoloResearchLab/warden/internal/moderation"
	"github.com/MarcoPoloResearchLab/warden/internal/platform"
	"github.com/MarcoPoloResearchLab/warden/internal/robusthttp"
	"github.com/MarcoPoloResearchLab/warden/internal/roles"
	"github.com/MarcoPoloResearchLab/warden/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SaveTube transfers are bounded by the download job timeout, not a client timeout.
const saveTubeTimeout = -1

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "warden-bot",
		Short: "Chat moderation and media download bot",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newOperatorTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "Operator API listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("platform-base-url", defaults.GetString("platform.base_url"), "Bot API base URL")
	cmd.PersistentFlags().String("platform-token", "", "Bot API token (overrides env)")
	cmd.PersistentFlags().String("super-admin-id", "", "Actor granted owner rank in every conversation")
	cmd.PersistentFlags().StringSlice("filter-terms", nil, "Prohibited terms for the content filter")
	cmd.PersistentFlags().String("ytdlp-path", defaults.GetString("downloads.ytdlp_path"), "yt-dlp executable")
	cmd.PersistentFlags().String("savetube-key", "", "SaveTube API key (enables the TikTok provider)")
	cmd.PersistentFlags().Int("download-workers", defaults.GetInt("downloads.workers"), "Concurrent download jobs")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("operator.token_ttl_minutes"), "Operator token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Operator token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "platform.base_url", "platform-base-url")
	bindFlag(cmd, "platform.token", "platform-token")
	bindFlag(cmd, "admin.super_admin_id", "super-admin-id")
	bindFlag(cmd, "filter.terms", "filter-terms")
	bindFlag(cmd, "downloads.ytdlp_path", "ytdlp-path")
	bindFlag(cmd, "downloads.savetube_key", "savetube-key")
	bindFlag(cmd, "downloads.workers", "download-workers")
	bindFlag(cmd, "operator.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "operator.signing_secret", "signing-secret")
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

func newOperatorTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "operator-token",
		Short: "Print a signed operator API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			operatorConfig, err := config.LoadOperator(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := newTokenIssuer(operatorConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueOperatorToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in=%d\n", token, expiresIn)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Operator identity recorded in the token")
	return cmd
}

func newTokenIssuer(operatorConfig config.OperatorConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(operatorConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      operatorConfig.TokenTTL,
	})
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

	var superAdmin chat.ActorID
	if appConfig.SuperAdminID != "" {
		superAdmin, err = chat.NewActorID(appConfig.SuperAdminID)
		if err != nil {
			return fmt.Errorf("admin.super_admin_id: %w", err)
		}
	}

	platformClient, err := platform.New(platform.Config{
		Token:   appConfig.PlatformToken,
		BaseURL: appConfig.PlatformBaseURL,
		Logger:  logger.Named("platform"),
	})
	if err != nil {
		return err
	}

	rankStore, err := roles.NewStore(db)
	if err != nil {
		return err
	}
	resolver, err := roles.NewResolver(roles.ResolverConfig{
		Ranks:        rankStore,
		Members:      platformClient,
		SuperAdminID: superAdmin,
		Logger:       logger.Named("roles"),
	})
	if err != nil {
		return err
	}
	rolesService, err := roles.NewService(roles.ServiceConfig{
		Store:      rankStore,
		Authorizer: resolver,
		Logger:     logger.Named("roles"),
	})
	if err != nil {
		return err
	}

	feed := server.NewModerationFeed()

	warnStore, err := moderation.NewGormWarnStore(db)
	if err != nil {
		return err
	}
	engine, err := moderation.NewEngine(moderation.EngineConfig{
		Platform:   platformClient,
		Authorizer: resolver,
		Warns:      warnStore,
		Publisher:  feed,
		Logger:     logger.Named("moderation"),
	})
	if err != nil {
		return err
	}

	settings, err := gate.NewSettingsStore(db)
	if err != nil {
		return err
	}
	messageGate, err := gate.New(gate.Config{
		Platform:  platformClient,
		Settings:  settings,
		Filter:    gate.NewContentFilter(appConfig.FilterTerms),
		Publisher: feed,
		Logger:    logger.Named("gate"),
	})
	if err != nil {
		return err
	}

	downloadManager, err := downloads.NewManager(downloads.ManagerConfig{
		Platform: platformClient,
		Store:    downloads.NewSessionStore(appConfig.Downloads.SessionCapacity, appConfig.Downloads.SessionTTL),
		Providers: []downloads.Provider{
			downloads.NewSaveTubeProvider(downloads.SaveTubeConfig{
				APIKey: appConfig.Downloads.SaveTubeKey,
				Client: robusthttp.NewClient(logger.Named("savetube"), saveTubeTimeout),
			}),
			downloads.NewYtDlpProvider(appConfig.Downloads.YtDlpPath, nil),
		},
		MaxSendBytes: appConfig.Downloads.MaxSendBytes,
		Timeout:      appConfig.Downloads.Timeout,
		Workers:      int64(appConfig.Downloads.Workers),
		ScratchDir:   appConfig.Downloads.ScratchDir,
		Logger:       logger.Named("downloads"),
	})
	if err != nil {
		return err
	}

	dispatcher, err := bot.New(bot.Config{
		Platform:   platformClient,
		Gate:       messageGate,
		Moderation: engine,
		Roles:      rolesService,
		Authorizer: resolver,
		Settings:   settings,
		Downloads:  downloadManager,
		Logger:     logger.Named("bot"),
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := newTokenIssuer(appConfig.Operator)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:  tokenIssuer,
		Events:  dispatcher,
		Ranks:   rankStore,
		Filters: settings,
		Feed:    feed,
		Logger:  logger.Named("http"),
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

	dispatcherDone := make(chan error, 1)
	go func() {
		dispatcherDone <- dispatcher.Run(signalCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-signalCtx.Done():
	case serveErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	if err := <-dispatcherDone; err != nil && !errors.Is(err, context.Canceled) && serveErr == nil {
		serveErr = err
	}
	logger.Info("server stopped")
	return serveErr
}
