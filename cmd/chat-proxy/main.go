// Command chat-proxy serves the authenticated chat endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bionicotaku/tastesig-proxy"
	"github.com/bionicotaku/tastesig-proxy/internal/config"
	"github.com/bionicotaku/tastesig-proxy/internal/server"
	"github.com/bionicotaku/tastesig-proxy/proxy"
	"github.com/bionicotaku/tastesig-proxy/upstream"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:   "chat-proxy",
		Short: "Authenticated proxy from the Taste Signature app to the AI API",
		Long: `Verifies the caller's Firebase identity token, bounds the chat payload and
forwards it to the Anthropic Messages API with a hard timeout.

Configuration comes from an optional YAML file, a .env file and the environment,
with the environment taking precedence.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(envPath); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("CHAT_PROXY_CONFIG"), "Path to configuration file (YAML)")
	cmd.Flags().StringVar(&envPath, "env", ".env", "Path to .env file; missing files are ignored")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var verifier proxy.TokenVerifier
	if cfg.Dev.BypassAuth {
		logger.Warn("token verification is bypassed; never enable DEV_BYPASS_AUTH in production")
	} else {
		v, err := jwtx.NewVerifier(cfg.VerifierConfig())
		if err != nil {
			return fmt.Errorf("create verifier: %w", err)
		}
		verifier = v
	}

	upstreamCfg := cfg.UpstreamConfig()
	if cfg.Upstream.IdentityAudience != "" {
		upstreamCfg.Authorizer = upstream.IdentityTokenAuthorizer{
			Provider: jwtx.NewProvider(jwtx.ProviderConfig{ServiceAccount: cfg.Upstream.ServiceAccount}),
			Audience: cfg.Upstream.IdentityAudience,
		}
	}
	client := upstream.NewClient(upstreamCfg)
	if !client.Configured() {
		logger.Error("ANTHROPIC_API_KEY is not set; chat requests will be rejected with 503")
	}

	handler, err := proxy.New(cfg.ProxyConfig(), verifier, client,
		proxy.WithLogger(logger.Named("proxy")),
		proxy.WithMetrics(proxy.NewMetrics(reg)),
	)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	srv := server.New(server.Options{
		Address:         cfg.Server.Address,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Chat:            handler,
		Gatherer:        reg,
		Logger:          logger,
	})
	logger.Info("starting chat proxy",
		zap.String("project_id", cfg.Firebase.ProjectID),
		zap.Bool("cache_keys", cfg.Firebase.CacheKeys),
		zap.Duration("upstream_timeout", client.Timeout()),
	)
	return srv.Run(ctx)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
