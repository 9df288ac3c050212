package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/formpilot/backend/internal/config"
	"github.com/zhouzirui/formpilot/backend/internal/handler"
	"github.com/zhouzirui/formpilot/backend/internal/integrations/paramstore"
	"github.com/zhouzirui/formpilot/backend/internal/logging"
	"github.com/zhouzirui/formpilot/backend/internal/service/ai"
	"github.com/zhouzirui/formpilot/backend/internal/service/auth"
	"github.com/zhouzirui/formpilot/backend/internal/service/broadcast"
	"github.com/zhouzirui/formpilot/backend/internal/service/dialogue"
	"github.com/zhouzirui/formpilot/backend/internal/service/onboarding"
	"github.com/zhouzirui/formpilot/backend/internal/service/session"
)

type options struct {
	envFile string
	addr    string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "formpilot",
		Short:         "Onboarding form assistant backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, opts); err != nil {
				log.Error().Err(err).Msg("server stopped")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address, overrides PORT")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	// Load .env file
	envErr := godotenv.Load(opts.envFile)

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if envErr != nil {
		log.Debug().Err(envErr).Str("file", opts.envFile).Msg("continuing with system environment variables only")
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}

	password, err := resolvePassword(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	creds := auth.Open(cfg.Auth.TokenFile, password)

	engine, err := newEngine(ctx, cfg.AI)
	if err != nil {
		return err
	}

	svc := onboarding.NewService(creds, session.NewRegistry(), dialogue.NewGateway(engine), broadcast.New())
	router := handler.NewRouter(cfg, svc)

	return startServer(ctx, cfg.Server, router)
}

func resolvePassword(ctx context.Context, cfg config.AuthConfig) (string, error) {
	if cfg.Password != "" || cfg.PasswordParam == "" {
		if cfg.Password == "" {
			log.Warn().Str("component", "auth").Msg("AUTH_PASSWORD not set, every login will be rejected")
		}
		return cfg.Password, nil
	}

	client, err := paramstore.NewFromEnvironment(ctx)
	if err != nil {
		return "", err
	}
	password, err := client.Secret(ctx, cfg.PasswordParam)
	if err != nil {
		return "", errors.Wrap(err, "resolve login secret")
	}
	log.Info().Str("component", "auth").Str("param", cfg.PasswordParam).Msg("login secret loaded from parameter store")
	return password, nil
}

func newEngine(ctx context.Context, cfg config.AIConfig) (dialogue.Engine, error) {
	if cfg.Provider == config.ProviderScripted {
		log.Info().Str("component", "ai").Msg("using scripted dialogue engine")
		return ai.NewScripted(), nil
	}

	if !cfg.Enabled() {
		log.Warn().Str("component", "ai").Msg("Ark 凭证未配置，使用脚本对话引擎")
		return ai.NewScripted(), nil
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create ark chat model")
	}
	systemPrompt, err := ai.LoadSystemPrompt(cfg.SystemPromptFile)
	if err != nil {
		return nil, err
	}
	svc, err := ai.NewService(ctx, chatModel, systemPrompt, cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	log.Info().Str("component", "ai").Str("model", cfg.Model).Msg("AI service initialized successfully")
	return svc, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Str("origins", strings.Join(serverCfg.AllowedOrigins, ",")).Msg("onboarding backend listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
