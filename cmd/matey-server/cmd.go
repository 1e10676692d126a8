package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/matey-server/internal/config"
	"github.com/park285/matey-server/internal/obslog"
	"github.com/park285/matey-server/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "matey-server",
		Short:         "Realtime two-player chess lobby: presence, matchmaking and games over WebSocket.",
		Args:          cobra.NoArgs,
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := obslog.Init(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	config.RegisterFlags(cmd.PersistentFlags())
	cmd.AddCommand(newTokenCmd())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("matey-server v{{.Version}}\n")
	return cmd
}

// newTokenCmd signs a websocket token with JWT_SECRET, for local testing.
func newTokenCmd() *cobra.Command {
	var (
		userID   string
		username string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed websocket token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if username == "" {
				username = userID
			}
			tok, err := server.NewAuthenticator(cfg.JWTSecret).Issue(userID, username, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "token subject id")
	cmd.Flags().StringVar(&username, "username", "", "display name (defaults to --user-id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 for none")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	config.LoadDotEnv()
	v, err := config.Bind(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	obslog.L().Debug("config_loaded", zap.String("listen_addr", cfg.ListenAddr), zap.String("queue", cfg.QueueBackend))
	return cfg, nil
}
