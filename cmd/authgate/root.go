package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/authgate/config"
	"github.com/upb/authgate/internal/observability"
	"github.com/upb/authgate/token"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "authgate",
		Short: "Access-control boundary for an HTTP service",
		Long: `authgate validates request origins, decodes the signed session cookie,
verifies bearer credentials and issues them at login.

Configuration is read from the environment (and .env when present).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newUserCmd())
	return root
}

// loadRuntime loads configuration and builds the logger the same way the
// server does
func loadRuntime(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newCodec(cfg *config.Config) (*token.Codec, error) {
	codec, err := token.NewCodec(cfg.Auth.JWTSecret, cfg.Auth.CookieTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create codec: %w", err)
	}
	return codec, nil
}
