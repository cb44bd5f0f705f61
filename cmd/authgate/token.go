package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/upb/authgate/revocation"
	"github.com/upb/authgate/token"
)

// tokenOutput is the JSON printed by the token subcommands
type tokenOutput struct {
	Token     string    `json:"token,omitempty"`
	ID        string    `json:"jti"`
	Subject   string    `json:"sub"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   *bool     `json:"revoked,omitempty"`
}

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint, verify and revoke credentials",
	}
	tokenCmd.AddCommand(newTokenMintCmd())
	tokenCmd.AddCommand(newTokenVerifyCmd())
	tokenCmd.AddCommand(newTokenRevokeCmd())
	return tokenCmd
}

func newTokenMintCmd() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:     "mint",
		Short:   "Mint a credential for a principal id",
		Example: `  authgate token mint --sub 6f1c2a9e-3b4d-4e7f-9a0b-1c2d3e4f5a6b`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			codec, err := newCodec(cfg)
			if err != nil {
				return err
			}

			minted, err := codec.Mint(subject, time.Now())
			if err != nil {
				return fmt.Errorf("minting failed: %w", err)
			}

			return printJSON(cmd, tokenOutput{
				Token:     minted.Token,
				ID:        minted.ID,
				Subject:   minted.Subject,
				IssuedAt:  minted.IssuedAt,
				ExpiresAt: minted.ExpiresAt,
			})
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "Principal id to embed in the credential")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func newTokenVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a credential and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			codec, err := newCodec(cfg)
			if err != nil {
				return err
			}

			claims, err := codec.Inspect(args[0], time.Now())
			if err != nil {
				return fmt.Errorf("credential rejected (%s): %w", token.KindOf(err), err)
			}

			out := tokenOutput{
				ID:        claims.ID,
				Subject:   claims.PrincipalID(),
				IssuedAt:  claims.IssuedAtTime(),
				ExpiresAt: claims.ExpiresAtTime(),
			}
			if cfg.Redis.Enabled() {
				client, err := revocation.NewRedisClient(cfg.Redis.URL)
				if err != nil {
					return err
				}
				defer func() { _ = client.Close() }()

				revoked, err := revocation.NewRedisStore(client, cfg.Redis.KeyPrefix).IsRevoked(cmd.Context(), claims.ID)
				if err != nil {
					return err
				}
				out.Revoked = &revoked
			}
			return printJSON(cmd, out)
		},
	}
}

func newTokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token>",
		Short: "Denylist a credential until it expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled() {
				return fmt.Errorf("REDIS_URL is not set, revocation is disabled")
			}
			codec, err := newCodec(cfg)
			if err != nil {
				return err
			}

			now := time.Now()
			claims, err := codec.Inspect(args[0], now)
			if err != nil {
				return fmt.Errorf("credential rejected (%s): %w", token.KindOf(err), err)
			}

			client, err := revocation.NewRedisClient(cfg.Redis.URL)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			store := revocation.NewRedisStore(client, cfg.Redis.KeyPrefix)
			if err := store.Revoke(cmd.Context(), claims.ID, claims.ExpiresAtTime(), now); err != nil {
				return err
			}

			revoked := true
			return printJSON(cmd, tokenOutput{
				ID:        claims.ID,
				Subject:   claims.PrincipalID(),
				IssuedAt:  claims.IssuedAtTime(),
				ExpiresAt: claims.ExpiresAtTime(),
				Revoked:   &revoked,
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
