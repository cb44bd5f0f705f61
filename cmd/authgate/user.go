package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/authgate/repositories/postgres"
	"github.com/upb/authgate/services"
)

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage principals in the user store",
	}
	userCmd.AddCommand(newUserCreateCmd())
	return userCmd
}

func newUserCreateCmd() *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a user that can log in",
		Example: `  authgate user create --name "Ada Lovelace" --email ada@example.com --password 'correct horse'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}

			factory, err := postgres.NewRepositoryFactory(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = factory.Close() }()

			if err := factory.DB().InitSchema(cmd.Context()); err != nil {
				return err
			}

			repos := factory.NewRepositories()
			service := services.NewAuthService(repos.Users, repos.Transactions, 0, logger)

			user, err := service.Register(cmd.Context(), name, email, password, time.Now())
			if err != nil {
				return fmt.Errorf("could not create user: %w", err)
			}

			logger.Info("user created", zap.String("id", user.PrincipalID()))
			return printJSON(cmd, user)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Login email")
	cmd.Flags().StringVar(&password, "password", "", "Initial password (8 to 72 bytes)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
