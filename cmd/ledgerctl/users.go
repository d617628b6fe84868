package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phillip/case-funding-ledger/models"
	"github.com/phillip/case-funding-ledger/utils"
)

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage ledger users",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			role, _ := cmd.Flags().GetString("role")
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			if role != models.RoleAdmin && role != models.RoleDonor {
				return fmt.Errorf("--role must be %s or %s", models.RoleAdmin, models.RoleDonor)
			}

			cfg, release, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			u := &models.User{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email), Role: role}
			if err := cfg.Store.CreateUser(cmd.Context(), u); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", u.Role, u.Name, u.ID.Hex())
			return nil
		},
	}
	add.Flags().String("name", "", "display name")
	add.Flags().String("email", "", "email address for notifications")
	add.Flags().String("role", models.RoleDonor, "admin or donor")

	cmd.AddCommand(add)
	return cmd
}

func paymentMethodsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "payment-methods",
		Aliases: []string{"pm"},
		Short:   "Manage payment methods",
	}

	add := &cobra.Command{
		Use:   "add CODE",
		Short: "Register a payment method",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := strings.ToLower(strings.TrimSpace(args[0]))
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = code
			}

			cfg, release, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			pm := &models.PaymentMethod{Code: code, Name: name}
			if err := cfg.Store.CreatePaymentMethod(cmd.Context(), pm); err != nil {
				return fmt.Errorf("failed to create payment method: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created payment method %s (%s)\n", pm.Code, pm.ID.Hex())
			return nil
		},
	}
	add.Flags().String("name", "", "display name")

	cmd.AddCommand(add)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Mint an API token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt.secret")
			if secret == "" {
				return fmt.Errorf("jwt.secret is not configured (LEDGER_JWT_SECRET)")
			}
			id, err := parseObjectID(args[0], "user")
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, release, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			u, err := cfg.Store.GetUser(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to load user: %w", err)
			}
			token, err := utils.GenerateToken(secret, u.ID.Hex(), u.Role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
