package main

import (
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenCustomer string
	tokenRole     string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token signed with auth.jwt_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		jwtService := newJWTService(cfg.Auth)
		if jwtService == nil {
			return fmt.Errorf("auth.jwt_secret is empty; authentication is disabled")
		}
		token, expiresAt, err := jwtService.GenerateAccessToken(tokenCustomer, tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenCustomer, "customer", "", "customer id carried in the token")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleCustomer, "customer|admin")
	_ = tokenCmd.MarkFlagRequired("customer")
}
