package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/memento/auth"
	"github.com/becomeliminal/memento/config"
	"github.com/becomeliminal/memento/core"
)

// newTokenCmd mints login tokens for local development, signed with
// JWT_SECRET exactly as the login service would.
func newTokenCmd() *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <userId>",
		Short: "Mint a login token for development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := config.StringOr("JWT_SECRET", "")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET environment variable is required")
			}
			return runToken(cmd, []byte(secret), core.Identity{ID: args[0], DisplayName: name}, ttl)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func runToken(cmd *cobra.Command, secret []byte, identity core.Identity, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	authn, err := auth.NewJWTAuthenticator(secret)
	if err != nil {
		return err
	}
	defer authn.Close()

	token, err := authn.Issue(identity, ttl)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
