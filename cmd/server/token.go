package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/relaychat/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		name string
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed identity token",
		Long: `Issue an identity token signed with the configured JWT secret.

Examples:
  relaychat token --name alice
  relaychat token --name root --role admin --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			issuer, err := auth.NewIssuer(cfg.AuthSettings())
			if err != nil {
				return err
			}
			token, err := issuer.Issue(auth.Identity{Name: name, Role: auth.ParseRole(role)}, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name carried by the token (required)")
	cmd.Flags().StringVarP(&role, "role", "r", string(auth.RoleMember), "Role carried by the token: member or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime; 0 issues a token without expiry")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
