package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"threatlens/internal/auth"
)

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage development credentials",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint a bearer token signed with the configured secret",
		RunE:  runTokenIssue,
	}
	issueCmd.Flags().String("id", "", "principal id")
	issueCmd.Flags().String("email", "", "principal email")
	issueCmd.Flags().StringSlice("role", []string{auth.RoleAdmin}, "roles to grant (repeatable)")
	issueCmd.Flags().Duration("ttl", 0, "token lifetime, defaults to security.token_ttl")
	_ = issueCmd.MarkFlagRequired("id")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}

func runTokenIssue(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	id, _ := cmd.Flags().GetString("id")
	email, _ := cmd.Flags().GetString("email")
	roles, _ := cmd.Flags().GetStringSlice("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.Security.TokenTTL
	}

	verifier := auth.NewJWTVerifier(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, ttl)
	token, err := verifier.Issue(auth.NewPrincipal(id, email, roles...))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
