package main

import (
	"fmt"
	"time"

	"github.com/carescore/platform/pkg/gateway/auth"
	"github.com/spf13/cobra"
)

// newTokenCmd mints gateway tokens for local development, signed with the
// gateway's JWT_SECRET.
func newTokenCmd(opts *cliOptions) *cobra.Command {
	var secret, audience, email string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development token for the confirm gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			verifier, err := auth.NewVerifier(secret, audience)
			if err != nil {
				return err
			}
			token, err := verifier.Issue(auth.User{ID: opts.userID, Email: email}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&secret, "secret", "", "gateway JWT secret")
	flags.StringVar(&audience, "audience", "authenticated", "token audience")
	flags.StringVar(&email, "email", "", "email claim")
	flags.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("secret")
	return cmd
}
