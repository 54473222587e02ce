package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/eventbus/bridge"
)

func newTokenCommand(c *cli) *cobra.Command {
	var (
		subject string
		secret  string
		expiry  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for bridge clients",
		Long: `Mint an HS256 token for a bridge client. The secret comes from --secret
or, failing that, from bridge.auth_secret in the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if secret == "" {
				secret = cfg.Bridge.AuthSecret
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set bridge.auth_secret")
			}
			if expiry <= 0 {
				expiry = cfg.Bridge.TokenExpiry.Duration()
			}

			token, expiresAt, err := bridge.NewAuth(secret, expiry).GenerateToken(subject)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Client identity carried in the token (required)")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (overrides config)")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (defaults to config, 24h)")
	if err := cmd.MarkFlagRequired("subject"); err != nil {
		panic(fmt.Sprintf("mark subject required: %v", err))
	}

	return cmd
}
