package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	jwttoken "veriledger/internal/jwt_token"
)

func newTokenCmd() *cobra.Command {
	var (
		signingKey string
		issuer     string
		userID     string
		roles      []string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for the correction and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if signingKey == "" {
				return errors.New("--signing-key or LEDGER_AUTH_JWT_SIGNING_KEY is required")
			}
			if len(roles) == 0 {
				return errors.New("at least one --role is required")
			}
			subject := uuid.New()
			if userID != "" {
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				subject = parsed
			}
			token, err := jwttoken.NewJWTService(signingKey, issuer, "").GenerateAccessToken(subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issuerDefault := os.Getenv("LEDGER_AUTH_JWT_ISSUER")
	if issuerDefault == "" {
		issuerDefault = "veriledger"
	}
	cmd.Flags().StringVar(&signingKey, "signing-key", os.Getenv("LEDGER_AUTH_JWT_SIGNING_KEY"), "HMAC signing key")
	cmd.Flags().StringVar(&issuer, "issuer", issuerDefault, "Token issuer")
	cmd.Flags().StringVar(&userID, "user", "", "Subject user id (random when empty)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to grant: clerk, approver, auditor (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
