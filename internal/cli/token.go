package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsline/failsafe/internal/config"
	"github.com/opsline/failsafe/internal/token"
)

var (
	tokenConfig  string
	tokenIssuer  string
	tokenSubject string
	tokenTTL     time.Duration
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenConfig, "config", "", "Config YAML holding the signing secret")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "", "Issuing subsystem (must be on the server's allowlist)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Acting subsystem id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Validity period (default 2m, max 10m)")
	tokenCmd.MarkFlagRequired("config")
	tokenCmd.MarkFlagRequired("issuer")
	tokenCmd.MarkFlagRequired("subject")
}

// tokenCmd mints drill tokens from the shared secret. Intended for
// game-day exercises of automated escalation paths; tokens are single
// use and expire on their own.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a single-use emergency token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := config.Load(tokenConfig)
		if err != nil {
			return err
		}
		if cfg.Token.Secret == "" {
			return fmt.Errorf("config: token.secret is not set")
		}
		minter, err := token.NewMinter(tokenIssuer, []byte(cfg.Token.Secret), tokenTTL)
		if err != nil {
			return err
		}
		tok, err := minter.Mint(tokenSubject)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}
