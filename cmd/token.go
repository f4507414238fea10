package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/peerlink/internal/signaling"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <room>",
	Short: "Print a join token for a room",
	Long: `Sign a join token with the shared secret. The token is valid for one hour.

Examples:
  peerlink token standup --user alice --secret $JWT_SECRET`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(baseOptions())
		if err != nil {
			return err
		}
		if cfg.SharedSecret == "" {
			return errors.New("a shared secret is required (--secret or JWT_SECRET)")
		}

		token, err := signaling.SignToken(cfg.SharedSecret, cfg.UserID, args[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&flagSecret, "secret", "", "Shared secret for signing join tokens")
	tokenCmd.Flags().StringVar(&flagUser, "user", "", "User id the token is issued to")
}
