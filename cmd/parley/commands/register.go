package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"parley/internal/domain"
)

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Publish your public key to the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			username = args[0]
			fp, err := appCtx.Register(cmd.Context(), passphrase, domain.Username(username))
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s with %s\nFingerprint: %s\n", username, appCtx.Config.Relay.URL, fp)
			return nil
		},
	}
	return cmd
}
