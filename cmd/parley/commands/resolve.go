package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"parley/internal/domain"
)

// resolve <peer>: fetch and cache the peer's public key so fingerprints can
// be compared out of band before the first message.
func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <peer>",
		Short: "Look up a peer's public key and show its fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := requireAccount()
			if err != nil {
				return err
			}
			c, err := appCtx.Messages.ResolvePeer(cmd.Context(), passphrase, me, domain.Username(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("%s\nFingerprint: %s\n", c.Username, c.Fingerprint)
			return nil
		},
	}
}
