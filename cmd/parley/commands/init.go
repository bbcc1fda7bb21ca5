package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"parley/internal/crypto"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them securely",
		Long: "Generate identity keys and store them securely. An existing identity " +
			"is kept unless it has expired, in which case a new one replaces it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			rec, created, err := appCtx.Identity.EnsureIdentity(passphrase)
			if err != nil {
				return err
			}
			fp := crypto.Fingerprint(rec.PublicKey)
			if created {
				fmt.Printf("Identity created.\nFingerprint: %s\n", fp)
				return nil
			}
			fmt.Printf("Identity already exists.\nFingerprint: %s\n", fp)
			return nil
		},
	}
}
