package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"parley/internal/domain"
)

// send <peer> <message>: encrypt and send a message to <peer>.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := requireAccount()
			if err != nil {
				return err
			}
			msg, err := appCtx.Messages.SendMessage(cmd.Context(), passphrase, me, domain.Username(args[0]), args[1])
			if err != nil {
				if msg.ID != "" {
					fmt.Printf("saved %s locally but not delivered\n", msg.ID)
				}
				return err
			}
			fmt.Println("sent", msg.ID)
			return nil
		},
	}
}
