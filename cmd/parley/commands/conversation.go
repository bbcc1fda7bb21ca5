package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"parley/internal/domain"
)

// rotate <peer>: replace the conversation key; the next message carries it.
func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <peer>",
		Short: "Start using a fresh conversation key with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := requireAccount()
			if err != nil {
				return err
			}
			peer := domain.Username(args[0])
			if err := appCtx.Messages.RotateConversation(cmd.Context(), passphrase, me, peer); err != nil {
				return err
			}
			fmt.Printf("Conversation key with %s rotated; your next message carries it.\n", peer)
			return nil
		},
	}
}

// forget <peer>: drop the conversation key and history.
func forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <peer>",
		Short: "Delete the conversation key and history for a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := domain.Username(args[0])
			if err := appCtx.Messages.ForgetConversation(peer); err != nil {
				return err
			}
			fmt.Printf("Forgot conversation with %s.\n", peer)
			return nil
		},
	}
}
