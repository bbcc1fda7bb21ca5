package commands

import (
	"github.com/spf13/cobra"

	"parley/internal/domain"
)

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <peer>",
		Short: "Show the stored conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := appCtx.Messages.History(domain.Username(args[0]), limit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printMessage(m)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "show the latest N messages (0 = all)")
	return cmd
}
