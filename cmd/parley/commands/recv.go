package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"parley/internal/domain"
)

// recv: fetch and decrypt queued messages for --username.
func recvCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := requireAccount()
			if err != nil {
				return err
			}
			res, err := appCtx.Messages.ReceiveMessages(cmd.Context(), passphrase, me, limit)
			printResult(res)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "fetch at most this many envelopes (0 = all)")
	return cmd
}

// listen: stay connected and print messages as they arrive.
func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print incoming messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := requireAccount()
			if err != nil {
				return err
			}
			fmt.Println("listening, press Ctrl-C to stop")
			return appCtx.Messages.Listen(cmd.Context(), passphrase, me, func(res domain.ReceiveResult, err error) {
				printResult(res)
				if err != nil {
					fmt.Println("receive failed:", describe(err))
				}
			})
		},
	}
}

func printResult(res domain.ReceiveResult) {
	for _, m := range res.Messages {
		printMessage(m)
	}
	for _, f := range res.Failures {
		fmt.Printf("[%s] %s\n", f.From, f.Reason)
	}
}

func printMessage(m domain.Message) {
	ts := time.UnixMilli(m.Timestamp).Local().Format(time.DateTime)
	mark := ""
	if m.Outgoing && !m.Delivered {
		mark = " (not delivered)"
	}
	fmt.Printf("%s [%s] %s%s\n", ts, m.From, m.Text, mark)
}
