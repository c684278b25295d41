package commands

import (
	"fmt"
	"slices"
	"time"

	"github.com/Tyrowin/cipherchat/internal/chat"
	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [room]",
		Short: "Print recent messages of a room, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := chat.DefaultRoom
			if len(args) == 1 {
				room = args[0]
			}

			backend, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			msgs, err := backend.Recent(cmd.Context(), room, limit)
			if err != nil {
				return err
			}
			slices.Reverse(msgs)
			for _, m := range msgs {
				fmt.Fprintf(cmd.OutOrStdout(), "%d [%s] #%s %s: %s\n",
					m.ID, m.Timestamp.Local().Format(time.DateTime), m.Room, m.Sender, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of messages")
	return cmd
}
