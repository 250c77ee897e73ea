package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newChatsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List and delete chats",
	}

	var agentID int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List the chats of an agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if agentID <= 0 {
				return errors.New("--agent is required")
			}
			chats, err := a.client.ListChats(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tAGENT\tCREATED")
			for _, c := range chats {
				fmt.Fprintf(tw, "%d\t%d\t%s\n", c.ID, c.AgentID, c.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	list.Flags().Int64Var(&agentID, "agent", 0, "Agent id")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete CHAT_ID",
		Short: "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "chat")
			if err != nil {
				return err
			}
			if err := a.client.DeleteChat(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat %d.\n", id)
			return nil
		},
	})

	return cmd
}
