package main

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/messenger/internal/logging"
	"github.com/Tyrowin/messenger/internal/session"
	"github.com/Tyrowin/messenger/internal/store"
)

const defaultDBPath = "gochat.db"

// openStore opens the database read side for inspection. It fails after a
// short wait while a running server holds the file lock.
func openStore(path string) (*store.Bolt, error) {
	return store.Open(path, store.Options{Logger: logging.Discard(), LockTimeout: 2 * time.Second})
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}

func chatsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List group chats and their members",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			return printChats(cmd.Context(), cmd.OutOrStdout(), st)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", defaultDBPath, "bbolt database path")
	return cmd
}

func printChats(ctx context.Context, w io.Writer, st *store.Bolt) error {
	chats, err := st.ListGroupChats(ctx)
	if err != nil {
		return err
	}

	table := newTable(w, []string{"ID", "Name", "Creator", "Members", "Created"})
	for _, c := range chats {
		members, err := st.Members(ctx, c.ID)
		if err != nil {
			return err
		}
		table.Append([]string{
			strconv.FormatInt(c.ID, 10),
			c.Name,
			c.Creator,
			strings.Join(members, ", "),
			c.CreatedAt.Format(time.DateTime),
		})
	}
	table.Render()
	return nil
}

func historyCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent global chat messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			return printHistory(cmd.Context(), cmd.OutOrStdout(), st, limit)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", defaultDBPath, "bbolt database path")
	cmd.Flags().IntVarP(&limit, "limit", "n", session.DefaultHistoryLimit, "number of messages")
	return cmd
}

func printHistory(ctx context.Context, w io.Writer, st *store.Bolt, limit int) error {
	messages, err := st.RecentMessages(ctx, limit)
	if err != nil {
		return err
	}

	table := newTable(w, []string{"Sent", "Sender", "Content"})
	for _, m := range messages {
		table.Append([]string{m.SentAt.Format(time.DateTime), m.Sender, m.Content})
	}
	table.Render()
	return nil
}
