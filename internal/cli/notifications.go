package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"duenotify/internal/app"
	"duenotify/internal/storage"

	"github.com/spf13/cobra"
)

func newNotificationsCmd(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "Read and manage a user's notifications",
	}
	cmd.PersistentFlags().StringVarP(&user, "user", "u", "", "owner user id")
	_ = cmd.MarkPersistentFlagRequired("user")

	var lo storage.ListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				ns, err := a.Store().ListNotifications(ctx, user, lo)
				if err != nil {
					return err
				}
				unread, err := a.Store().CountUnread(ctx, user)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tREAD\tCREATED\tMESSAGE")
				for _, n := range ns {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", n.ID, n.Type, n.Read, n.CreatedAt.Local().Format(time.DateTime), n.Message)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				cmd.Printf("%d shown, %d unread\n", len(ns), unread)
				return nil
			})
		},
	}
	list.Flags().BoolVar(&lo.UnreadOnly, "unread", false, "only unread notifications")
	list.Flags().IntVar(&lo.Limit, "limit", 0, "maximum rows (0 = all)")
	list.Flags().IntVar(&lo.Offset, "offset", 0, "rows to skip (with --limit)")

	read := &cobra.Command{
		Use:   "read [notification-id]",
		Short: "Mark one notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				return a.Store().MarkNotificationRead(ctx, args[0], user)
			})
		},
	}
	readAll := &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				n, err := a.Store().MarkAllNotificationsRead(ctx, user)
				if err != nil {
					return err
				}
				cmd.Printf("marked %d read\n", n)
				return nil
			})
		},
	}
	del := &cobra.Command{
		Use:   "delete [notification-id]",
		Short: "Delete one notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				return a.Store().DeleteNotification(ctx, args[0], user)
			})
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every notification of the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				n, err := a.Store().DeleteAllNotifications(ctx, user)
				if err != nil {
					return err
				}
				cmd.Printf("deleted %d\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(list, read, readAll, del, clearCmd)
	return cmd
}
