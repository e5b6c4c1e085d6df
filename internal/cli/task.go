package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"duenotify/internal/app"
	"duenotify/internal/tasks"

	"github.com/spf13/cobra"
)

func newTaskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	var in tasks.NewTask
	var dueRaw string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dueRaw != "" {
				d, err := parseWhen(dueRaw, time.Now())
				if err != nil {
					return err
				}
				in.DueAt = &d
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				t, err := a.Tasks().Create(ctx, in)
				if err != nil {
					return err
				}
				cmd.Println(t.ID)
				return nil
			})
		},
	}
	add.Flags().StringVarP(&in.UserID, "user", "u", "", "owner user id")
	add.Flags().StringVarP(&in.Title, "title", "t", "", "task title")
	add.Flags().StringVarP(&in.Description, "description", "d", "", "task description")
	add.Flags().StringVar(&dueRaw, "due", "", "due date (RFC3339, \"2006-01-02 15:04\" or offset like +24h)")
	_ = add.MarkFlagRequired("user")
	_ = add.MarkFlagRequired("title")

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				ts, err := a.Tasks().List(ctx, listUser)
				if err != nil {
					return err
				}
				if len(ts) == 0 {
					cmd.Printf("No tasks for user: %s\n", listUser)
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTITLE\tDUE\tDONE")
				for _, t := range ts {
					due := "-"
					if t.DueAt != nil {
						due = t.DueAt.Local().Format("2006-01-02 15:04")
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", t.ID, t.Title, due, t.Completed)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVarP(&listUser, "user", "u", "", "owner user id")
	_ = list.MarkFlagRequired("user")

	cmd.AddCommand(add, list,
		taskIDCmd(opts, "complete", "Mark a task completed", func(ctx context.Context, s *tasks.Service, id string) error { return s.Complete(ctx, id) }),
		taskIDCmd(opts, "reopen", "Clear a task's completed flag", func(ctx context.Context, s *tasks.Service, id string) error { return s.Reopen(ctx, id) }),
		taskIDCmd(opts, "delete", "Delete a task and its notifications", func(ctx context.Context, s *tasks.Service, id string) error { return s.Delete(ctx, id) }),
	)
	return cmd
}

func taskIDCmd(opts *rootOptions, use, short string, fn func(ctx context.Context, s *tasks.Service, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [task-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return errors.New("task id required")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := fn(ctx, a.Tasks(), args[0]); err != nil {
					return err
				}
				cmd.Printf("%s: %s\n", use, args[0])
				return nil
			})
		},
	}
}
