package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"duenotify/internal/app"

	"github.com/spf13/cobra"
)

func newScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				rep, err := a.Due().Scanner().RunCycle(ctx)
				cmd.Printf("fetched=%d due_soon=%d overdue=%d emitted=%d already_existed=%d failed=%d invalid=%d took=%s\n",
					rep.Fetched, rep.DueSoon, rep.Overdue, rep.Emitted, rep.AlreadyExisted, rep.Failed, rep.Invalid,
					rep.Duration.Round(time.Millisecond))
				return err
			})
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var horizon time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete notifications older than the retention horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				sw := a.Due().Sweeper()
				h := horizon
				if h <= 0 {
					h = sw.Horizon()
				}
				n, err := sw.Sweep(ctx, time.Now(), h)
				if err != nil {
					return err
				}
				cmd.Printf("deleted %d notifications older than %s\n", n, h)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&horizon, "horizon", 0, "override the configured retention horizon")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the app already migrates; report the result.
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				n, err := a.Store().Migrate(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("schema up to date (%d applied now)\n", n)
				return nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				states, err := a.Store().MigrationStatus(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tSOURCE\tAPPLIED")
				for _, s := range states {
					applied := "no"
					if s.Applied {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Source, applied)
				}
				return w.Flush()
			})
		},
	})
	return cmd
}
