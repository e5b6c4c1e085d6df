// Package cli holds the duenotify cobra commands.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"duenotify/internal/app"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the command tree. Running it without a subcommand serves.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "duenotify",
		Short:         "Task due-date notification engine",
		Long:          `duenotify scans tasks on a schedule and records due-soon and overdue notifications.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to the config file (yaml or json)")

	root.AddCommand(
		newServeCmd(opts),
		newScanCmd(opts),
		newSweepCmd(opts),
		newMigrateCmd(opts),
		newTaskCmd(opts),
		newNotificationsCmd(opts),
	)
	return root
}

// withApp opens the app for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.NewApp(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}

// parseWhen accepts RFC3339, "2006-01-02 15:04", "2006-01-02" or a relative
// offset like "+36h" / "-2h".
func parseWhen(raw string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid offset %q: %w", raw, err)
		}
		return now.Add(d), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use RFC3339, \"2006-01-02 15:04\" or an offset like +2h)", raw)
}
