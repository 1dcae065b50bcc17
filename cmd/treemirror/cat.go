package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"treemirror/internal/config"
	"treemirror/internal/mirror"
)

func newCatCommand(global *globalOptions) *cobra.Command {
	var timeout time.Duration
	var showModTime bool
	cmd := &cobra.Command{
		Use:   "cat <file>",
		Short: "Print a file read consistently against concurrent writes",
		Long: `Read a file, retrying while it changes underneath the read, and print it.
The read gives up when --timeout elapses.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig(cmd, config.Overrides{}, nil)
			if err != nil {
				return err
			}
			node, err := mirror.NewRoot(args[0], mirror.Options{Logger: newLogger(cfg, cmd.ErrOrStderr())})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			content, err := node.ReadContent(ctx)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if showModTime {
				fmt.Fprintln(cmd.ErrOrStderr(), headerStyle.Sprintf("modified %s", content.ModTime.Format(time.RFC3339Nano)))
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), content.Text)
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long (0 waits forever)")
	cmd.Flags().BoolVar(&showModTime, "mtime", false, "print the modification time the content belongs to on stderr")
	return cmd
}
