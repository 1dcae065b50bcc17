package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"treemirror/internal/config"
	"treemirror/internal/snapshot"
)

const snapshotExtension = ".jsonl.zst"

func newSnapshotCommand(global *globalOptions) *cobra.Command {
	var filters filterFlags
	var output string
	cmd := &cobra.Command{
		Use:   "snapshot [dir]",
		Short: "Write a compressed listing of a mirrored directory",
		Long: `Mirror a directory once and write every mirrored entry as zstd-compressed
JSON lines. Without --output the file is named after the directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig(cmd, config.Overrides{}, nil)
			if err != nil {
				return err
			}
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			root, err := openRoot(cfg, dir, filters, newLogger(cfg, cmd.ErrOrStderr()), nil)
			if err != nil {
				return err
			}

			target := output
			if target == "" {
				target = filepath.Base(root.Path()) + "-" + time.Now().UTC().Format("20060102T150405") + snapshotExtension
			}
			file, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("create snapshot: %w", err)
			}
			count, err := snapshot.Write(file, root)
			if closeErr := file.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				os.Remove(target)
				return fmt.Errorf("write snapshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", count, target)
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "snapshot file to write")
	return cmd
}
