package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"treemirror/internal/config"
	"treemirror/internal/mirror"
)

func newTreeCommand(global *globalOptions) *cobra.Command {
	var filters filterFlags
	cmd := &cobra.Command{
		Use:   "tree [dir]",
		Short: "Mirror a directory once and print it",
		Args:  cobra.MaximumNArgs(1),
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
			files, dirs := printTree(cmd.OutOrStdout(), root)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d directories, %d files\n", dirs, files)
			return nil
		},
	}
	filters.register(cmd)
	return cmd
}

// printTree writes root and its mirrored descendants, directories first, and
// returns how many files and directories below root it printed.
func printTree(w io.Writer, root *mirror.Node) (files, dirs int) {
	if root.IsDir() {
		fmt.Fprintln(w, dirStyle.Sprint(root.Path()))
	} else {
		fmt.Fprintln(w, root.Path())
	}
	return printChildren(w, root, "")
}

func printChildren(w io.Writer, node *mirror.Node, prefix string) (files, dirs int) {
	children := node.Children()
	for index, child := range children {
		branch, indent := "├── ", "│   "
		if index == len(children)-1 {
			branch, indent = "└── ", "    "
		}
		if !child.IsDir() {
			fmt.Fprintf(w, "%s%s%s\n", prefix, branch, child.Name())
			files++
			continue
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, branch, dirStyle.Sprint(child.Name()+"/"))
		dirs++
		subFiles, subDirs := printChildren(w, child, prefix+indent)
		files += subFiles
		dirs += subDirs
	}
	return files, dirs
}
