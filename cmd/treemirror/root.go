package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"treemirror/internal/config"
	"treemirror/internal/logging"
	"treemirror/internal/version"
)

var (
	dirStyle    = color.New(color.FgCyan, color.Bold)
	headerStyle = color.New(color.Bold)
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	global := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "treemirror",
		Short: "Live in-memory mirror of directory trees",
		Long: `treemirror keeps an in-memory copy of one or more directory trees in sync
with disk and serves it over HTTP, streaming every change over a websocket.

The one-shot commands (tree, cat, snapshot) mirror a directory, act on it and
exit. watch follows a directory and prints changes until interrupted.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&global.configPath, "config", "c", "", "config file (.toml, .yaml or .yml)")
	cmd.PersistentFlags().StringVar(&global.logLevel, "log-level", "", "log level: debug, info, warning or error")
	cmd.PersistentFlags().StringVar(&global.logFormat, "log-format", "", "log format: text or json")

	cmd.AddCommand(newServeCommand(global))
	cmd.AddCommand(newTreeCommand(global))
	cmd.AddCommand(newCatCommand(global))
	cmd.AddCommand(newWatchCommand(global))
	cmd.AddCommand(newSnapshotCommand(global))
	cmd.AddCommand(newRemoteCommand(global))
	cmd.AddCommand(newSchemaCommand())

	return cmd
}

// loadConfig resolves defaults, file, environment and flags, then appends one
// root per positional directory.
func (g *globalOptions) loadConfig(cmd *cobra.Command, overrides config.Overrides, dirs []string) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("log-level") {
		level := g.logLevel
		overrides.LogLevel = &level
	}
	if cmd.Flags().Changed("log-format") {
		format := g.logFormat
		overrides.LogFormat = &format
	}
	cfg.Apply(overrides)
	for _, dir := range dirs {
		path, err := filepath.Abs(dir)
		if err != nil {
			return config.Config{}, fmt.Errorf("resolve %s: %w", dir, err)
		}
		cfg.Roots = append(cfg.Roots, config.RootConfig{Path: path})
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from a validated configuration.
func newLogger(cfg config.Config, output io.Writer) *logging.Logger {
	level, _ := logging.ParseLevel(cfg.Server.LogLevel)
	format, _ := logging.ParseFormat(cfg.Server.LogFormat)
	return logging.New(logging.Options{
		Level:  level,
		Format: format,
		Output: output,
	})
}
