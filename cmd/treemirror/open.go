package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"treemirror/internal/config"
	"treemirror/internal/event"
	"treemirror/internal/filter"
	"treemirror/internal/logging"
	"treemirror/internal/mirror"
)

// filterFlags are the per-invocation filters of the one-shot commands. They
// replace the filters of a matching configured root when any is set.
type filterFlags struct {
	allow  []string
	deny   []string
	ignore []string
}

func (f filterFlags) set() bool {
	return len(f.allow) > 0 || len(f.deny) > 0 || len(f.ignore) > 0
}

// rootConfigFor returns the configured root for path, or a bare one.
func rootConfigFor(cfg config.Config, path string) config.RootConfig {
	for _, root := range cfg.Roots {
		configured, err := filepath.Abs(root.Path)
		if err == nil && configured == path {
			return root
		}
	}
	return config.RootConfig{Path: path}
}

// openRoot mirrors dir with the filters from flags or configuration.
func openRoot(cfg config.Config, dir string, filters filterFlags, logger *logging.Logger, bus *event.Bus[mirror.Change]) (*mirror.Node, error) {
	path, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	rootConfig := rootConfigFor(cfg, path)
	if filters.set() {
		rootConfig.Allow = filters.allow
		rootConfig.Deny = filters.deny
		rootConfig.Ignore = filters.ignore
	}

	return mirror.NewRoot(path, mirror.Options{
		Logger:         logger,
		Bus:            bus,
		RebaseOnRename: cfg.Server.RebaseOnRename,
		Rules:          filter.NewRules(rootConfig.Allow, rootConfig.Deny, rootConfig.IgnorePaths()),
	})
}

func (f *filterFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSliceVar(&f.allow, "allow", nil, "extensions to include, e.g. go,md")
	flags.StringSliceVar(&f.deny, "deny", nil, "extensions to exclude")
	flags.StringSliceVar(&f.ignore, "ignore", nil, "paths to exclude, relative to the root")
}
