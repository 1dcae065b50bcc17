// Package config loads the project file that lists mirrored roots and server
// settings, layered with environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"treemirror/internal/logging"
)

const (
	DefaultListen       = "127.0.0.1:7420"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultEventHistory = 256
)

// Config is the resolved configuration. Sources records where each server
// setting came from.
type Config struct {
	Server  ServerConfig      `toml:"server" yaml:"server" json:"server"`
	Roots   []RootConfig      `toml:"roots" yaml:"roots" json:"roots"`
	Sources map[string]Source `toml:"-" yaml:"-" json:"-"`
}

type ServerConfig struct {
	Listen    string `toml:"listen" yaml:"listen" json:"listen,omitempty" jsonschema:"description=Address the HTTP API listens on"`
	Token     string `toml:"token" yaml:"token" json:"token,omitempty" jsonschema:"description=Bearer token required by the HTTP API"`
	LogLevel  string `toml:"log_level" yaml:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warning,enum=error"`
	LogFormat string `toml:"log_format" yaml:"log_format" json:"log_format,omitempty" jsonschema:"enum=text,enum=json"`
	// EventHistory is how many recent changes a new stream subscriber can replay.
	EventHistory   int  `toml:"event_history" yaml:"event_history" json:"event_history,omitempty" jsonschema:"minimum=0"`
	RebaseOnRename bool `toml:"rebase_on_rename" yaml:"rebase_on_rename" json:"rebase_on_rename,omitempty" jsonschema:"description=Rewrite descendant paths when a directory is renamed"`
}

// RootConfig describes one mirrored directory.
type RootConfig struct {
	Path string `toml:"path" yaml:"path" json:"path" jsonschema:"required"`
	Name string `toml:"name" yaml:"name" json:"name,omitempty"`
	// Watch defaults to true.
	Watch  *bool             `toml:"watch" yaml:"watch" json:"watch,omitempty"`
	Allow  []string          `toml:"allow" yaml:"allow" json:"allow,omitempty" jsonschema:"description=Extensions to mirror; empty mirrors every extension"`
	Deny   []string          `toml:"deny" yaml:"deny" json:"deny,omitempty"`
	Ignore []string          `toml:"ignore" yaml:"ignore" json:"ignore,omitempty" jsonschema:"description=Paths excluded from the mirror, relative to the root or absolute"`
	Values map[string]string `toml:"values" yaml:"values" json:"values,omitempty" jsonschema:"description=Inherited values set on the root"`
}

// Watching reports whether the root should follow disk changes.
func (r RootConfig) Watching() bool {
	return r.Watch == nil || *r.Watch
}

// IgnorePaths resolves ignore entries against the root path.
func (r RootConfig) IgnorePaths() []string {
	paths := make([]string, 0, len(r.Ignore))
	for _, entry := range r.Ignore {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !filepath.IsAbs(entry) {
			entry = filepath.Join(r.Path, entry)
		}
		paths = append(paths, filepath.Clean(entry))
	}
	return paths
}

type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:       DefaultListen,
			LogLevel:     DefaultLogLevel,
			LogFormat:    DefaultLogFormat,
			EventHistory: DefaultEventHistory,
		},
		Sources: map[string]Source{
			"listen":           SourceDefault,
			"token":            SourceDefault,
			"log_level":        SourceDefault,
			"log_format":       SourceDefault,
			"event_history":    SourceDefault,
			"rebase_on_rename": SourceDefault,
		},
	}
}

// Validate rejects configurations the workspace cannot open.
func (c Config) Validate() error {
	var problems []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		problems = append(problems, errors.New("server.listen cannot be empty"))
	}
	if _, ok := logging.ParseLevel(c.Server.LogLevel); !ok {
		problems = append(problems, fmt.Errorf("server.log_level %q is not a known level", c.Server.LogLevel))
	}
	if _, ok := logging.ParseFormat(c.Server.LogFormat); !ok {
		problems = append(problems, fmt.Errorf("server.log_format %q must be text or json", c.Server.LogFormat))
	}
	if c.Server.EventHistory < 0 {
		problems = append(problems, errors.New("server.event_history cannot be negative"))
	}
	seen := make(map[string]int, len(c.Roots))
	for index, root := range c.Roots {
		path := strings.TrimSpace(root.Path)
		if path == "" {
			problems = append(problems, fmt.Errorf("roots[%d].path cannot be empty", index))
			continue
		}
		cleaned := filepath.Clean(path)
		if previous, ok := seen[cleaned]; ok {
			problems = append(problems, fmt.Errorf("roots[%d].path %q duplicates roots[%d]", index, path, previous))
			continue
		}
		seen[cleaned] = index
	}
	return errors.Join(problems...)
}
