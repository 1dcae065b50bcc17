// Package version reports build metadata injected with -ldflags.
package version

import "strings"

// Values are set at build time, for example
// -ldflags "-X treemirror/internal/version.Version=1.4.0".
var (
	Version   = "dev"
	GitCommit = ""
	Built     = ""
)

type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	Built     string `json:"built,omitempty"`
}

func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		Built:     Built,
	}
}

// String renders the version with whatever build details are known,
// e.g. "1.4.0 (commit abc123, built 2026-01-11T12:34:56Z)".
func (i Info) String() string {
	var details []string
	if i.GitCommit != "" {
		details = append(details, "commit "+i.GitCommit)
	}
	if i.Built != "" {
		details = append(details, "built "+i.Built)
	}
	if len(details) == 0 {
		return i.Version
	}
	return i.Version + " (" + strings.Join(details, ", ") + ")"
}
