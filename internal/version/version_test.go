package version

import "testing"

func setVersion(t *testing.T, version, commit, built string) {
	t.Helper()
	previousVersion, previousCommit, previousBuilt := Version, GitCommit, Built
	Version, GitCommit, Built = version, commit, built
	t.Cleanup(func() {
		Version, GitCommit, Built = previousVersion, previousCommit, previousBuilt
	})
}

func TestGetReturnsInjectedValues(t *testing.T) {
	setVersion(t, "1.2.3", "abc123", "2026-01-11T12:34:56Z")

	info := Get()
	if info.Version != "1.2.3" {
		t.Fatalf("expected version 1.2.3, got %q", info.Version)
	}
	if info.GitCommit != "abc123" {
		t.Fatalf("expected git commit to be preserved, got %q", info.GitCommit)
	}
	if info.Built != "2026-01-11T12:34:56Z" {
		t.Fatalf("expected built timestamp to be preserved, got %q", info.Built)
	}
}

func TestStringIncludesKnownDetails(t *testing.T) {
	cases := []struct {
		name string
		info Info
		want string
	}{
		{name: "bare", info: Info{Version: "dev"}, want: "dev"},
		{name: "commit", info: Info{Version: "1.0.0", GitCommit: "abc"}, want: "1.0.0 (commit abc)"},
		{name: "full", info: Info{Version: "1.0.0", GitCommit: "abc", Built: "today"}, want: "1.0.0 (commit abc, built today)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.info.String(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
