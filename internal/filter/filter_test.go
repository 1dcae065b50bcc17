package filter

import (
	"path/filepath"
	"testing"
)

func TestExtension(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple", input: "/src/main.go", want: "go"},
		{name: "first dot wins", input: "/src/archive.tar.gz", want: "tar.gz"},
		{name: "no dot", input: "/src/Makefile", want: "Makefile"},
		{name: "dot only in dir", input: "/src.d/README", want: "README"},
		{name: "leading dot", input: "/src/.env", want: "env"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Extension(tc.input); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestPasses(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "work")
	ignored := filepath.Join(root, "keep.txt")
	rules := NewRules([]string{"txt", ".md"}, []string{"md"}, []string{ignored})

	cases := []struct {
		name  string
		path  string
		isDir bool
		want  bool
	}{
		{name: "allowed", path: filepath.Join(root, "a.txt"), want: true},
		{name: "not allowed", path: filepath.Join(root, "a.log"), want: false},
		{name: "denied wins over allowed", path: filepath.Join(root, "a.md"), want: false},
		{name: "ignore wins over allow", path: ignored, want: false},
		{name: "directory passes", path: filepath.Join(root, "sub.log"), isDir: true, want: true},
		{name: "ignored directory", path: ignored, isDir: true, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Passes(tc.path, tc.isDir, rules); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestZeroRulesAcceptEverything(t *testing.T) {
	var rules Rules
	if !rules.Empty() {
		t.Fatal("expected zero rules to be empty")
	}
	if !Passes("/x/y.bin", false, rules) {
		t.Fatal("expected zero rules to accept a file")
	}
}

func TestDenyOnly(t *testing.T) {
	rules := NewRules(nil, []string{"log"}, nil)
	if Passes("/x/app.log", false, rules) {
		t.Fatal("expected denied extension to be rejected")
	}
	if !Passes("/x/app.txt", false, rules) {
		t.Fatal("expected other extension to pass")
	}
}

func TestRulesNormalizeAndCompare(t *testing.T) {
	a := NewRules([]string{" .go ", "", "txt"}, nil, []string{"/a/../b/"})
	b := NewRules([]string{"txt", "go"}, nil, []string{"/b"})

	if !a.Equal(b) {
		t.Fatalf("expected equal rules, got %v/%v and %v/%v", a.Allow(), a.Ignore(), b.Allow(), b.Ignore())
	}
	if got := a.Allow(); len(got) != 2 || got[0] != "go" || got[1] != "txt" {
		t.Fatalf("expected [go txt], got %v", got)
	}
	if a.Equal(NewRules([]string{"go"}, nil, nil)) {
		t.Fatal("expected different rules to compare unequal")
	}
}
