package logging

import "testing"

func FuzzParseOptions(f *testing.F) {
	for _, seed := range []string{"info", "warn", "json", "text", "", "???", "INFO"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		if level, ok := ParseLevel(raw); ok && normalizeLevel(level) != level {
			t.Fatalf("ParseLevel(%q) returned unnormalized level %q", raw, level)
		}
		if format, ok := ParseFormat(raw); ok && format != FormatText && format != FormatJSON {
			t.Fatalf("ParseFormat(%q) returned unknown format %q", raw, format)
		}
	})
}
