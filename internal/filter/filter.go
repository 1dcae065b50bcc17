// Package filter decides whether a filesystem path is mirrored.
//
// A path is rejected when it is in the ignore set. Directories are never
// rejected by extension. Files must carry an allowed extension when the allow
// list is non-empty and must not carry a denied one when the deny list is
// non-empty.
package filter

import (
	"path/filepath"
	"sort"
	"strings"
)

// Rules is an immutable filter configuration. The zero value accepts every path.
type Rules struct {
	allow  map[string]struct{}
	deny   map[string]struct{}
	ignore map[string]struct{}
}

// NewRules builds Rules from raw lists. Extensions may be given with or
// without a leading dot; ignore paths are cleaned.
func NewRules(allow, deny, ignore []string) Rules {
	return Rules{
		allow:  extensionSet(allow),
		deny:   extensionSet(deny),
		ignore: pathSet(ignore),
	}
}

// Passes reports whether path is mirrored under rules.
func Passes(path string, isDir bool, rules Rules) bool {
	if _, ignored := rules.ignore[path]; ignored {
		return false
	}
	if isDir {
		return true
	}
	ext := Extension(path)
	if len(rules.allow) > 0 {
		if _, ok := rules.allow[ext]; !ok {
			return false
		}
	}
	if len(rules.deny) > 0 {
		if _, ok := rules.deny[ext]; ok {
			return false
		}
	}
	return true
}

// Extension returns everything after the first dot of the final path segment.
// A name without a dot is its own extension.
func Extension(path string) string {
	name := filepath.Base(path)
	if index := strings.IndexByte(name, '.'); index >= 0 {
		return name[index+1:]
	}
	return name
}

func (r Rules) Allow() []string  { return sortedKeys(r.allow) }
func (r Rules) Deny() []string   { return sortedKeys(r.deny) }
func (r Rules) Ignore() []string { return sortedKeys(r.ignore) }

// Empty reports whether the rules accept every path.
func (r Rules) Empty() bool {
	return len(r.allow) == 0 && len(r.deny) == 0 && len(r.ignore) == 0
}

// Equal reports whether both rules hold the same lists.
func (r Rules) Equal(other Rules) bool {
	return sameSet(r.allow, other.allow) && sameSet(r.deny, other.deny) && sameSet(r.ignore, other.ignore)
}

func extensionSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimPrefix(strings.TrimSpace(value), ".")
		if value == "" {
			continue
		}
		set[value] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func pathSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		set[filepath.Clean(value)] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for key := range a {
		if _, ok := b[key]; !ok {
			return false
		}
	}
	return true
}
