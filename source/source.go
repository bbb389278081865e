// Package source loads the source-language entries that drive a run.
//
// Source namespaces live in a single directory under the translations
// root (by default "main"). The canonical layout is JSON Lines, one entry
// per line:
//
//	{"k":"greeting","v":"Hello, {{name}}!","ctx":"Title screen"}
//
// A flat i18next JSON object (<namespace>.json) with "key_" context
// siblings is accepted as well. Source files are read-only.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/getlost-engine/transync/i18next"
	"github.com/getlost-engine/transync/store"
)

// DefaultDir is the name of the source directory under the translations root.
const DefaultDir = "main"

// ErrNoSource is returned when no source entries can be found.
var ErrNoSource = errors.New("no source translations found")

// Entry is one source string.
type Entry struct {
	Key     string
	Value   string
	Context *string
}

// Namespace is one source file.
type Namespace struct {
	Name    string
	Entries []Entry
}

// Keys returns the set of entry keys.
func (n Namespace) Keys() map[string]bool {
	keys := make(map[string]bool, len(n.Entries))
	for _, e := range n.Entries {
		keys[e.Key] = true
	}
	return keys
}

// Load reads every namespace in root/dir, sorted by name, with entries
// sorted by key. It fails when the directory is missing, when a namespace
// exists in both layouts, or when there are no entries at all.
func Load(root, dir string) ([]Namespace, error) {
	if dir == "" {
		dir = DefaultDir
	}
	srcDir := filepath.Join(root, dir)
	files, err := os.ReadDir(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoSource, srcDir)
		}
		return nil, fmt.Errorf("reading %s: %w", srcDir, err)
	}

	seen := make(map[string]string)
	var out []Namespace
	total := 0
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		ext := filepath.Ext(name)
		if ext != store.Ext && ext != ".json" {
			continue
		}
		ns := strings.TrimSuffix(name, ext)
		if prev, dup := seen[ns]; dup {
			return nil, fmt.Errorf("namespace %q is defined by both %s and %s", ns, prev, name)
		}
		seen[ns] = name

		path := filepath.Join(srcDir, name)
		var entries []Entry
		if ext == store.Ext {
			entries, err = readJSONL(path)
		} else {
			entries, err = readFlatJSON(path)
		}
		if err != nil {
			return nil, err
		}
		total += len(entries)
		out = append(out, Namespace{Name: ns, Entries: entries})
	}

	if total == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSource, srcDir)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readJSONL(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	byKey := make(map[string]Entry)
	for _, r := range store.DecodeLines(data) {
		byKey[r.Key] = Entry{Key: r.Key, Value: r.Value, Context: r.Context}
	}
	return sortEntries(byKey), nil
}

func readFlatJSON(path string) ([]Entry, error) {
	f, err := i18next.ParseFile(path)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]Entry)
	for _, p := range f.Pairs() {
		byKey[p.Key] = Entry{Key: p.Key, Value: p.Value, Context: p.Context}
	}
	return sortEntries(byKey), nil
}

func sortEntries(byKey map[string]Entry) []Entry {
	out := make([]Entry, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Count returns the total number of entries across namespaces.
func Count(nss []Namespace) int {
	n := 0
	for _, ns := range nss {
		n += len(ns.Entries)
	}
	return n
}

// Sample returns up to n source values from the first non-empty namespace,
// joined by newlines and cut to maxRunes. It is the input for primary
// language detection.
func Sample(nss []Namespace, n, maxRunes int) string {
	for _, ns := range nss {
		if len(ns.Entries) == 0 {
			continue
		}
		var vals []string
		for i, e := range ns.Entries {
			if i >= n {
				break
			}
			vals = append(vals, e.Value)
		}
		s := strings.Join(vals, "\n")
		if r := []rune(s); maxRunes > 0 && len(r) > maxRunes {
			s = string(r[:maxRunes])
		}
		return s
	}
	return ""
}
