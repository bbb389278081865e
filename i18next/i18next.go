// Package i18next reads and writes flat i18next JSON namespace files.
//
// The expected file format is a single flat object:
//
//	{
//	    "greeting": "Hello, {{name}}!",
//	    "greeting_": "Shown on the title screen",
//	    "quit": "<1>Quit</1> game"
//	}
//
// A key ending in "_" whose base key is also present carries the context
// of that base key instead of a translatable string. Source namespaces may
// use this layout; exported runtime files never contain context keys.
package i18next

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ContextSuffix marks a context sibling key.
const ContextSuffix = "_"

// Pair is one translatable key with its optional context.
type Pair struct {
	Key     string
	Value   string
	Context *string
}

// File represents a parsed flat namespace file.
type File struct {
	Translations map[string]string
	// keys preserves the original key order from the file.
	keys []string
}

// ParseFile reads and parses a flat i18next JSON file.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse parses flat i18next JSON data.
func Parse(data []byte) (*File, error) {
	om, err := parseOrderedStringMap(data)
	if err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	return &File{Translations: om.values, keys: om.keys}, nil
}

// orderedMap preserves insertion order of a string->string JSON object.
type orderedMap struct {
	keys   []string
	values map[string]string
}

func parseOrderedStringMap(data []byte) (*orderedMap, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))

	t, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := t.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected {, got %v", t)
	}

	om := &orderedMap{values: make(map[string]string)}

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := kt.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %T", kt)
		}

		vt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		value, ok := vt.(string)
		if !ok {
			return nil, fmt.Errorf("expected string value for key %q, got %T", key, vt)
		}

		if _, dup := om.values[key]; !dup {
			om.keys = append(om.keys, key)
		}
		om.values[key] = value
	}

	return om, nil
}

// Keys returns the keys in their original order, or sorted when the file
// was built in memory.
func (f *File) Keys() []string {
	if len(f.keys) == len(f.Translations) && len(f.keys) > 0 {
		return f.keys
	}
	keys := make([]string, 0, len(f.Translations))
	for k := range f.Translations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pairs splits the file into translatable pairs, attaching "key_" siblings
// as contexts. Pairs keep file order.
func (f *File) Pairs() []Pair {
	var out []Pair
	for _, k := range f.Keys() {
		if base, ok := strings.CutSuffix(k, ContextSuffix); ok && base != "" {
			if _, hasBase := f.Translations[base]; hasBase {
				continue
			}
		}
		p := Pair{Key: k, Value: f.Translations[k]}
		if c, ok := f.Translations[k+ContextSuffix]; ok {
			p.Context = &c
		}
		out = append(out, p)
	}
	return out
}

// FromValues builds a file from key -> value; keys are written sorted.
func FromValues(values map[string]string) *File {
	f := &File{Translations: make(map[string]string, len(values))}
	for k, v := range values {
		f.Translations[k] = v
	}
	return f
}

// WriteFile writes the file to disk with sorted keys and 4-space indentation.
func (f *File) WriteFile(path string) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Marshal produces the flat JSON output with sorted keys.
func (f *File) Marshal() ([]byte, error) {
	keys := make([]string, 0, len(f.Translations))
	for k := range f.Translations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{\n")
	for i, k := range keys {
		b.WriteString(fmt.Sprintf("    %s: %s", jsonString(k), jsonString(f.Translations[k])))
		if i < len(keys)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}\n")

	return []byte(b.String()), nil
}

// jsonString returns a JSON string literal without HTML escaping, so
// placeholder markup such as <1> stays readable.
func jsonString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(`\u00`)
				b.WriteString(strconv.FormatInt(int64(r)>>4, 16))
				b.WriteString(strconv.FormatInt(int64(r)&0xF, 16))
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
