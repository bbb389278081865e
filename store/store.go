// Package store persists translation records per (language, namespace).
//
// Each pair lives in its own JSON Lines file:
//
//	<root>/<lang>/<namespace>.jsonl
//
// with one record per line, sorted by key:
//
//	{"k":"greeting","v":"Bonjour, {{name}} !","original":"Hello, {{name}}!","ctx":null,"lock":false}
//
// Files are rewritten in full on every write (temp file + rename), so an
// interrupted write leaves either the previous or the new content on disk.
// Identical content always serializes to identical bytes.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Ext is the file extension of namespace files.
const Ext = ".jsonl"

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Record is the persisted state of one key in one language.
type Record struct {
	Key   string `json:"k"`
	Value string `json:"v"`
	// Original is the source value the current Value was produced from.
	Original *string `json:"original"`
	// Context is the source context the current Value was produced with.
	Context *string `json:"ctx"`
	// Locked records are never rewritten by reconciliation.
	Locked bool `json:"lock"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.Original != nil {
		o := *r.Original
		c.Original = &o
	}
	if r.Context != nil {
		x := *r.Context
		c.Context = &x
	}
	return &c
}

// Table is the in-memory form of one namespace file: key -> record.
type Table struct {
	recs map[string]*Record
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{recs: make(map[string]*Record)}
}

// Get returns the record for key.
func (t *Table) Get(key string) (*Record, bool) {
	r, ok := t.recs[key]
	return r, ok
}

// Put inserts or replaces the record for r.Key.
func (t *Table) Put(r *Record) {
	t.recs[r.Key] = r
}

// Delete removes key from the table.
func (t *Table) Delete(key string) {
	delete(t.recs, key)
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.recs)
}

// Keys returns all keys in lexicographic order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.recs))
	for k := range t.recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prune removes every record whose key is not in keep and returns the
// removed keys in sorted order.
func (t *Table) Prune(keep map[string]bool) []string {
	var removed []string
	for k := range t.recs {
		if !keep[k] {
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	for _, k := range removed {
		delete(t.recs, k)
	}
	return removed
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := NewTable()
	for k, r := range t.recs {
		c.recs[k] = r.Clone()
	}
	return c
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Marshal serializes the table as JSON Lines sorted by key. Non-ASCII text
// and markup are written literally.
func (t *Table) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, k := range t.Keys() {
		if err := enc.Encode(t.recs[k]); err != nil {
			return nil, fmt.Errorf("encoding record %q: %w", k, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeLines parses JSON Lines data into records, in file order.
// Blank lines, lines that are not JSON objects, and objects without a
// "k" field are skipped.
func DecodeLines(data []byte) []*Record {
	var out []*Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw struct {
			Key      *string `json:"k"`
			Value    *string `json:"v"`
			Original *string `json:"original"`
			Context  *string `json:"ctx"`
			Locked   bool    `json:"lock"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		if raw.Key == nil {
			continue
		}
		r := &Record{Key: *raw.Key, Original: raw.Original, Context: raw.Context, Locked: raw.Locked}
		if raw.Value != nil {
			r.Value = *raw.Value
		}
		out = append(out, r)
	}
	return out
}

// Parse builds a table from JSON Lines data. A later line wins over an
// earlier line with the same key.
func Parse(data []byte) *Table {
	t := NewTable()
	for _, r := range DecodeLines(data) {
		t.Put(r)
	}
	return t
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store reads and writes namespace files under a translations root.
type Store struct {
	root string

	mu    sync.Mutex
	files map[string]*sync.Mutex
}

// New returns a store rooted at root.
func New(root string) *Store {
	return &Store{root: root, files: make(map[string]*sync.Mutex)}
}

// Root returns the translations root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the file path for (lang, ns).
func (s *Store) Path(lang, ns string) string {
	return filepath.Join(s.root, lang, ns+Ext)
}

// fileLock serializes writers of one file.
func (s *Store) fileLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.files[path]
	if !ok {
		m = &sync.Mutex{}
		s.files[path] = m
	}
	return m
}

// Load reads the table for (lang, ns). It never fails: a missing or
// unreadable file yields an empty table and malformed lines are skipped.
func (s *Store) Load(lang, ns string) *Table {
	data, err := os.ReadFile(s.Path(lang, ns))
	if err != nil {
		return NewTable()
	}
	return Parse(data)
}

// Write replaces the file for (lang, ns) with the contents of t.
func (s *Store) Write(lang, ns string, t *Table) error {
	data, err := t.Marshal()
	if err != nil {
		return err
	}
	path := s.Path(lang, ns)
	mu := s.fileLock(path)
	mu.Lock()
	defer mu.Unlock()
	return writeAtomic(path, data)
}

// Sync writes t only when its serialization differs from the file on disk.
// It reports whether a write happened.
func (s *Store) Sync(lang, ns string, t *Table) (bool, error) {
	data, err := t.Marshal()
	if err != nil {
		return false, err
	}
	path := s.Path(lang, ns)
	mu := s.fileLock(path)
	mu.Lock()
	defer mu.Unlock()

	if cur, err := os.ReadFile(path); err == nil && bytes.Equal(cur, data) {
		return false, nil
	}
	if err := writeAtomic(path, data); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes the file for (lang, ns). A missing file is not an error.
func (s *Store) Remove(lang, ns string) error {
	path := s.Path(lang, ns)
	mu := s.fileLock(path)
	mu.Lock()
	defer mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// writeAtomic writes data to a temp file next to path and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", tmpPath, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Enumeration
// ---------------------------------------------------------------------------

// Languages returns the sorted names of language directories under root.
func (s *Store) Languages() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.root, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Namespaces returns the sorted namespace names stored for lang.
// A missing language directory yields no namespaces.
func (s *Store) Namespaces(lang string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, lang))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", lang, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, Ext) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, Ext))
	}
	sort.Strings(out)
	return out, nil
}

// ---------------------------------------------------------------------------
// Locking
// ---------------------------------------------------------------------------

// SetLock sets the lock flag on existing records of (lang, ns). Every key
// must already exist; nothing is written otherwise.
func (s *Store) SetLock(lang, ns string, keys []string, locked bool) error {
	t := s.Load(lang, ns)
	var missing []string
	for _, k := range keys {
		r, ok := t.Get(k)
		if !ok {
			missing = append(missing, k)
			continue
		}
		r.Locked = locked
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s/%s: unknown keys: %s", lang, ns, strings.Join(missing, ", "))
	}
	return s.Write(lang, ns, t)
}
