// Package memo is a sqlite translation memory shared by every project run
// from the same translations directory. It remembers successful
// translations per (language, source text, context, model) and detected
// primary languages per source sample, so repeated runs after a reset or
// across namespaces do not pay for the same request twice.
package memo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/getlost-engine/transync/reconcile"
)

// DefaultPath is the memo location relative to the translations directory.
const DefaultPath = ".transync/memo.db"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Cache is an open translation memory. It is safe for concurrent use.
type Cache struct {
	db *sql.DB
	sq sq.StatementBuilderType

	hits   atomic.Int64
	misses atomic.Int64
}

// Open opens (creating if needed) the database at dbPath and applies
// pending migrations.
func Open(dbPath string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("make memo dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memo: %w", err)
	}
	// One writer at a time; parallel passes queue here instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Cache{db: db, sq: sq.StatementBuilder}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Stats returns the lookup hit and miss counts since Open.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// ---------------------------------------------------------------------------
// Migrations
// ---------------------------------------------------------------------------

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL UNIQUE,
        applied_at TEXT NOT NULL
    )`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		var n int
		err := db.QueryRow(`SELECT 1 FROM schema_migrations WHERE name = ?`, name).Scan(&n)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations(name, applied_at) VALUES (?, ?)`, name, now()); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ---------------------------------------------------------------------------
// Translations
// ---------------------------------------------------------------------------

func contextColumns(textCtx *string) (int, string) {
	if textCtx == nil {
		return 0, ""
	}
	return 1, *textCtx
}

// Lookup returns the remembered translation of text into lang.
func (c *Cache) Lookup(ctx context.Context, lang, text string, textCtx *string, model string) (string, bool, error) {
	has, cval := contextColumns(textCtx)
	q := c.sq.Select("translation").
		From("translations").
		Where(sq.Eq{
			"lang":        lang,
			"source_text": text,
			"has_context": has,
			"context":     cval,
			"model":       model,
		}).
		Limit(1)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", false, err
	}
	var out string
	if err := c.db.QueryRowContext(ctx, sqlStr, args...).Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("memo lookup: %w", err)
	}
	return out, true, nil
}

// Remember stores a successful translation, replacing an older one.
func (c *Cache) Remember(ctx context.Context, lang, text string, textCtx *string, model, translation string) error {
	has, cval := contextColumns(textCtx)
	q := c.sq.Insert("translations").
		Columns("lang", "source_text", "has_context", "context", "model", "translation", "created_at").
		Values(lang, text, has, cval, model, translation, now()).
		Suffix("ON CONFLICT(lang, source_text, has_context, context, model) DO UPDATE SET translation=excluded.translation, created_at=excluded.created_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("memo store: %w", err)
	}
	return nil
}

// Count returns the number of remembered translations, optionally for one language.
func (c *Cache) Count(ctx context.Context, lang string) (int, error) {
	q := c.sq.Select("COUNT(*)").From("translations")
	if lang != "" {
		q = q.Where(sq.Eq{"lang": lang})
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := c.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("memo count: %w", err)
	}
	return n, nil
}

// Translator wraps next so that remembered translations are answered
// locally. Only successful results of next are remembered. A memo read or
// write error never fails the translation.
func (c *Cache) Translator(next reconcile.Translator, model string) reconcile.Translator {
	return &cachedTranslator{cache: c, next: next, model: model}
}

type cachedTranslator struct {
	cache *Cache
	next  reconcile.Translator
	model string
}

func (t *cachedTranslator) Translate(ctx context.Context, lang, text string, textCtx *string) (string, error) {
	if out, ok, err := t.cache.Lookup(ctx, lang, text, textCtx, t.model); err == nil && ok {
		t.cache.hits.Add(1)
		return out, nil
	}
	t.cache.misses.Add(1)

	out, err := t.next.Translate(ctx, lang, text, textCtx)
	if err != nil {
		return "", err
	}
	_ = t.cache.Remember(ctx, lang, text, textCtx, t.model, out)
	return out, nil
}

// ---------------------------------------------------------------------------
// Detections
// ---------------------------------------------------------------------------

// SampleHash is the detection cache key of a source sample.
func SampleHash(sample string) string {
	sum := sha256.Sum256([]byte(sample))
	return hex.EncodeToString(sum[:])
}

// Detection returns the language previously detected for sample.
func (c *Cache) Detection(ctx context.Context, sample string) (string, bool, error) {
	q := c.sq.Select("lang").
		From("detections").
		Where(sq.Eq{"sample_hash": SampleHash(sample)}).
		Limit(1)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", false, err
	}
	var lang string
	if err := c.db.QueryRowContext(ctx, sqlStr, args...).Scan(&lang); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("memo detection: %w", err)
	}
	return lang, true, nil
}

// RememberDetection stores the language detected for sample.
func (c *Cache) RememberDetection(ctx context.Context, sample, lang string) error {
	q := c.sq.Insert("detections").
		Columns("sample_hash", "lang", "created_at").
		Values(SampleHash(sample), lang, now()).
		Suffix("ON CONFLICT(sample_hash) DO UPDATE SET lang=excluded.lang, created_at=excluded.created_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("memo store detection: %w", err)
	}
	return nil
}
