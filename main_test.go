package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/getlost-engine/transync/batch"
	"github.com/getlost-engine/transync/config"
	"github.com/getlost-engine/transync/i18next"
	"github.com/getlost-engine/transync/langs"
	"github.com/getlost-engine/transync/reconcile"
	"github.com/getlost-engine/transync/settings"
	"github.com/getlost-engine/transync/store"
)

func init() {
	color.NoColor = true
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// newTree creates a translations directory with one translated namespace.
func newTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main", "ui.jsonl"),
		`{"k":"greeting","v":"Hello"}`+"\n"+`{"k":"quit","v":"Quit","ctx":"menu"}`+"\n")
	writeFile(t, filepath.Join(root, "fr", "ui.jsonl"),
		`{"k":"greeting","v":"Bonjour","original":"Hello","ctx":null,"lock":false}`+"\n")
	return root
}

func execute(t *testing.T, stdin string, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.Execute()
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		width   int
		want    string
	}{
		{name: "clamps below zero", percent: -10, width: 4, want: "░░░░   0%"},
		{name: "mid range", percent: 50, width: 4, want: "██░░  50%"},
		{name: "clamps above hundred", percent: 120, width: 4, want: "████ 100%"},
	}

	for _, tc := range tests {
		if got := progressBar(tc.percent, tc.width); got != tc.want {
			t.Fatalf("%s: progressBar() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAggregate(t *testing.T) {
	fr, _ := langs.Lookup("fr")
	en, _ := langs.Lookup("en")
	plans := []batch.PairPlan{
		{Namespace: "a", Lang: en, Primary: true, Plan: reconcile.Plan{Current: []string{"x", "y"}}},
		{Namespace: "a", Lang: fr, Plan: reconcile.Plan{Current: []string{"x"}, Missing: []string{"y"}}},
		{Namespace: "b", Lang: fr, Plan: reconcile.Plan{Stale: []string{"z"}, Locked: []string{"w"}, Orphans: []string{"old"}}},
	}

	got := aggregate(plans)
	if len(got) != 2 || got[0].lang.Code != "en" || !got[0].primary {
		t.Fatalf("aggregate = %+v", got)
	}
	s := got[1]
	if s.total != 4 || s.current != 1 || s.missing != 1 || s.stale != 1 || s.locked != 1 || s.orphans != 1 {
		t.Fatalf("fr stats = %+v", s)
	}
	if s.percent() != 50 {
		t.Fatalf("fr percent = %d, want 50", s.percent())
	}
	if (langStats{}).percent() != 100 {
		t.Fatal("empty stats should count as complete")
	}
}

func TestExportTables(t *testing.T) {
	root := newTree(t)
	writeFile(t, filepath.Join(root, ".transync", "notes.jsonl"), "")
	out := t.TempDir()

	n, err := exportTables(store.New(root), "", out, nil)
	if err != nil {
		t.Fatalf("exportTables: %v", err)
	}
	if n != 1 {
		t.Fatalf("exported %d files, want 1", n)
	}
	f, err := i18next.ParseFile(filepath.Join(out, "fr", "ui.json"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if f.Translations["greeting"] != "Bonjour" {
		t.Fatalf("exported = %v", f.Translations)
	}
	if _, err := os.Stat(filepath.Join(out, "main")); !os.IsNotExist(err) {
		t.Fatal("source directory must not be exported")
	}

	if n, err := exportTables(store.New(root), "", t.TempDir(), []string{"de"}); err != nil || n != 0 {
		t.Fatalf("filtered export = %d, %v", n, err)
	}
	if _, err := exportTables(store.New(root), "", t.TempDir(), []string{"xx"}); err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestExportCommand(t *testing.T) {
	root := newTree(t)
	out := filepath.Join(t.TempDir(), "locales")
	if err := execute(t, "", "--trans-dir", root, "export", "--out", out); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "fr", "ui.json")); err != nil {
		t.Fatalf("missing export: %v", err)
	}
	if err := execute(t, "", "--trans-dir", root, "export"); err == nil {
		t.Fatal("export without --out should fail")
	}
}

func TestLockCommands(t *testing.T) {
	root := newTree(t)

	if err := execute(t, "", "--trans-dir", root, "lock", "--lang", "fr", "--ns", "ui", "greeting"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	rec, _ := store.New(root).Load("fr", "ui").Get("greeting")
	if !rec.Locked {
		t.Fatal("greeting should be locked")
	}

	if err := execute(t, "", "--trans-dir", root, "unlock", "--lang", "FR", "--ns", "ui", "--all"); err != nil {
		t.Fatalf("unlock --all: %v", err)
	}
	rec, _ = store.New(root).Load("fr", "ui").Get("greeting")
	if rec.Locked {
		t.Fatal("greeting should be unlocked")
	}

	tests := map[string][]string{
		"unknown key":      {"lock", "--lang", "fr", "--ns", "ui", "missing"},
		"missing lang":     {"lock", "--ns", "ui", "greeting"},
		"unsupported lang": {"lock", "--lang", "xx", "--ns", "ui", "greeting"},
		"no keys":          {"lock", "--lang", "fr", "--ns", "ui"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if err := execute(t, "", append([]string{"--trans-dir", root}, args...)...); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		})
	}
}

func TestTranslateDryRun(t *testing.T) {
	root := newTree(t)
	err := execute(t, "", "--trans-dir", root, "translate", "--dry-run", "--primary-lang", "en", "--lang", "fr,de", "--no-cache")
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	// Nothing is written.
	if _, err := os.Stat(filepath.Join(root, "de")); !os.IsNotExist(err) {
		t.Fatal("dry run created a language directory")
	}
}

func TestTranslateMissingKey(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv(settings.GenericKeyEnv, "")

	root := newTree(t)
	err := execute(t, "", "--trans-dir", root, "translate", "--provider", "groq", "--primary-lang", "en", "--no-cache")
	if !errors.Is(err, config.ErrMissingCredentials) {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
	if !strings.Contains(err.Error(), "GROQ_API_KEY") {
		t.Fatalf("error should name the env var: %v", err)
	}
}

func TestTranslateRejectsBadFlags(t *testing.T) {
	root := newTree(t)
	if err := execute(t, "", "--trans-dir", root, "translate", "--lang", "xx", "--dry-run"); err == nil {
		t.Fatal("expected error for unsupported language")
	}
	if err := execute(t, "", "--trans-dir", root, "translate", "--parallel=-2", "--dry-run"); err == nil {
		t.Fatal("expected error for negative parallel")
	}
}

func TestDotenv(t *testing.T) {
	root := newTree(t)
	if err := execute(t, "", "--trans-dir", root, "--dotenv", filepath.Join(root, "missing.env"), "status"); err == nil {
		t.Fatal("expected error for missing .env file")
	}

	env := filepath.Join(t.TempDir(), ".env")
	writeFile(t, env, "TRANSYNC_PRIMARY_LANG=en\n")
	t.Setenv("TRANSYNC_PRIMARY_LANG", "")
	os.Unsetenv("TRANSYNC_PRIMARY_LANG")
	if err := execute(t, "", "--trans-dir", root, "--dotenv", env, "status", "--lang", "fr"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if os.Getenv("TRANSYNC_PRIMARY_LANG") != "en" {
		t.Fatal("dotenv file was not loaded")
	}
}

func TestAuthLoginLogout(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if err := execute(t, "gsk-1234567890\n", "auth", "login", "--provider", "groq"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := settings.GetAPIKey("groq"); got != "gsk-1234567890" {
		t.Fatalf("stored key = %q", got)
	}

	// Empty input keeps the existing key.
	if err := execute(t, "\n", "auth", "login", "--provider", "groq"); err != nil {
		t.Fatalf("login keep: %v", err)
	}
	if settings.GetAPIKey("groq") == "" {
		t.Fatal("key should be kept")
	}

	// Menu selection: 6 is custom-openai.
	if err := execute(t, "6\nhttp://localhost:8080/v1\n\n", "auth", "login"); err != nil {
		t.Fatalf("login custom-openai: %v", err)
	}
	if got := settings.GetBaseURL("custom-openai"); got != "http://localhost:8080/v1" {
		t.Fatalf("base URL = %q", got)
	}

	if err := execute(t, "", "auth", "logout", "--provider", "groq"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if settings.GetAPIKey("groq") != "" {
		t.Fatal("groq key should be removed")
	}
	if err := execute(t, "", "auth", "logout", "--provider", "copilot"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if err := execute(t, "", "auth", "logout"); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if settings.GetBaseURL("custom-openai") != "" {
		t.Fatal("all credentials should be removed")
	}
}

func TestAuthLoginInvalidChoice(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	if err := execute(t, "42\n", "auth", "login"); err == nil {
		t.Fatal("expected error for invalid menu choice")
	}
}
