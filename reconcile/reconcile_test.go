package reconcile

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/getlost-engine/transync/source"
	"github.com/getlost-engine/transync/store"
)

func ptr(s string) *string { return &s }

// fakeTranslator prefixes the text with the language code. It fails for
// texts listed in fail and cancels the run on call number cancelAt.
type fakeTranslator struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]bool
	cancelAt int
	cancel   context.CancelFunc
}

func (f *fakeTranslator) Translate(ctx context.Context, lang, text string, _ *string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.cancelAt > 0 && len(f.calls) == f.cancelAt {
		f.cancel()
		return "", ctx.Err()
	}
	if f.fail[text] {
		return "", errors.New("model unavailable")
	}
	return lang + ":" + text, nil
}

func (f *fakeTranslator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newEngine(t *testing.T, tr Translator) *Engine {
	t.Helper()
	return &Engine{Store: store.New(t.TempDir()), Translator: tr}
}

func mustGet(t *testing.T, s *store.Store, lang, ns, key string) *store.Record {
	t.Helper()
	r, ok := s.Load(lang, ns).Get(key)
	if !ok {
		t.Fatalf("%s/%s: missing key %q", lang, ns, key)
	}
	return r
}

// ---------------------------------------------------------------------------
// Decisions
// ---------------------------------------------------------------------------

func TestNeedsTranslation(t *testing.T) {
	e := source.Entry{Key: "k", Value: "Hello", Context: ptr("menu")}
	tests := []struct {
		name    string
		rec     *store.Record
		primary bool
		want    bool
	}{
		{"missing", nil, false, true},
		{"missing primary", nil, true, true},
		{"empty value", &store.Record{Key: "k", Original: ptr("Hello"), Context: ptr("menu")}, false, true},
		{"current", &store.Record{Key: "k", Value: "Salut", Original: ptr("Hello"), Context: ptr("menu")}, false, false},
		{"value drift", &store.Record{Key: "k", Value: "Salut", Original: ptr("Hi"), Context: ptr("menu")}, false, true},
		{"context drift", &store.Record{Key: "k", Value: "Salut", Original: ptr("Hello"), Context: ptr("title")}, false, true},
		{"nil vs empty context", &store.Record{Key: "k", Value: "Salut", Original: ptr("Hello"), Context: nil}, false, true},
		{"primary present", &store.Record{Key: "k", Value: "Hi", Original: ptr("Hi")}, true, false},
		{"locked drift", &store.Record{Key: "k", Value: "Salut", Original: ptr("Hi"), Locked: true}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsTranslation(tt.rec, e, tt.primary); got != tt.want {
				t.Fatalf("NeedsTranslation = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	e := source.Entry{Key: "k", Value: "Hello"}
	tests := []struct {
		name    string
		rec     *store.Record
		entry   source.Entry
		primary bool
		want    Action
	}{
		{"new entry", nil, e, false, ActionTranslate},
		{"current", &store.Record{Key: "k", Value: "Salut", Original: ptr("Hello")}, e, false, ActionKeep},
		{"primary new", nil, e, true, ActionIdentity},
		{"primary drift", &store.Record{Key: "k", Value: "Hi", Original: ptr("Hi")}, e, true, ActionIdentity},
		{"primary current", &store.Record{Key: "k", Value: "Hello", Original: ptr("Hello")}, e, true, ActionKeep},
		{"primary locked", &store.Record{Key: "k", Value: "Hi", Original: ptr("Hi"), Locked: true}, e, true, ActionKeep},
		{"blank source", nil, source.Entry{Key: "k", Value: "  "}, false, ActionIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.rec, tt.entry, tt.primary); got != tt.want {
				t.Fatalf("Decide = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyFallback, "fallback": PolicyFallback, "STRICT": PolicyStrict} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("skip"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

func TestReconcile_GreetingScenario(t *testing.T) {
	tr := &fakeTranslator{}
	eng := newEngine(t, tr)
	ctx := context.Background()
	ns := source.Namespace{Name: "ui", Entries: []source.Entry{{Key: "greeting", Value: "Hello, {{name}}!"}}}

	if _, err := eng.Reconcile(ctx, ns, "en", true); err != nil {
		t.Fatalf("en: %v", err)
	}
	if _, err := eng.Reconcile(ctx, ns, "fr", false); err != nil {
		t.Fatalf("fr: %v", err)
	}

	en, _ := os.ReadFile(eng.Store.Path("en", "ui"))
	if want := `{"k":"greeting","v":"Hello, {{name}}!","original":"Hello, {{name}}!","ctx":null,"lock":false}` + "\n"; string(en) != want {
		t.Fatalf("en/ui:\n%s\nwant:\n%s", en, want)
	}
	fr := mustGet(t, eng.Store, "fr", "ui", "greeting")
	if fr.Value != "fr:Hello, {{name}}!" || *fr.Original != "Hello, {{name}}!" || fr.Context != nil {
		t.Fatalf("fr record = %#v", fr)
	}
	if tr.count() != 1 {
		t.Fatalf("calls = %d, want 1 (primary must not call the translator)", tr.count())
	}

	// Unchanged run: identical bytes, no calls.
	frBefore, _ := os.ReadFile(eng.Store.Path("fr", "ui"))
	for _, lang := range []string{"en", "fr"} {
		res, err := eng.Reconcile(ctx, ns, lang, lang == "en")
		if err != nil {
			t.Fatal(err)
		}
		if res.Wrote || res.Skipped != 1 {
			t.Fatalf("%s rerun = %+v, want one skip and no write", lang, res)
		}
	}
	frAfter, _ := os.ReadFile(eng.Store.Path("fr", "ui"))
	if string(frBefore) != string(frAfter) || tr.count() != 1 {
		t.Fatal("unchanged rerun must not change files or call the translator")
	}

	// Source edit: only fr re-translates, en mirrors the new text.
	ns.Entries[0].Value = "Hi, {{name}}!"
	eng.Reconcile(ctx, ns, "en", true)
	eng.Reconcile(ctx, ns, "fr", false)
	if tr.count() != 2 {
		t.Fatalf("calls = %d, want 2", tr.count())
	}
	if r := mustGet(t, eng.Store, "en", "ui", "greeting"); r.Value != "Hi, {{name}}!" || *r.Original != "Hi, {{name}}!" {
		t.Fatalf("en record = %#v", r)
	}
	if r := mustGet(t, eng.Store, "fr", "ui", "greeting"); r.Value != "fr:Hi, {{name}}!" {
		t.Fatalf("fr record = %#v", r)
	}
}

func TestReconcile_FallbackPolicy(t *testing.T) {
	tr := &fakeTranslator{fail: map[string]bool{"Boom": true}}
	eng := newEngine(t, tr)
	var events []Event
	eng.OnEvent = func(ev Event) { events = append(events, ev) }

	ns := source.Namespace{Name: "ui", Entries: []source.Entry{
		{Key: "a", Value: "Boom"},
		{Key: "b", Value: "Fine"},
	}}
	res, err := eng.Reconcile(context.Background(), ns, "de", false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Degraded != 1 || res.Committed != 1 {
		t.Fatalf("result = %+v", res)
	}

	a := mustGet(t, eng.Store, "de", "ui", "a")
	if a.Value != "Boom" || a.Original != nil {
		t.Fatalf("degraded record = %#v, want source text without original", a)
	}

	var degraded int
	for _, ev := range events {
		if ev.State == StateDegraded {
			degraded++
			if ev.Key != "a" || ev.Err == nil {
				t.Fatalf("degraded event = %+v", ev)
			}
		}
	}
	if degraded != 1 {
		t.Fatalf("degraded events = %d, want 1", degraded)
	}

	// The failed entry is retried on the next run.
	tr.fail = nil
	res, err = eng.Reconcile(context.Background(), ns, "de", false)
	if err != nil || res.Committed != 1 || res.Skipped != 1 {
		t.Fatalf("retry = %+v, %v", res, err)
	}
	if a := mustGet(t, eng.Store, "de", "ui", "a"); a.Value != "de:Boom" {
		t.Fatalf("retried record = %#v", a)
	}
}

func TestReconcile_FallbackKeepsLastGoodSource(t *testing.T) {
	tr := &fakeTranslator{}
	eng := newEngine(t, tr)
	ctx := context.Background()
	ns := source.Namespace{Name: "ui", Entries: []source.Entry{{Key: "a", Value: "Old"}}}
	eng.Reconcile(ctx, ns, "de", false)

	ns.Entries[0].Value = "New"
	tr.fail = map[string]bool{"New": true}
	eng.Reconcile(ctx, ns, "de", false)

	a := mustGet(t, eng.Store, "de", "ui", "a")
	if a.Value != "New" || a.Original == nil || *a.Original != "Old" {
		t.Fatalf("record = %#v, want value=New original=Old", a)
	}
}

func TestReconcile_StrictPolicy(t *testing.T) {
	tr := &fakeTranslator{fail: map[string]bool{"Two": true}}
	eng := newEngine(t, tr)
	eng.Policy = PolicyStrict

	ns := source.Namespace{Name: "ui", Entries: []source.Entry{
		{Key: "a", Value: "One"},
		{Key: "b", Value: "Two"},
		{Key: "c", Value: "Three"},
	}}
	_, err := eng.Reconcile(context.Background(), ns, "it", false)
	if err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("err = %v, want translation failure", err)
	}
	tbl := eng.Store.Load("it", "ui")
	if tbl.Len() != 1 {
		t.Fatalf("stored %v, want only the entry committed before the failure", tbl.Keys())
	}
	if tr.count() != 2 {
		t.Fatalf("calls = %d, want 2", tr.count())
	}
}

func TestReconcile_LockedRecordsPinned(t *testing.T) {
	tr := &fakeTranslator{}
	eng := newEngine(t, tr)
	ctx := context.Background()
	ns := source.Namespace{Name: "ui", Entries: []source.Entry{{Key: "a", Value: "Play"}}}
	eng.Reconcile(ctx, ns, "fr", false)

	if err := eng.Store.SetLock("fr", "ui", []string{"a"}, true); err != nil {
		t.Fatal(err)
	}
	ns.Entries[0].Value = "Play now"
	ns.Entries[0].Context = ptr("button")
	res, err := eng.Reconcile(ctx, ns, "fr", false)
	if err != nil || res.Skipped != 1 {
		t.Fatalf("result = %+v, %v", res, err)
	}
	a := mustGet(t, eng.Store, "fr", "ui", "a")
	if a.Value != "fr:Play" || !a.Locked {
		t.Fatalf("locked record changed: %#v", a)
	}
}

func TestReconcile_PrunesRemovedKeys(t *testing.T) {
	eng := newEngine(t, &fakeTranslator{})
	ctx := context.Background()
	ns := source.Namespace{Name: "ui", Entries: []source.Entry{{Key: "a", Value: "A"}, {Key: "b", Value: "B"}}}
	eng.Reconcile(ctx, ns, "ja", false)

	ns.Entries = ns.Entries[:1]
	res, err := eng.Reconcile(ctx, ns, "ja", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Pruned) != 1 || res.Pruned[0] != "b" || !res.Wrote {
		t.Fatalf("result = %+v", res)
	}
	if keys := eng.Store.Load("ja", "ui").Keys(); len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestReconcile_CancelFlushesCommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &fakeTranslator{cancelAt: 3, cancel: cancel}
	eng := newEngine(t, tr)

	ns := source.Namespace{Name: "ui", Entries: []source.Entry{
		{Key: "a", Value: "A"}, {Key: "b", Value: "B"}, {Key: "c", Value: "C"}, {Key: "d", Value: "D"},
	}}
	// A stale key that would be pruned by a full pass.
	stale := store.NewTable()
	stale.Put(&store.Record{Key: "zz", Value: "old"})
	if err := eng.Store.Write("ko", "ui", stale); err != nil {
		t.Fatal(err)
	}

	res, err := eng.Reconcile(ctx, ns, "ko", false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Committed != 2 {
		t.Fatalf("committed = %d, want 2", res.Committed)
	}
	keys := eng.Store.Load("ko", "ui").Keys()
	if strings.Join(keys, ",") != "a,b,zz" {
		t.Fatalf("keys after cancel = %v, want committed keys and no pruning", keys)
	}

	// Resume: only c and d are translated.
	tr2 := &fakeTranslator{}
	eng.Translator = tr2
	if _, err := eng.Reconcile(context.Background(), ns, "ko", false); err != nil {
		t.Fatal(err)
	}
	if strings.Join(tr2.calls, ",") != "C,D" {
		t.Fatalf("resumed calls = %v, want [C D]", tr2.calls)
	}
}

func TestPlanFor(t *testing.T) {
	tbl := store.NewTable()
	tbl.Put(&store.Record{Key: "current", Value: "x", Original: ptr("Current")})
	tbl.Put(&store.Record{Key: "stale", Value: "x", Original: ptr("Old")})
	tbl.Put(&store.Record{Key: "empty", Value: "", Original: ptr("Empty")})
	tbl.Put(&store.Record{Key: "pinned", Value: "x", Original: ptr("Old"), Locked: true})
	tbl.Put(&store.Record{Key: "gone", Value: "x"})

	ns := source.Namespace{Name: "ui", Entries: []source.Entry{
		{Key: "current", Value: "Current"},
		{Key: "empty", Value: "Empty"},
		{Key: "new", Value: "New"},
		{Key: "pinned", Value: "Pinned"},
		{Key: "stale", Value: "Stale"},
	}}
	p := PlanFor(tbl, ns, false)

	check := func(name string, got []string, want string) {
		t.Helper()
		if strings.Join(got, ",") != want {
			t.Errorf("%s = %v, want %s", name, got, want)
		}
	}
	check("Missing", p.Missing, "empty,new")
	check("Stale", p.Stale, "stale")
	check("Locked", p.Locked, "pinned")
	check("Current", p.Current, "current")
	check("Orphans", p.Orphans, "gone")
	if p.Pending() != 3 {
		t.Errorf("Pending = %d, want 3", p.Pending())
	}
}

func TestStateStrings(t *testing.T) {
	if StateDegraded.String() != "failed-degraded" || !StateDegraded.Terminal() {
		t.Fatal("StateDegraded")
	}
	if StateInFlight.Terminal() || StatePending.Terminal() {
		t.Fatal("pending and in-flight are not terminal")
	}
}
