// Package batch drives reconciliation passes over every source namespace
// and every target language of a translations directory.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/getlost-engine/transync/langs"
	"github.com/getlost-engine/transync/reconcile"
	"github.com/getlost-engine/transync/source"
	"github.com/getlost-engine/transync/store"
)

// Detection sample limits.
const (
	sampleEntries = 10
	sampleRunes   = 500
)

// ErrDetection is returned when the primary language cannot be determined.
var ErrDetection = errors.New("failed to detect primary language")

// Detector identifies the language a text is written in.
type Detector interface {
	DetectLanguage(ctx context.Context, text string) (string, error)
}

// DetectionCache remembers detected languages per source sample.
type DetectionCache interface {
	Detection(ctx context.Context, sample string) (string, bool, error)
	RememberDetection(ctx context.Context, sample, lang string) error
}

// Progress is reported after every finished unit.
type Progress struct {
	Done    int
	Total   int
	Elapsed time.Duration
	// ETA is zero until the first unit finishes.
	ETA time.Duration
}

// Options configures a run.
type Options struct {
	// Root is the translations directory.
	Root string
	// SourceDir is the source directory name under Root ("main" when empty).
	SourceDir string
	// Languages limits the targets. Empty means every supported language.
	Languages []string
	// PrimaryLang skips detection when set.
	PrimaryLang string
	Policy      reconcile.Policy
	// Parallel is the number of (namespace, language) pairs processed at
	// once. Values below 2 run sequentially.
	Parallel int
	Verbose  bool

	Translator reconcile.Translator
	Detector   Detector
	// Detections is optional.
	Detections DetectionCache

	OnLog      func(format string, args ...any)
	OnWarn     func(format string, args ...any)
	OnError    func(format string, args ...any)
	OnProgress func(Progress)
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) warn(format string, args ...any) {
	if o.OnWarn != nil {
		o.OnWarn(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	}
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	Primary    string
	Namespaces int
	Languages  int
	Total      int
	Committed  int
	Skipped    int
	Degraded   int
	Pruned     int
	// Dropped counts translation files removed because their source
	// namespace is gone.
	Dropped int
	Elapsed time.Duration
}

// Done is the number of units that reached a terminal state.
func (s Summary) Done() int { return s.Committed + s.Skipped + s.Degraded }

// pair is one unit of scheduling: a namespace in a language.
type pair struct {
	ns      source.Namespace
	lang    langs.Lang
	primary bool
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// Run reconciles every source namespace into every target language.
//
// On cancellation every running pass flushes what it has and Run returns
// context.Canceled together with the summary so far. Under
// reconcile.PolicyStrict the first translation failure stops the run.
func Run(ctx context.Context, opts Options) (Summary, error) {
	start := time.Now()
	var sum Summary

	nss, targets, err := load(opts)
	if err != nil {
		return sum, err
	}
	primary, err := ResolvePrimary(ctx, nss, opts)
	if err != nil {
		return sum, err
	}

	sum.Primary = primary
	sum.Namespaces = len(nss)
	sum.Languages = len(targets)
	sum.Total = source.Count(nss) * len(targets)
	opts.log("Primary language: %s", primary)
	opts.log("%d entries in %d namespaces, %d languages (%d units)",
		source.Count(nss), len(nss), len(targets), sum.Total)

	var mu sync.Mutex
	report := func() {
		if opts.OnProgress == nil {
			return
		}
		p := Progress{Done: sum.Done(), Total: sum.Total, Elapsed: time.Since(start)}
		if p.Done > 0 {
			p.ETA = time.Duration(float64(p.Elapsed) / float64(p.Done) * float64(p.Total-p.Done))
		}
		opts.OnProgress(p)
	}

	eng := &reconcile.Engine{
		Store:      store.New(opts.Root),
		Translator: opts.Translator,
		Policy:     opts.Policy,
		OnEvent: func(ev reconcile.Event) {
			if !ev.State.Terminal() {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch ev.State {
			case reconcile.StateCommitted:
				sum.Committed++
				if opts.Verbose {
					opts.log("    Translated %s/%s `%s`", ev.Lang, ev.Namespace, ev.Key)
				}
			case reconcile.StateSkipped:
				sum.Skipped++
			case reconcile.StateDegraded:
				sum.Degraded++
				opts.logError("Translating `%s` (%s/%s) failed, kept source text: %v", ev.Key, ev.Lang, ev.Namespace, ev.Err)
			}
			report()
		},
	}

	var pairs []pair
	for _, ns := range nss {
		for _, l := range targets {
			pairs = append(pairs, pair{ns: ns, lang: l, primary: l.Code == primary})
		}
	}

	runPair := func(ctx context.Context, p pair) error {
		opts.log("Translating to %s (%s)...", p.lang.Name, p.lang.Code)
		res, err := eng.Reconcile(ctx, p.ns, p.lang.Code, p.primary)
		mu.Lock()
		sum.Pruned += len(res.Pruned)
		mu.Unlock()
		if err == nil && len(res.Pruned) > 0 && opts.Verbose {
			opts.log("    Pruned %d stale keys from %s/%s", len(res.Pruned), p.lang.Code, p.ns.Name)
		}
		return err
	}

	if opts.Parallel > 1 {
		err = runParallel(ctx, pairs, opts.Parallel, runPair)
	} else {
		err = runSequential(ctx, pairs, runPair)
	}

	if err == nil && ctx.Err() == nil {
		sum.Dropped, err = dropOrphans(eng.Store, nss, targets, opts)
	}

	sum.Elapsed = time.Since(start)
	if err != nil && ctx.Err() != nil {
		return sum, ctx.Err()
	}
	return sum, err
}

// dropOrphans removes the target-language files of namespaces that are no
// longer in the source.
func dropOrphans(st *store.Store, nss []source.Namespace, targets []langs.Lang, opts Options) (int, error) {
	orphans, err := orphanNamespaces(st, nss, targets, opts.SourceDir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range targets {
		for _, ns := range orphans[l.Code] {
			if err := st.Remove(l.Code, ns); err != nil {
				return n, err
			}
			n++
			if opts.Verbose {
				opts.log("    Removed %s/%s: namespace left the source", l.Code, ns)
			}
		}
	}
	return n, nil
}

// OrphanNamespaces lists, per target language, the stored namespaces that
// have no source namespace any more. Languages without orphans are absent.
func OrphanNamespaces(opts Options) (map[string][]string, error) {
	nss, targets, err := load(opts)
	if err != nil {
		return nil, err
	}
	return orphanNamespaces(store.New(opts.Root), nss, targets, opts.SourceDir)
}

func orphanNamespaces(st *store.Store, nss []source.Namespace, targets []langs.Lang, sourceDir string) (map[string][]string, error) {
	if sourceDir == "" {
		sourceDir = source.DefaultDir
	}
	known := make(map[string]bool, len(nss))
	for _, ns := range nss {
		known[ns.Name] = true
	}
	out := make(map[string][]string)
	for _, l := range targets {
		if l.Code == sourceDir {
			continue
		}
		stored, err := st.Namespaces(l.Code)
		if err != nil {
			return nil, err
		}
		for _, ns := range stored {
			if !known[ns] {
				out[l.Code] = append(out[l.Code], ns)
			}
		}
	}
	return out, nil
}

func runSequential(ctx context.Context, pairs []pair, fn func(context.Context, pair) error) error {
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// runParallel gives each pair to exactly one goroutine so that writes to a
// file stay serialized.
func runParallel(ctx context.Context, pairs []pair, limit int, fn func(context.Context, pair) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, p := range pairs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, p)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func load(opts Options) ([]source.Namespace, []langs.Lang, error) {
	nss, err := source.Load(opts.Root, opts.SourceDir)
	if err != nil {
		return nil, nil, err
	}
	targets, err := langs.Subset(opts.Languages)
	if err != nil {
		return nil, nil, err
	}
	return nss, targets, nil
}

// ---------------------------------------------------------------------------
// Primary language
// ---------------------------------------------------------------------------

// ResolvePrimary returns the language the source is written in: the
// configured code, else a cached detection for the source sample, else a
// fresh detection that is cached afterwards. A code outside the language
// table is returned as-is with a warning; no target is then primary.
func ResolvePrimary(ctx context.Context, nss []source.Namespace, opts Options) (string, error) {
	if opts.PrimaryLang != "" {
		return normalizePrimary(opts.PrimaryLang, opts), nil
	}

	sample := source.Sample(nss, sampleEntries, sampleRunes)
	if opts.Detections != nil {
		if code, ok, err := opts.Detections.Detection(ctx, sample); err == nil && ok {
			return normalizePrimary(code, opts), nil
		}
	}
	if opts.Detector == nil {
		return "", ErrDetection
	}
	code, err := opts.Detector.DetectLanguage(ctx, sample)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDetection, err)
	}
	if opts.Detections != nil {
		if err := opts.Detections.RememberDetection(ctx, sample, code); err != nil {
			opts.warn("Could not cache detected language: %v", err)
		}
	}
	return normalizePrimary(code, opts), nil
}

func normalizePrimary(code string, opts Options) string {
	n, ok := langs.Normalize(code)
	if !ok {
		opts.warn("Primary language %q is not a supported target; every language will be translated", code)
	}
	return n
}

// ---------------------------------------------------------------------------
// Dry run
// ---------------------------------------------------------------------------

// PairPlan is the dry-run classification of one (namespace, language) pair.
type PairPlan struct {
	Namespace string
	Lang      langs.Lang
	Primary   bool
	reconcile.Plan
}

// PlanAll classifies every pair without translating or writing anything.
// Primary detection uses only the configured code and the detection cache;
// when neither knows it, no language is treated as primary.
func PlanAll(ctx context.Context, opts Options) (string, []PairPlan, error) {
	nss, targets, err := load(opts)
	if err != nil {
		return "", nil, err
	}
	opts.Detector = nil
	primary, err := ResolvePrimary(ctx, nss, opts)
	if err != nil && !errors.Is(err, ErrDetection) {
		return "", nil, err
	}

	st := store.New(opts.Root)
	var out []PairPlan
	for _, ns := range nss {
		for _, l := range targets {
			isPrimary := l.Code == primary
			out = append(out, PairPlan{
				Namespace: ns.Name,
				Lang:      l,
				Primary:   isPrimary,
				Plan:      reconcile.PlanFor(st.Load(l.Code, ns.Name), ns, isPrimary),
			})
		}
	}
	return primary, out, nil
}
