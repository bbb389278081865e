// Package reconcile brings one (namespace, language) translation table in
// line with the current source entries, calling the translator only for
// entries that are missing or whose source text or context drifted since
// their last successful translation.
//
// Every changed record is written to the store before the next entry is
// looked at, so an interruption loses at most the entry in flight.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/getlost-engine/transync/source"
	"github.com/getlost-engine/transync/store"
)

// Translator produces a translation of text into lang.
type Translator interface {
	Translate(ctx context.Context, lang, text string, textCtx *string) (string, error)
}

// ---------------------------------------------------------------------------
// Failure policy
// ---------------------------------------------------------------------------

// Policy selects what happens when a translation fails.
type Policy int

const (
	// PolicyFallback stores the source text as a placeholder and keeps
	// going. The record keeps its previous original/ctx, so the entry is
	// retried on the next run.
	PolicyFallback Policy = iota
	// PolicyStrict flushes the table and aborts the run.
	PolicyStrict
)

// ParsePolicy parses "fallback" or "strict". The empty string is fallback.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fallback":
		return PolicyFallback, nil
	case "strict":
		return PolicyStrict, nil
	}
	return PolicyFallback, fmt.Errorf("unknown failure policy %q (want fallback or strict)", s)
}

func (p Policy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "fallback"
}

// ---------------------------------------------------------------------------
// Entry states
// ---------------------------------------------------------------------------

// State is the progress of one (namespace, language, key) unit.
type State int

const (
	StatePending State = iota
	StateInFlight
	StateCommitted
	StateSkipped
	StateDegraded
)

var stateNames = [...]string{"pending", "in-flight", "committed", "skipped", "failed-degraded"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s is a final state for a unit.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateSkipped || s == StateDegraded
}

// Event reports a state change of one unit.
type Event struct {
	Namespace string
	Lang      string
	Key       string
	State     State
	// Err is set for StateDegraded.
	Err error
}

// Result summarizes one pass.
type Result struct {
	Committed int
	Skipped   int
	Degraded  int
	// Pruned lists keys removed because they left the source.
	Pruned []string
	// Wrote is true when the pass changed the file on disk.
	Wrote bool
}

// ---------------------------------------------------------------------------
// Decisions
// ---------------------------------------------------------------------------

// Action is what a pass does with one entry.
type Action int

const (
	// ActionKeep carries the record forward unchanged.
	ActionKeep Action = iota
	// ActionTranslate calls the translator.
	ActionTranslate
	// ActionIdentity copies the source into the record without a call.
	ActionIdentity
)

func (a Action) String() string {
	switch a {
	case ActionTranslate:
		return "translate"
	case ActionIdentity:
		return "identity"
	}
	return "keep"
}

// NeedsTranslation reports whether rec is out of date for e. A record is
// current when both its original and its context equal the entry's (nil
// and "" differ). For the primary language a present value is always
// current; a locked record is never out of date.
func NeedsTranslation(rec *store.Record, e source.Entry, primary bool) bool {
	var needs bool
	switch {
	case rec == nil || (rec.Value == "" && e.Value != ""):
		needs = true
	case primary:
		needs = false
	default:
		needs = !equalPtr(rec.Original, &e.Value) || !equalPtr(rec.Context, e.Context)
	}
	if rec != nil && rec.Locked {
		needs = false
	}
	return needs
}

// Decide picks the action for one entry.
//
// The primary language never calls the translator: its records always
// mirror the source (value and original equal the entry value, ctx equals
// the entry context) unless locked. Entries with blank source text are
// copied as-is.
func Decide(rec *store.Record, e source.Entry, primary bool) Action {
	if rec != nil && rec.Locked {
		return ActionKeep
	}
	if primary {
		if isIdentity(rec, e) {
			return ActionKeep
		}
		return ActionIdentity
	}
	if !NeedsTranslation(rec, e, false) {
		return ActionKeep
	}
	if strings.TrimSpace(e.Value) == "" {
		if isIdentity(rec, e) {
			return ActionKeep
		}
		return ActionIdentity
	}
	return ActionTranslate
}

func isIdentity(rec *store.Record, e source.Entry) bool {
	return rec != nil &&
		rec.Value == e.Value &&
		equalPtr(rec.Original, &e.Value) &&
		equalPtr(rec.Context, e.Context)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine reconciles namespaces against a store. It is safe for concurrent
// use on distinct (namespace, language) pairs.
type Engine struct {
	Store      *store.Store
	Translator Translator
	Policy     Policy
	// OnEvent, when set, receives in-flight and terminal states. It may be
	// called from several goroutines.
	OnEvent func(Event)
}

func (e *Engine) emit(ev Event) {
	if e.OnEvent != nil {
		e.OnEvent(ev)
	}
}

// Reconcile runs one pass for ns in lang. primary marks lang as the
// language the source is written in.
//
// On cancellation the table computed so far is written and ctx.Err() is
// returned. Under PolicyStrict the first translation failure is returned
// after the same flush.
func (e *Engine) Reconcile(ctx context.Context, ns source.Namespace, lang string, primary bool) (Result, error) {
	var res Result
	tbl := e.Store.Load(lang, ns.Name)

	commit := func() error {
		if err := e.Store.Write(lang, ns.Name, tbl); err != nil {
			return fmt.Errorf("saving %s/%s: %w", lang, ns.Name, err)
		}
		res.Wrote = true
		return nil
	}

	for _, ent := range ns.Entries {
		rec, _ := tbl.Get(ent.Key)
		ev := Event{Namespace: ns.Name, Lang: lang, Key: ent.Key}

		switch Decide(rec, ent, primary) {
		case ActionKeep:
			res.Skipped++
			ev.State = StateSkipped
			e.emit(ev)

		case ActionIdentity:
			tbl.Put(identityRecord(rec, ent))
			if err := commit(); err != nil {
				return res, err
			}
			res.Committed++
			ev.State = StateCommitted
			e.emit(ev)

		case ActionTranslate:
			if err := ctx.Err(); err != nil {
				return res, e.flush(ctx, lang, ns.Name, tbl, &res)
			}
			ev.State = StateInFlight
			e.emit(ev)

			out, err := e.Translator.Translate(ctx, lang, ent.Value, ent.Context)
			if err != nil {
				if ctx.Err() != nil {
					return res, e.flush(ctx, lang, ns.Name, tbl, &res)
				}
				if e.Policy == PolicyStrict {
					if werr := commit(); werr != nil {
						return res, errors.Join(err, werr)
					}
					return res, fmt.Errorf("translating %s/%s %q: %w", lang, ns.Name, ent.Key, err)
				}
				tbl.Put(fallbackRecord(rec, ent))
				if err := commit(); err != nil {
					return res, err
				}
				res.Degraded++
				ev.State = StateDegraded
				ev.Err = err
				e.emit(ev)
				continue
			}

			tbl.Put(&store.Record{
				Key:      ent.Key,
				Value:    out,
				Original: clonePtr(&ent.Value),
				Context:  clonePtr(ent.Context),
				Locked:   rec != nil && rec.Locked,
			})
			if err := commit(); err != nil {
				return res, err
			}
			res.Committed++
			ev.State = StateCommitted
			e.emit(ev)
		}
	}

	res.Pruned = tbl.Prune(ns.Keys())
	wrote, err := e.Store.Sync(lang, ns.Name, tbl)
	if err != nil {
		return res, fmt.Errorf("saving %s/%s: %w", lang, ns.Name, err)
	}
	res.Wrote = res.Wrote || wrote
	return res, nil
}

// flush persists tbl without pruning and returns the context error.
func (e *Engine) flush(ctx context.Context, lang, ns string, tbl *store.Table, res *Result) error {
	wrote, err := e.Store.Sync(lang, ns, tbl)
	if err != nil {
		return errors.Join(ctx.Err(), fmt.Errorf("saving %s/%s: %w", lang, ns, err))
	}
	res.Wrote = res.Wrote || wrote
	return ctx.Err()
}

func identityRecord(rec *store.Record, ent source.Entry) *store.Record {
	return &store.Record{
		Key:      ent.Key,
		Value:    ent.Value,
		Original: clonePtr(&ent.Value),
		Context:  clonePtr(ent.Context),
		Locked:   rec != nil && rec.Locked,
	}
}

// fallbackRecord stores the source text as the value. original/ctx keep
// describing the last successful translation; when they already match the
// entry, original is cleared so the entry is still retried next run.
func fallbackRecord(rec *store.Record, ent source.Entry) *store.Record {
	r := &store.Record{Key: ent.Key, Value: ent.Value}
	if rec == nil {
		return r
	}
	r.Original = clonePtr(rec.Original)
	r.Context = clonePtr(rec.Context)
	r.Locked = rec.Locked
	if equalPtr(r.Original, &ent.Value) && equalPtr(r.Context, ent.Context) {
		r.Original = nil
	}
	return r
}

// ---------------------------------------------------------------------------
// Dry-run classification
// ---------------------------------------------------------------------------

// Plan classifies the keys of one (namespace, language) table without
// touching the translator or the store.
type Plan struct {
	// Missing entries have no usable translation yet.
	Missing []string
	// Stale entries drifted since their last translation.
	Stale []string
	// Locked entries are pinned.
	Locked []string
	// Current entries are up to date.
	Current []string
	// Orphans are stored keys no longer in the source.
	Orphans []string
}

// Pending is the number of entries a pass would rewrite.
func (p Plan) Pending() int { return len(p.Missing) + len(p.Stale) }

// PlanFor classifies ns against tbl.
func PlanFor(tbl *store.Table, ns source.Namespace, primary bool) Plan {
	var p Plan
	keys := ns.Keys()
	for _, ent := range ns.Entries {
		rec, _ := tbl.Get(ent.Key)
		switch {
		case rec != nil && rec.Locked:
			p.Locked = append(p.Locked, ent.Key)
		case rec == nil:
			p.Missing = append(p.Missing, ent.Key)
		default:
			switch Decide(rec, ent, primary) {
			case ActionKeep:
				p.Current = append(p.Current, ent.Key)
			default:
				if rec.Value == "" {
					p.Missing = append(p.Missing, ent.Key)
				} else {
					p.Stale = append(p.Stale, ent.Key)
				}
			}
		}
	}
	for _, k := range tbl.Keys() {
		if !keys[k] {
			p.Orphans = append(p.Orphans, k)
		}
	}
	return p
}
