package ruleset

import (
	"strings"

	"github.com/cory-johannsen/htn/internal/term"
	"github.com/cory-johannsen/htn/internal/unify"
)

type factDiff struct {
	isAdd     bool
	diffOrder int
	rule      *Rule
}

type predicateKey struct {
	name  string
	arity int
}

// sharedRules is the immutable base of a RuleSet family: all rules added
// before the first copy, in document order. Once a copy exists the base is
// locked and further changes go into per-copy diffs.
type sharedRules struct {
	rules       []*Rule
	byPredicate map[predicateKey][]*Rule
	factIndex   map[uint64]struct{}
	locked      bool
	dynamicSize int64
}

func newSharedRules() *sharedRules {
	return &sharedRules{
		byPredicate: make(map[predicateKey][]*Rule),
		factIndex:   make(map[uint64]struct{}),
		dynamicSize: 64,
	}
}

func (s *sharedRules) addRule(rule *Rule) {
	if s.locked {
		panic("ruleset: AddRule on a locked base")
	}
	if rule.head.Name() == "" {
		panic("ruleset: rule head must have a name")
	}
	if rule.IsFact() && rule.head.IsGround() {
		if _, dup := s.factIndex[rule.head.ID()]; dup {
			panic("ruleset: duplicate rule added: " + rule.head.String())
		}
		s.factIndex[rule.head.ID()] = struct{}{}
	}
	key := predicateKey{rule.head.Name(), rule.head.Arity()}
	s.rules = append(s.rules, rule)
	s.byPredicate[key] = append(s.byPredicate[key], rule)
	s.dynamicSize += rule.DynamicSize() + 24
}

func (s *sharedRules) hasFact(t *term.Term) bool {
	_, ok := s.factIndex[t.ID()]
	return ok
}

// RuleSet is a mutable database of facts and rules keyed by head predicate.
//
// Invariant: after CreateCopy either RuleSet may mutate without affecting the
// other; they share the locked base and diverge through their fact diffs.
type RuleSet struct {
	shared      *sharedRules
	factsDiff   map[uint64]factDiff
	additions   []*Rule // current added facts, in addition order
	factsOrder  int
	dynamicSize int64
}

// New creates an empty RuleSet.
func New() *RuleSet {
	return &RuleSet{
		shared:      newSharedRules(),
		factsDiff:   make(map[uint64]factDiff),
		dynamicSize: 96,
	}
}

// AddRule appends a rule to the shared base, preserving document order.
//
// Precondition: no copy of this RuleSet exists yet and no facts have been
// updated; violations are internal errors and panic.
func (rs *RuleSet) AddRule(head *term.Term, tail []*term.Term) {
	if len(rs.factsDiff) > 0 {
		panic("ruleset: AddRule after facts were updated")
	}
	rs.shared.addRule(NewRule(head, tail))
}

// CreateCopy returns an independent mutable snapshot. The shared base is
// locked; the diff is copied so both sides can mutate freely.
func (rs *RuleSet) CreateCopy() *RuleSet {
	rs.shared.locked = true
	diff := make(map[uint64]factDiff, len(rs.factsDiff))
	for k, v := range rs.factsDiff {
		diff[k] = v
	}
	additions := make([]*Rule, len(rs.additions))
	copy(additions, rs.additions)
	return &RuleSet{
		shared:      rs.shared,
		factsDiff:   diff,
		additions:   additions,
		factsOrder:  rs.factsOrder,
		dynamicSize: rs.dynamicSize,
	}
}

// HasFact reports whether the ground fact t currently holds.
func (rs *RuleSet) HasFact(t *term.Term) bool {
	if diff, ok := rs.factsDiff[t.ID()]; ok {
		return diff.isAdd
	}
	return rs.shared.hasFact(t)
}

// Update applies an operator's effect: dels are removed, adds are appended.
// Mutations are total: removing a missing fact and adding an existing fact
// are no-ops.
//
// Precondition: every term in dels and adds must be ground.
func (rs *RuleSet) Update(dels, adds []*term.Term) {
	for _, del := range dels {
		if !del.IsGround() {
			panic("ruleset: items to be removed must be ground: " + del.String())
		}
		rs.removeFact(del)
	}
	for _, add := range adds {
		if !add.IsGround() {
			panic("ruleset: items to be added must be ground: " + add.String())
		}
		rs.addFact(add)
	}
}

func (rs *RuleSet) removeFact(t *term.Term) {
	if !rs.HasFact(t) {
		return
	}
	if prev, ok := rs.factsDiff[t.ID()]; ok && prev.isAdd {
		rs.dropAddition(prev.rule)
	}
	rs.factsOrder++
	rs.factsDiff[t.ID()] = factDiff{isAdd: false, diffOrder: rs.factsOrder, rule: NewRule(t, nil)}
	rs.dynamicSize += 48
}

func (rs *RuleSet) addFact(t *term.Term) {
	if rs.HasFact(t) {
		return
	}
	rule := NewRule(t, nil)
	rs.factsOrder++
	rs.factsDiff[t.ID()] = factDiff{isAdd: true, diffOrder: rs.factsOrder, rule: rule}
	rs.additions = append(rs.additions, rule)
	rs.dynamicSize += 48 + rule.DynamicSize()
}

func (rs *RuleSet) dropAddition(rule *Rule) {
	for i, r := range rs.additions {
		if r == rule {
			rs.additions = append(rs.additions[:i], rs.additions[i+1:]...)
			return
		}
	}
}

// Assert adds a single ground fact, used by the assert built-ins. The
// mutation persists across backtracking within this RuleSet.
func (rs *RuleSet) Assert(t *term.Term) {
	rs.addFact(t)
}

// Retract removes the first fact that unifies with pattern and returns the
// unifier, or nil when nothing matches.
func (rs *RuleSet) Retract(f *term.Factory, pattern *term.Term) unify.Bindings {
	var found *term.Term
	var mgu unify.Bindings
	rs.AllRules(func(r *Rule) bool {
		if !r.IsFact() {
			return true
		}
		if m := unify.Unify(f, pattern, r.Head()); m != nil {
			found = r.Head()
			mgu = m
			return false
		}
		return true
	})
	if found == nil {
		return nil
	}
	rs.removeFact(found)
	return mgu
}

// RetractAll removes every fact that unifies with pattern. Always succeeds;
// returns the number removed.
func (rs *RuleSet) RetractAll(f *term.Factory, pattern *term.Term) int {
	var matches []*term.Term
	rs.AllRules(func(r *Rule) bool {
		if r.IsFact() && unify.Unify(f, pattern, r.Head()) != nil {
			matches = append(matches, r.Head())
		}
		return true
	})
	for _, m := range matches {
		rs.removeFact(m)
	}
	return len(matches)
}

// AllRules iterates every rule in document order, additions last, until the
// handler returns false.
func (rs *RuleSet) AllRules(handler func(*Rule) bool) {
	for _, rule := range rs.shared.rules {
		if rule.IsFact() && rule.Head().IsGround() {
			if _, diffed := rs.factsDiff[rule.Head().ID()]; diffed {
				// Deleted, or re-added and owned by the additions list.
				continue
			}
		}
		if !handler(rule) {
			return
		}
	}
	for _, rule := range rs.additions {
		if !handler(rule) {
			return
		}
	}
}

// RulesForGoal iterates, in document order, the rules whose head could
// potentially unify with goal (same name and arity, compatible constant
// arguments).
func (rs *RuleSet) RulesForGoal(goal *term.Term, handler func(*Rule) bool) {
	key := predicateKey{goal.Name(), goal.Arity()}
	for _, rule := range rs.shared.byPredicate[key] {
		if rule.IsFact() && rule.Head().IsGround() {
			if _, diffed := rs.factsDiff[rule.Head().ID()]; diffed {
				continue
			}
		}
		if !canPotentiallyUnify(goal, rule.Head()) {
			continue
		}
		if !handler(rule) {
			return
		}
	}
	for _, rule := range rs.additions {
		if rule.Head().Name() != key.name || rule.Head().Arity() != key.arity {
			continue
		}
		if !canPotentiallyUnify(goal, rule.Head()) {
			continue
		}
		if !handler(rule) {
			return
		}
	}
}

// canPotentiallyUnify is a cheap pre-filter that rejects obvious mismatches
// before the full unifier runs.
func canPotentiallyUnify(goal, head *term.Term) bool {
	if !goal.IsEquivalentCompound(head) {
		return false
	}
	goalArgs, headArgs := goal.Args(), head.Args()
	for i := range goalArgs {
		g, h := goalArgs[i], headArgs[i]
		switch {
		case g.IsVariable() || h.IsVariable():
		case g.IsConstant() && h.IsConstant():
			if !g.NameEqual(h) {
				return false
			}
		case g.IsConstant() != h.IsConstant():
			return false
		case !g.IsEquivalentCompound(h):
			return false
		}
	}
	return true
}

// DynamicSize returns the bytes exclusive to this copy (the fact diff and
// bookkeeping), not the shared base.
func (rs *RuleSet) DynamicSize() int64 { return rs.dynamicSize }

// DynamicSharedSize returns the bytes of the shared base rules.
func (rs *RuleSet) DynamicSharedSize() int64 { return rs.shared.dynamicSize }

// ClearAll drops everything, including the shared base.
//
// Precondition: the base must not be locked by an existing copy.
func (rs *RuleSet) ClearAll() {
	rs.shared = newSharedRules()
	rs.factsDiff = make(map[uint64]factDiff)
	rs.additions = nil
	rs.factsOrder = 0
	rs.dynamicSize = 96
}

// ToStringFacts renders all current facts as "fact => ,fact => ".
func (rs *RuleSet) ToStringFacts() string {
	var b strings.Builder
	has := false
	rs.AllRules(func(r *Rule) bool {
		if r.IsFact() {
			if has {
				b.WriteString(",")
			}
			b.WriteString(r.String())
			has = true
		}
		return true
	})
	return b.String()
}

// HasRule reports whether a rule with the exact Prolog rendering
// "head :- tail." exists. Inefficient, intended for tests.
func (rs *RuleSet) HasRule(head, tail string) bool {
	composed := head + " :- " + tail + "."
	found := false
	rs.AllRules(func(r *Rule) bool {
		if r.StringProlog() == composed {
			found = true
			return false
		}
		return true
	})
	return found
}
