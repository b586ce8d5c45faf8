// Package resolver implements SLD resolution over goal conjunctions: a
// Prolog-style engine with a closed, table-driven set of built-in predicates.
//
// ResolveAll returns every solution to a conjunction in discovery order, the
// way the planner's method conditions require, together with deepest-failure
// diagnostics when there is no solution.
package resolver

import (
	"io"

	"go.uber.org/zap"

	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/term"
	"github.com/cory-johannsen/htn/internal/unify"
)

// topScope tags the variables of the top-level query. Solutions are
// restricted to variables in this scope, with the tag stripped.
const topScope = "orig"

const memoryCheckInterval = 64

// Result is the outcome of one ResolveAll call.
//
// Solutions is nil when the conjunction has no solution (logical false); the
// empty unifier inside a non-nil Solutions means "true with no bindings".
type Result struct {
	Solutions []unify.Bindings
	// FurthestFailureIndex is the index into the top-level conjunction of the
	// furthest goal that failed at the deepest point, or -1.
	FurthestFailureIndex int
	// FailureContext holds the failureContext/N terms active at the deepest
	// failure.
	FailureContext []*term.Term
	// MemoryUsed approximates the bytes allocated during resolution.
	MemoryUsed int64
}

// String renders the solutions the canonical way: "null" or
// "((?X = a), ...)".
func (r *Result) String() string {
	return unify.ToString(r.Solutions)
}

// Resolver resolves goal conjunctions against a RuleSet. The zero value is
// not usable; use New.
type Resolver struct {
	out    io.Writer
	logger *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOutput sets the sink for write/writeln/print/nl. Defaults to discard.
func WithOutput(w io.Writer) Option {
	return func(r *Resolver) { r.out = w }
}

// WithLogger sets the trace logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{out: io.Discard, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAll resolves the conjunction of goals against rules and returns all
// solutions in discovery order, or a nil-Solutions Result when there are
// none. Variables in goals are scoped per query; reusing ?X across separate
// calls never co-refers.
//
// memoryBudget <= 0 means unbounded. When allocations exceed the budget the
// factory's out-of-memory flag is set and whatever solutions were found so
// far are returned.
func (r *Resolver) ResolveAll(f *term.Factory, rules *ruleset.RuleSet, goals []*term.Term, depth int, memoryBudget int64) *Result {
	res := &resolution{
		resolver:     r,
		factory:      f,
		rules:        rules,
		budget:       memoryBudget,
		startSize:    f.DynamicSize(),
		depth:        depth,
		failureIndex: -1,
	}

	seen := make(map[string]*term.Term)
	dontCare := 0
	renamed := make([]*term.Term, len(goals))
	for i, g := range goals {
		renamed[i] = g.RenameVariables(f, topScope, seen, &dontCare)
	}
	res.topGoals = renamed

	var solutions []unify.Bindings
	var step func(i int, b unify.Bindings) (bool, int)
	step = func(i int, b unify.Bindings) (bool, int) {
		if i == len(renamed) {
			solutions = append(solutions, res.topSolution(b))
			return false, 0
		}
		if i > res.topIndex {
			res.topIndex = i
		}
		return res.solve(renamed[i:i+1], res.nextClauseID(), b, func(b2 unify.Bindings) (bool, int) {
			return step(i+1, b2)
		})
	}
	step(0, unify.Bindings{})

	result := &Result{
		FurthestFailureIndex: res.failureIndex,
		FailureContext:       res.failureContext,
		MemoryUsed:           res.memoryUsed(),
	}
	if len(solutions) > 0 {
		result.Solutions = solutions
	}
	return result
}

// resolution is the per-call state of one ResolveAll.
type resolution struct {
	resolver  *Resolver
	factory   *term.Factory
	rules     *ruleset.RuleSet
	budget    int64
	startSize int64
	depth     int

	topGoals []*term.Term
	topIndex int

	clauseCounter int
	steps         int

	// failureContext persists until overwritten; the deepest failure keeps a
	// snapshot of it.
	activeContext  []*term.Term
	failureIndex   int
	failureContext []*term.Term
}

type cont func(b unify.Bindings) (stop bool, barrier int)

func (res *resolution) nextScope() string {
	return res.factory.NextScope()
}

func (res *resolution) nextClauseID() int {
	res.clauseCounter++
	return res.clauseCounter
}

func (res *resolution) memoryUsed() int64 {
	return res.factory.DynamicSize() - res.startSize
}

func (res *resolution) overBudget() bool {
	if res.budget <= 0 {
		return false
	}
	if res.memoryUsed() <= res.budget {
		return false
	}
	res.factory.SetOutOfMemory()
	return true
}

// recordFailure snapshots the active failure context if this failure is
// furthest along the top-level conjunction so far.
func (res *resolution) recordFailure() {
	if res.topIndex > res.failureIndex {
		res.failureIndex = res.topIndex
		res.failureContext = res.activeContext
	}
}

// solve resolves a conjunction belonging to the clause identified by
// clauseID, invoking k once per solution. The returned barrier is non-zero
// while a cut is unwinding toward the clause it belongs to; stop aborts the
// whole search (first-solution limits, out of memory).
func (res *resolution) solve(goals []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	if len(goals) == 0 {
		return k(b)
	}
	res.steps++
	if res.steps%memoryCheckInterval == 0 && res.overBudget() {
		return true, 0
	}

	raw := goals[0]
	rest := goals[1:]
	goal := unify.Substitute(res.factory, b, raw)

	if entry, ok := lookupBuiltin(goal); ok {
		return entry.handler(res, goal, raw, rest, clauseID, b, k)
	}
	return res.solveUserGoal(goal, rest, clauseID, b, k)
}

// solveUserGoal tries every rule whose head unifies with the goal, in
// document order, renaming each clause into a fresh scope.
func (res *resolution) solveUserGoal(goal *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	if goal.IsVariable() {
		panic("resolver: top-level variable goal: " + goal.String())
	}
	var stop bool
	var barrier int
	matched := false
	bodyID := res.nextClauseID()
	res.rules.RulesForGoal(goal, func(rule *ruleset.Rule) bool {
		renamed := rule
		if !ruleIsGround(rule) {
			renamed = rule.RenameVariables(res.factory, res.nextScope())
		}
		mgu := unify.Unify(res.factory, goal, renamed.Head())
		if mgu == nil {
			return true
		}
		matched = true
		b2 := unify.Compose(res.factory, b, mgu)
		stop, barrier = res.solve(renamed.Tail(), bodyID, b2, func(b3 unify.Bindings) (bool, int) {
			return res.solve(rest, clauseID, b3, k)
		})
		return !stop && barrier == 0
	})
	if !matched {
		res.recordFailure()
	}
	if barrier == bodyID {
		// The cut belonged to one of this goal's clauses; absorbed here.
		barrier = 0
	}
	return stop, barrier
}

func ruleIsGround(r *ruleset.Rule) bool {
	if !r.Head().IsGround() {
		return false
	}
	for _, t := range r.Tail() {
		if !t.IsGround() {
			return false
		}
	}
	return true
}

// solveAll enumerates every solution of a sub-conjunction in isolation: cuts
// inside it are local and its bindings do not leak unless the caller applies
// them.
func (res *resolution) solveAll(goals []*term.Term, b unify.Bindings) []unify.Bindings {
	var out []unify.Bindings
	res.solve(goals, res.nextClauseID(), b, func(b2 unify.Bindings) (bool, int) {
		out = append(out, b2)
		return false, 0
	})
	return out
}

// topSolution restricts the accumulated bindings to the query's own
// variables, resolves them fully, and strips the scope tag.
func (res *resolution) topSolution(b unify.Bindings) unify.Bindings {
	prefix := topScope + string(term.ScopeSeparator)
	out := unify.Bindings{}
	for _, binding := range b {
		name := binding.Var.Name()
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		if binding.Var.IsDontCare() {
			continue
		}
		value := unify.Substitute(res.factory, b, binding.Value)
		v := res.factory.Variable(name[len(prefix):])
		presented := res.presentValue(value)
		if presented == v {
			// Still unbound: reporting it would only bind ?X to ?X.
			continue
		}
		out = append(out, unify.Binding{Var: v, Value: presented})
	}
	return out
}

// presentValue strips scope tags from any unresolved variables inside a
// reported value so they read the way the query wrote them.
func (res *resolution) presentValue(t *term.Term) *term.Term {
	if t.IsGround() {
		return t
	}
	if t.IsVariable() {
		return res.factory.Variable(term.OriginalName(t.Name()))
	}
	args := t.Args()
	newArgs := make([]*term.Term, len(args))
	changed := false
	for i, arg := range args {
		newArgs[i] = res.presentValue(arg)
		if newArgs[i] != arg {
			changed = true
		}
	}
	if !changed {
		return t
	}
	return res.factory.CompoundFromSlice(t.Name(), newArgs)
}
