package resolver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cory-johannsen/htn/internal/term"
	"github.com/cory-johannsen/htn/internal/unify"
)

// builtinHandler resolves one built-in goal. goal carries the current
// bindings already substituted; raw is the unsubstituted source term (write/1
// must not resolve variables). rest is the remainder of the conjunction in
// clause clauseID; k receives each solution.
type builtinHandler func(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int)

type builtinEntry struct {
	minArity int
	maxArity int // -1 = unbounded
	handler  builtinHandler
}

// builtins is the closed set of reserved predicates. User rules with these
// names are silently shadowed.
//
// Built lazily via builtinsTable to avoid a package-level initialization
// cycle: several handlers below transitively call back into the lookup
// functions that read this table.
var (
	builtinsOnce  sync.Once
	builtinsTable map[string]builtinEntry
)

func initBuiltinsTable() map[string]builtinEntry {
	return map[string]builtinEntry{
		"true":           {0, 0, builtinTrue},
		"false":          {0, 0, builtinFalse},
		"fail":           {0, 0, builtinFalse},
		"=":              {2, 2, builtinUnify},
		"==":             {2, 2, builtinIdentical},
		"\\==":           {2, 2, builtinNotIdentical},
		"is":             {2, 2, builtinIs},
		"<":              {2, 2, builtinArithCompare},
		">":              {2, 2, builtinArithCompare},
		"=<":             {2, 2, builtinArithCompare},
		">=":             {2, 2, builtinArithCompare},
		"=:=":            {2, 2, builtinArithCompare},
		"=\\=":           {2, 2, builtinArithCompare},
		"not":            {1, -1, builtinNot},
		"\\+":            {1, -1, builtinNot},
		"first":          {1, -1, builtinFirst},
		"findall":        {3, 3, builtinFindAll},
		"forall":         {2, 2, builtinForAll},
		"distinct":       {2, -1, builtinDistinct},
		"count":          {2, -1, builtinCount},
		"min":            {3, -1, builtinAggregate},
		"max":            {3, -1, builtinAggregate},
		"sum":            {3, -1, builtinAggregate},
		"sortBy":         {2, 2, builtinSortBy},
		"atomic":         {1, 1, builtinAtomic},
		"atom_concat":    {3, 3, builtinAtomConcat},
		"atom_chars":     {2, 2, builtinAtomChars},
		"downcase_atom":  {2, 2, builtinDowncaseAtom},
		"write":          {1, 1, builtinWrite},
		"writeln":        {1, 1, builtinWriteln},
		"print":          {0, -1, builtinPrint},
		"nl":             {0, 0, builtinNl},
		"assert":         {1, 1, builtinAssert},
		"asserta":        {1, 1, builtinAssert},
		"assertz":        {1, 1, builtinAssert},
		"retract":        {1, 1, builtinRetract},
		"retractall":     {1, 1, builtinRetractAll},
		"!":              {0, 0, builtinCut},
		"failureContext": {0, -1, builtinFailureContext},
	}
}

func getBuiltinsTable() map[string]builtinEntry {
	builtinsOnce.Do(func() {
		builtinsTable = initBuiltinsTable()
	})
	return builtinsTable
}

// IsBuiltin reports whether name/arity is a reserved built-in predicate.
func IsBuiltin(name string, arity int) bool {
	entry, ok := getBuiltinsTable()[name]
	if !ok {
		return false
	}
	return arity >= entry.minArity && (entry.maxArity < 0 || arity <= entry.maxArity)
}

func lookupBuiltin(goal *term.Term) (builtinEntry, bool) {
	entry, ok := getBuiltinsTable()[goal.Name()]
	if !ok {
		return builtinEntry{}, false
	}
	arity := goal.Arity()
	if arity < entry.minArity || (entry.maxArity >= 0 && arity > entry.maxArity) {
		return builtinEntry{}, false
	}
	return entry, true
}

func builtinTrue(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	return res.solve(rest, clauseID, b, k)
}

func builtinFalse(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	res.recordFailure()
	return false, 0
}

func builtinCut(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	stop, barrier := res.solve(rest, clauseID, b, k)
	if barrier != 0 {
		// A cut from an enclosing clause subsumes this one.
		return stop, barrier
	}
	return stop, clauseID
}

func builtinUnify(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	mgu := unify.Unify(res.factory, goal.Args()[0], goal.Args()[1])
	if mgu == nil {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, unify.Compose(res.factory, b, mgu), k)
}

func builtinIdentical(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	// Interned terms: identical-after-resolution is pointer equality.
	if goal.Args()[0] != goal.Args()[1] {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, b, k)
}

func builtinNotIdentical(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	if goal.Args()[0] == goal.Args()[1] {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, b, k)
}

func builtinIs(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	right := goal.Args()[1].Eval(res.factory)
	if right == nil {
		res.recordFailure()
		return false, 0
	}
	left := goal.Args()[0]
	if left.IsGround() {
		if lv := left.Eval(res.factory); lv == nil || lv != right {
			res.recordFailure()
			return false, 0
		}
		return res.solve(rest, clauseID, b, k)
	}
	mgu := unify.Unify(res.factory, left, right)
	if mgu == nil {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, unify.Compose(res.factory, b, mgu), k)
}

func builtinArithCompare(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	v := goal.Eval(res.factory)
	if v != res.factory.True() {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, b, k)
}

func builtinNot(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	// Negation as failure: succeeds iff the inner conjunction has no
	// solution, and binds nothing either way.
	if len(res.solveAll(goal.Args(), b)) > 0 {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, b, k)
}

func builtinFirst(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	var first unify.Bindings
	found := false
	res.solve(goal.Args(), res.nextClauseID(), b, func(b2 unify.Bindings) (bool, int) {
		first = b2
		found = true
		return true, 0
	})
	if !found {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, first, k)
}

func builtinFindAll(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	template := goal.Args()[0]
	solutions := res.solveAll(goal.Args()[1:2], b)
	items := make([]*term.Term, 0, len(solutions))
	for _, sol := range solutions {
		items = append(items, unify.Substitute(res.factory, sol, template))
	}
	list := res.factory.List(items...)
	mgu := unify.Unify(res.factory, goal.Args()[2], list)
	if mgu == nil {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, unify.Compose(res.factory, b, mgu), k)
}

func builtinForAll(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	cond, action := goal.Args()[0], goal.Args()[1]
	for _, sol := range res.solveAll([]*term.Term{cond}, b) {
		instantiated := unify.Substitute(res.factory, sol, action)
		if len(res.solveAll([]*term.Term{instantiated}, sol)) == 0 {
			res.recordFailure()
			return false, 0
		}
	}
	return res.solve(rest, clauseID, b, k)
}

func builtinDistinct(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	keyVar := goal.Args()[0]
	solutions := res.solveAll(goal.Args()[1:], b)
	if len(solutions) == 0 {
		res.recordFailure()
		return false, 0
	}
	seen := make(map[string]struct{}, len(solutions))
	var stop bool
	var barrier int
	for _, sol := range solutions {
		key := unify.Substitute(res.factory, sol, keyVar)
		var dedupe string
		if key.IsVariable() {
			// No usable key: dedupe by the whole solution.
			dedupe = res.topSolution(sol).String()
		} else {
			dedupe = key.String()
		}
		if _, dup := seen[dedupe]; dup {
			continue
		}
		seen[dedupe] = struct{}{}
		stop, barrier = res.solve(rest, clauseID, sol, k)
		if stop || barrier != 0 {
			return stop, barrier
		}
	}
	return stop, barrier
}

func builtinCount(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	n := len(res.solveAll(goal.Args()[1:], b))
	mgu := unify.Unify(res.factory, goal.Args()[0], res.factory.Int(int64(n)))
	if mgu == nil {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, unify.Compose(res.factory, b, mgu), k)
}

func builtinAggregate(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	resultVar, overVar := goal.Args()[0], goal.Args()[1]
	solutions := res.solveAll(goal.Args()[2:], b)
	if len(solutions) == 0 {
		res.recordFailure()
		return false, 0
	}
	values := make([]*term.Term, 0, len(solutions))
	for _, sol := range solutions {
		v := unify.Substitute(res.factory, sol, overVar)
		if !v.IsNumber() {
			res.recordFailure()
			return false, 0
		}
		values = append(values, v)
	}
	var result *term.Term
	switch goal.Name() {
	case "min":
		result = values[0]
		for _, v := range values[1:] {
			if term.Compare(v, result) < 0 {
				result = v
			}
		}
	case "max":
		result = values[0]
		for _, v := range values[1:] {
			if term.Compare(v, result) > 0 {
				result = v
			}
		}
	case "sum":
		result = values[0]
		for _, v := range values[1:] {
			result = res.factory.Compound("+", result, v).Eval(res.factory)
		}
	}
	mgu := unify.Unify(res.factory, resultVar, result)
	if mgu == nil {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, unify.Compose(res.factory, b, mgu), k)
}

func builtinSortBy(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	keyVar, comparison := goal.Args()[0], goal.Args()[1]
	descending := comparison.Name() == ">"
	if !descending && comparison.Name() != "<" {
		res.recordFailure()
		return false, 0
	}
	solutions := res.solveAll(comparison.Args(), b)
	if len(solutions) == 0 {
		res.recordFailure()
		return false, 0
	}
	keys := make([]*term.Term, len(solutions))
	for i, sol := range solutions {
		keys[i] = unify.Substitute(res.factory, sol, keyVar)
	}
	order := make([]int, len(solutions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		c := term.Compare(keys[order[i]], keys[order[j]])
		if descending {
			return c > 0
		}
		return c < 0
	})
	var stop bool
	var barrier int
	for _, idx := range order {
		stop, barrier = res.solve(rest, clauseID, solutions[idx], k)
		if stop || barrier != 0 {
			return stop, barrier
		}
	}
	return stop, barrier
}

func builtinAtomic(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	if !goal.Args()[0].IsConstant() {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, b, k)
}

func builtinAtomConcat(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	left, right := goal.Args()[0], goal.Args()[1]
	if !left.IsConstant() || !right.IsConstant() {
		res.recordFailure()
		return false, 0
	}
	joined := res.factory.Atom(left.Name() + right.Name())
	mgu := unify.Unify(res.factory, goal.Args()[2], joined)
	if mgu == nil {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, unify.Compose(res.factory, b, mgu), k)
}

func builtinAtomChars(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	atom, list := goal.Args()[0], goal.Args()[1]
	var mgu unify.Bindings
	switch {
	case atom.IsConstant():
		chars := make([]*term.Term, 0, len(atom.Name()))
		for _, r := range atom.Name() {
			chars = append(chars, res.factory.Atom(string(r)))
		}
		mgu = unify.Unify(res.factory, list, res.factory.List(chars...))
	default:
		// Reverse direction: a proper list of constants joins into an atom.
		items, tail := term.ListItems(list)
		if !tail.IsEmptyList() {
			res.recordFailure()
			return false, 0
		}
		var joined strings.Builder
		for _, item := range items {
			if !item.IsConstant() {
				res.recordFailure()
				return false, 0
			}
			joined.WriteString(item.Name())
		}
		mgu = unify.Unify(res.factory, atom, res.factory.Atom(joined.String()))
	}
	if mgu == nil {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, unify.Compose(res.factory, b, mgu), k)
}

func builtinDowncaseAtom(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	atom := goal.Args()[0]
	if !atom.IsConstant() {
		res.recordFailure()
		return false, 0
	}
	lowered := res.factory.Atom(strings.ToLower(atom.Name()))
	mgu := unify.Unify(res.factory, goal.Args()[1], lowered)
	if mgu == nil {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, unify.Compose(res.factory, b, mgu), k)
}

func builtinWrite(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	// write/1 prints the term as written, variables unresolved and still
	// carrying their scope name.
	src := raw
	if src.Name() != goal.Name() || src.Arity() != goal.Arity() {
		// The goal arrived through a variable; only the resolved form has
		// the argument.
		src = goal
	}
	fmt.Fprint(res.resolver.out, src.Args()[0].String())
	return res.solve(rest, clauseID, b, k)
}

func builtinWriteln(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	fmt.Fprintln(res.resolver.out, goal.Args()[0].String())
	return res.solve(rest, clauseID, b, k)
}

func builtinPrint(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	parts := make([]string, len(goal.Args()))
	for i, arg := range goal.Args() {
		parts[i] = arg.String()
	}
	fmt.Fprintln(res.resolver.out, strings.Join(parts, " "))
	return res.solve(rest, clauseID, b, k)
}

func builtinNl(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	fmt.Fprintln(res.resolver.out)
	return res.solve(rest, clauseID, b, k)
}

func builtinAssert(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	fact := goal.Args()[0]
	if !fact.IsGround() {
		res.recordFailure()
		return false, 0
	}
	// Mutation persists across backtracking: the RuleSet is changed in place.
	res.rules.Assert(fact)
	return res.solve(rest, clauseID, b, k)
}

func builtinRetract(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	mgu := res.rules.Retract(res.factory, goal.Args()[0])
	if mgu == nil {
		res.recordFailure()
		return false, 0
	}
	return res.solve(rest, clauseID, unify.Compose(res.factory, b, mgu), k)
}

func builtinRetractAll(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	res.rules.RetractAll(res.factory, goal.Args()[0])
	return res.solve(rest, clauseID, b, k)
}

func builtinFailureContext(res *resolution, goal, raw *term.Term, rest []*term.Term, clauseID int, b unify.Bindings, k cont) (bool, int) {
	res.activeContext = goal.Args()
	return res.solve(rest, clauseID, b, k)
}
