package resolver_test

import (
	"bytes"
	"testing"

	"github.com/cory-johannsen/htn/internal/htnlang"
	"github.com/cory-johannsen/htn/internal/resolver"
	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/term"
)

// harness wires a compiler, rule set, and resolver for one scenario.
type harness struct {
	t       *testing.T
	factory *term.Factory
	state   *ruleset.RuleSet
	res     *resolver.Resolver
	out     bytes.Buffer
}

func newHarness(t *testing.T, program string) *harness {
	t.Helper()
	h := &harness{t: t, factory: term.NewFactory(), state: ruleset.New()}
	h.res = resolver.New(resolver.WithOutput(&h.out))
	if program != "" {
		compiler := htnlang.NewPrologCompiler(h.factory, h.state)
		if err := compiler.Compile(program); err != nil {
			t.Fatalf("compile: %v", err)
		}
	}
	return h
}

func (h *harness) solve(goals string) *resolver.Result {
	h.t.Helper()
	parsed, err := htnlang.ParseTerms(h.factory, goals)
	if err != nil {
		h.t.Fatalf("parsing goals %q: %v", goals, err)
	}
	return h.res.ResolveAll(h.factory, h.state, parsed, 0, 0)
}

// wantSolutions asserts the solution list in order; bindings within one
// solution are compared as a set.
func (h *harness) wantSolutions(result *resolver.Result, want ...map[string]string) {
	h.t.Helper()
	if result.Solutions == nil {
		h.t.Fatalf("expected %d solutions, got null", len(want))
	}
	if len(result.Solutions) != len(want) {
		h.t.Fatalf("expected %d solutions, got %d: %s", len(want), len(result.Solutions), result)
	}
	for i, expected := range want {
		got := result.Solutions[i]
		if len(got) != len(expected) {
			h.t.Fatalf("solution %d = %s, want %v", i, got, expected)
		}
		for _, b := range got {
			wantValue, ok := expected[b.Var.Name()]
			if !ok || b.Value.String() != wantValue {
				h.t.Fatalf("solution %d = %s, want %v", i, got, expected)
			}
		}
	}
}

func (h *harness) wantNull(result *resolver.Result) {
	h.t.Helper()
	if result.Solutions != nil {
		h.t.Fatalf("expected null, got %s", result)
	}
}

// empty is the empty unifier: "true with no variables bound".
var empty = map[string]string{}

func mustParse(t *testing.T, h *harness, goals string) []*term.Term {
	t.Helper()
	parsed, err := htnlang.ParseTerms(h.factory, goals)
	if err != nil {
		t.Fatalf("parsing goals %q: %v", goals, err)
	}
	return parsed
}

func TestResolver_UnifyOperator(t *testing.T) {
	h := newHarness(t, "")
	h.wantNull(h.solve("=(mia, vincent)"))

	h = newHarness(t, "")
	h.wantSolutions(h.solve("=(?X, vincent)"), map[string]string{"X": "vincent"})

	program := `
		letter(c). letter(b). letter(a).
		cost(c, 1). cost(b, 2). cost(a, 3).
	`
	h = newHarness(t, program)
	h.wantSolutions(h.solve("letter(?X), =(?Y, ?X), cost(?Y, ?Cost)"),
		map[string]string{"X": "c", "Y": "c", "Cost": "1"},
		map[string]string{"X": "b", "Y": "b", "Cost": "2"},
		map[string]string{"X": "a", "Y": "a", "Cost": "3"})

	h = newHarness(t, "")
	h.wantSolutions(h.solve("=(?Y, letter(?X)), =(capital(?X), ?Z)"),
		map[string]string{"Y": "letter(?X)", "Z": "capital(?X)"})
}

func TestResolver_RuleChaining(t *testing.T) {
	program := `
		child(martha, charlotte).
		child(charlotte, caroline).
		descend(?X, ?Y) :- child(?X, ?Y).
		descend(?X, ?Y) :- child(?X, ?Z), descend(?Z, ?Y).
	`
	h := newHarness(t, program)
	h.wantSolutions(h.solve("descend(martha, ?D)"),
		map[string]string{"D": "charlotte"},
		map[string]string{"D": "caroline"})
	h.wantNull(h.solve("descend(caroline, ?D)"))
}

func TestResolver_VariableScopesNeverCapture(t *testing.T) {
	// ?X in different clauses must not co-refer.
	program := `
		p(?X) :- q(?X, ?Y), r(?Y).
		q(1, a). q(2, b).
		r(b).
	`
	h := newHarness(t, program)
	h.wantSolutions(h.solve("p(?X)"), map[string]string{"X": "2"})
}

func TestResolver_Recursion_Gen(t *testing.T) {
	program := `
		gen(?Cur, ?Top, ?Cur) :- <(?Cur, ?Top).
		gen(?Cur, ?Top, ?Next) :- <(?Cur, ?Top), is(?Cur1, +(?Cur, 1)), gen(?Cur1, ?Top, ?Next).
	`
	h := newHarness(t, program)
	h.wantSolutions(h.solve("gen(0, 5, ?Num)"),
		map[string]string{"Num": "0"},
		map[string]string{"Num": "1"},
		map[string]string{"Num": "2"},
		map[string]string{"Num": "3"},
		map[string]string{"Num": "4"})
}

func TestResolver_Lists(t *testing.T) {
	h := newHarness(t, "split([?Head | ?Tail], ?Head, ?Tail).")
	h.wantSolutions(h.solve("split([a, b, c, d], ?Head, ?Tail)"),
		map[string]string{"Head": "a", "Tail": "[b,c,d]"})

	memberProgram := `
		member(?X, [?X | _]).
		member(?X, [_ | ?Tail]) :- member(?X, ?Tail).
	`
	h = newHarness(t, memberProgram)
	h.wantSolutions(h.solve("member(a, [b, c, a, [d, e, f]]), not(member(d, [b, c, a, [d, e, f]]))"), empty)

	appendProgram := `
		append([], ?Ys, ?Ys).
		append([?X | ?Xs], ?Ys, [?X | ?Zs]) :- append(?Xs, ?Ys, ?Zs).
	`
	h = newHarness(t, appendProgram)
	h.wantSolutions(h.solve("append(?Left, ?Right, [a, b, c])"),
		map[string]string{"Left": "[]", "Right": "[a,b,c]"},
		map[string]string{"Left": "[a]", "Right": "[b,c]"},
		map[string]string{"Left": "[a,b]", "Right": "[c]"},
		map[string]string{"Left": "[a,b,c]", "Right": "[]"})

	reverseProgram := appendProgram + `
		reverse([], []).
		reverse([?X | ?Xs], ?YsX) :- reverse(?Xs, ?Ys), append(?Ys, [?X], ?YsX).
	`
	h = newHarness(t, reverseProgram)
	h.wantSolutions(h.solve("reverse([a, b, foo(a, [a, b, c])], ?X)"),
		map[string]string{"X": "[foo(a,[a,b,c]),b,a]"})

	lenProgram := `
		len([], 0).
		len([_ | ?Tail], ?Length) :- len(?Tail, ?Length1), is(?Length, +(?Length1, 1)), !.
	`
	h = newHarness(t, lenProgram)
	h.wantSolutions(h.solve("len([[], b, foo(a, [a, b, c])], ?X)"),
		map[string]string{"X": "3"})

	lengthProgram := `
		length([], 0).
		length([_ | ?Tail], ?N) :- length(?Tail, ?M), is(?N, +(?M, 1)).
	`
	h = newHarness(t, lengthProgram)
	h.wantSolutions(h.solve("length([a, b, c, d], ?N)"),
		map[string]string{"N": "4"})
	h.wantSolutions(h.solve("length([], ?N)"),
		map[string]string{"N": "0"})
	h.wantSolutions(h.solve("length([a, [b, c]], 2)"), empty)
	h.wantNull(h.solve("length([a, b], 3)"))
}

func TestResolver_Is(t *testing.T) {
	h := newHarness(t, "")
	h.wantSolutions(h.solve("is(1, 1)"), empty)

	h = newHarness(t, "")
	h.wantSolutions(h.solve("is(+(1, 1), +(0, 2))"), empty)

	h = newHarness(t, "")
	h.wantSolutions(h.solve("is(?X, 1)"), map[string]string{"X": "1"})

	h = newHarness(t, "")
	h.wantSolutions(h.solve("is(?X, +(1, 2))"), map[string]string{"X": "3"})

	h = newHarness(t, "")
	h.wantSolutions(h.solve("=(?X, 5), is(?X, 5)"), map[string]string{"X": "5"})

	// Bound to a non-number: is/2 fails rather than throwing.
	h = newHarness(t, "")
	h.wantNull(h.solve("=(?X, a), is(?X, 5)"))

	h = newHarness(t, "")
	h.wantNull(h.solve("is(b, b)"))

	// Unbound variables on the right fail.
	h = newHarness(t, "")
	h.wantNull(h.solve("is(?X, +(?Y, 1))"))

	// Division by zero yields 0, pinned behavior.
	h = newHarness(t, "")
	h.wantSolutions(h.solve("is(?X, /(1, 0))"), map[string]string{"X": "0"})

	h = newHarness(t, "")
	h.wantSolutions(h.solve("is(?X, mod(7, 3))"), map[string]string{"X": "1"})
}

func TestResolver_ArithmeticComparisons(t *testing.T) {
	program := `
		custom(?X, ?Y) :- =<(?X, ?Y).
	`
	h := newHarness(t, program)
	h.wantSolutions(h.solve("custom(1, 2)"), empty)
	h.wantSolutions(h.solve("custom(1, 1)"), empty)
	h.wantNull(h.solve("custom(2, 1)"))

	h = newHarness(t, "")
	h.wantSolutions(h.solve(">(2, 1)"), empty)
	h.wantNull(h.solve(">(1, 2)"))
	h.wantSolutions(h.solve("=:=(2, 2)"), empty)
	h.wantNull(h.solve("=\\=(2, 2)"))
	// Comparing unbound variables fails, it does not throw.
	h.wantNull(h.solve("<(?X, 2)"))
}

func TestResolver_Identical(t *testing.T) {
	h := newHarness(t, "")
	h.wantNull(h.solve("==(letter(a), letter(b))"))
	h.wantSolutions(h.solve("==(letter(a), letter(a))"), empty)
	h.wantSolutions(h.solve("==(letter(?X), letter(?X))"), empty)
	h.wantSolutions(h.solve("==(0, 0)"), empty)

	program := `
		capital(B). capital(A).
		letter(B). letter(A).
		combo(B, Y). combo(A, X).
	`
	h = newHarness(t, program)
	h.wantSolutions(h.solve("capital(?Capital), letter(?X), ==(?X, ?Capital), combo(?X, ?Combo)"),
		map[string]string{"Capital": "B", "X": "B", "Combo": "Y"},
		map[string]string{"Capital": "A", "X": "A", "Combo": "X"})

	h = newHarness(t, "")
	h.wantNull(h.solve("\\==(letter(a), letter(a))"))
	h.wantSolutions(h.solve("\\==(letter(a), letter(b))"), empty)
}

func TestResolver_Not(t *testing.T) {
	program := "letter(c). letter(b). letter(a)."
	h := newHarness(t, program)
	h.wantNull(h.solve("not(letter(a))"))
	h.wantSolutions(h.solve("not(letter(d))"), empty)

	program = `
		capital(A).
		letter(c). letter(b). letter(a).
		option(d). option(e).
	`
	h = newHarness(t, program)
	h.wantSolutions(h.solve("capital(?Capital), not(letter(d)), letter(?y)"),
		map[string]string{"Capital": "A", "y": "c"},
		map[string]string{"Capital": "A", "y": "b"},
		map[string]string{"Capital": "A", "y": "a"})
	h.wantSolutions(h.solve("option(?x), not(letter(?x)), letter(?y)"),
		map[string]string{"x": "d", "y": "c"},
		map[string]string{"x": "d", "y": "b"},
		map[string]string{"x": "d", "y": "a"},
		map[string]string{"x": "e", "y": "c"},
		map[string]string{"x": "e", "y": "b"},
		map[string]string{"x": "e", "y": "a"})

	// \+ is an alias.
	h = newHarness(t, "letter(a).")
	h.wantSolutions(h.solve("\\+(letter(b))"), empty)
}

func TestResolver_DontCareVariables(t *testing.T) {
	program := `
		itemsInBag(Name1, Name1).
		itemsInBag(Name2, Name3).
	`
	h := newHarness(t, program)
	h.wantSolutions(h.solve("itemsInBag(?X, ?X)"), map[string]string{"X": "Name1"})
	h.wantSolutions(h.solve("itemsInBag(_, _)"), empty, empty)

	// Two _ never co-refer: both rows match (_, _), only one matches (X, X).
	h = newHarness(t, "test(_, _).")
	h.wantSolutions(h.solve("test(a, b)"), empty)

	program = `
		test(_, ?X) :- letter(?X).
		letter(b). letter(c).
	`
	h = newHarness(t, program)
	h.wantSolutions(h.solve("test(_, ?X)"),
		map[string]string{"X": "b"},
		map[string]string{"X": "c"})
	h.wantSolutions(h.solve("test(_, _)"), empty, empty)
}

func TestResolver_EmptyBodyRule(t *testing.T) {
	h := newHarness(t, "trace(?x) :- .")
	h.wantSolutions(h.solve("trace(anything)"), empty)
}

func TestResolver_FailureContext(t *testing.T) {
	program := `
		tile(0, 0). tile(0, 1).
		test(?X) :- tile(?X, 1).
		test2(?X) :- failureContext(1, foo), tile(?X, 1).
		test3(?X) :- failureContext(1, foo), tile(0, 1), failureContext(2, foo2), tile(?X, 1).
	`

	// No failureContext in use: nothing returned but the index still works.
	h := newHarness(t, program)
	result := h.solve("test(0), test(1)")
	h.wantNull(result)
	if result.FurthestFailureIndex != 1 {
		t.Errorf("FurthestFailureIndex = %d, want 1", result.FurthestFailureIndex)
	}
	if len(result.FailureContext) != 0 {
		t.Errorf("FailureContext = %v, want empty", result.FailureContext)
	}

	// The active context is returned on failure.
	h = newHarness(t, program)
	result = h.solve("test2(0), test2(1)")
	h.wantNull(result)
	if result.FurthestFailureIndex != 1 {
		t.Errorf("FurthestFailureIndex = %d, want 1", result.FurthestFailureIndex)
	}
	if term.ToString(result.FailureContext) != "1, foo" {
		t.Errorf("FailureContext = %q, want \"1, foo\"", term.ToString(result.FailureContext))
	}

	// The latest context wins.
	h = newHarness(t, program)
	result = h.solve("test3(0), test3(1)")
	h.wantNull(result)
	if term.ToString(result.FailureContext) != "2, foo2" {
		t.Errorf("FailureContext = %q, want \"2, foo2\"", term.ToString(result.FailureContext))
	}

	// Context stays active until overwritten.
	h = newHarness(t, program)
	result = h.solve("test3(0), test3(0), test(1)")
	h.wantNull(result)
	if result.FurthestFailureIndex != 2 {
		t.Errorf("FurthestFailureIndex = %d, want 2", result.FurthestFailureIndex)
	}
	if term.ToString(result.FailureContext) != "2, foo2" {
		t.Errorf("FailureContext = %q, want \"2, foo2\"", term.ToString(result.FailureContext))
	}
}

func TestResolver_SquareScenario(t *testing.T) {
	program := `
		gen(?Cur, ?Top, ?Cur) :- =<(?Cur, ?Top).
		gen(?Cur, ?Top, ?Next) :- =<(?Cur, ?Top), is(?Cur1, +(?Cur, 1)), gen(?Cur1, ?Top, ?Next).
		hLineTile(?X1, ?X2, ?Y, tile(?S, ?T)) :- gen(?X1, ?X2, ?S), tile(?S, ?Y), is(?T, ?Y).
		vLineTile(?X, ?Y1, ?Y2, tile(?S, ?T)) :- gen(?Y1, ?Y2, ?T), tile(?X, ?T), is(?S, ?X).
		square(?X, ?Y, ?R, tile(?S, ?T)) :- is(?Y1, -(?Y, ?R)), is(?X1, -(?X, ?R)), is(?X2, +(?X, ?R)), hLineTile(?X1, ?X2, ?Y1, tile(?S, ?T)).
		square(?X, ?Y, ?R, tile(?S, ?T)) :- is(?Y1, +(?Y, ?R)), is(?X1, -(?X, ?R)), is(?X2, +(?X, ?R)), hLineTile(?X1, ?X2, ?Y1, tile(?S, ?T)).
		square(?X, ?Y, ?R, tile(?S, ?T)) :- is(?X1, -(?X, ?R)), is(?Y1, -(?Y, -(?R, 1))), is(?Y2, +(?Y, -(?R, 1))), vLineTile(?X1, ?Y1, ?Y2, tile(?S, ?T)).
		square(?X, ?Y, ?R, tile(?S, ?T)) :- is(?X1, +(?X, ?R)), is(?Y1, -(?Y, -(?R, 1))), is(?Y2, +(?Y, -(?R, 1))), vLineTile(?X1, ?Y1, ?Y2, tile(?S, ?T)).
		attackRangeTiles(?Min, ?Max, tile(?X, ?Y), tile(?S, ?T)) :- =<(?Min, ?Max), square(?X, ?Y, ?Min, tile(?S, ?T)).
		attackRangeTiles(?Min, ?Max, tile(?X, ?Y), tile(?S, ?T)) :- =<(?Min, ?Max), is(?Min1, +(?Min, 1)), attackRangeTiles(?Min1, ?Max, tile(?X, ?Y), tile(?S, ?T)).
		tile(0, 0). tile(0, 1).
	`
	h := newHarness(t, program)
	h.wantSolutions(h.solve("attackRangeTiles(1, 1, tile(0, 0), ?X)"),
		map[string]string{"X": "tile(0,1)"})
}
