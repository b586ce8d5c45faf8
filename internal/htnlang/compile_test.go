package htnlang_test

import (
	"testing"

	"github.com/cory-johannsen/htn/internal/domain"
	"github.com/cory-johannsen/htn/internal/htnlang"
	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/term"
)

func compileHtn(t *testing.T, src string) (*htnlang.Compiler, *domain.Domain, *ruleset.RuleSet) {
	t.Helper()
	f := term.NewFactory()
	state := ruleset.New()
	dom := domain.New()
	c := htnlang.NewHtnCompiler(f, state, dom)
	if err := c.Compile(src); err != nil {
		t.Fatalf("compile: %v", err)
	}
	return c, dom, state
}

func TestCompile_MethodAndOperatorShapes(t *testing.T) {
	src := `
		travel(?q) :- if(at(?x), walkingDistance(?x, ?q)), do(walk(?x, ?q)).
		travel(?q) :- else, if(), do(callTaxi(?q)).
		pickup(?q) :- anyOf, if(item(?x)), do(grab(?x)).
		dropAll(?q) :- allOf, if(holding(?x)), do(drop(?x)).
		walk(?from, ?to) :- del(at(?from)), add(at(?to)).
		teleport(?to) :- hidden, del(), add(at(?to)).
		at(home).
		goals(travel(work)).
	`
	c, dom, state := compileHtn(t, src)

	if !dom.HasMethod("travel(?q)", "at(?x),walkingDistance(?x,?q)", "walk(?x,?q)") {
		t.Error("normal method not registered")
	}
	if !dom.HasOperator("walk(?from,?to)", "at(?from)", "at(?to)") {
		t.Error("operator not registered")
	}
	if op, ok := dom.Operator("teleport"); !ok || !op.IsHidden() {
		t.Error("hidden operator not registered as hidden")
	}
	if !state.HasRule("at(home)", "") {
		t.Error("plain fact must land in the rule set")
	}
	if len(c.Goals()) != 1 || c.Goals()[0].String() != "travel(work)" {
		t.Errorf("goals = %v", c.Goals())
	}

	var kinds []domain.MethodType
	var defaults []bool
	dom.AllMethods(func(m *domain.Method) bool {
		kinds = append(kinds, m.Type())
		defaults = append(defaults, m.IsDefault())
		return true
	})
	want := []domain.MethodType{domain.Normal, domain.Normal, domain.AnySetOf, domain.AllSetOf}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("method %d type = %v, want %v", i, kinds[i], want[i])
		}
	}
	if !defaults[1] || defaults[0] || defaults[2] {
		t.Fatalf("else flags = %v", defaults)
	}
}

func TestCompile_DocumentOrderIsMonotonic(t *testing.T) {
	src := `
		a :- if(), do(x).
		b :- if(), do(y).
		a :- else, if(), do(z).
		x :- del(), add(did(x)).
		y :- del(), add(did(y)).
		z :- del(), add(did(z)).
	`
	_, dom, _ := compileHtn(t, src)
	last := 0
	dom.AllMethods(func(m *domain.Method) bool {
		if m.DocumentOrder() <= last {
			t.Fatalf("document order not monotonic: %d after %d", m.DocumentOrder(), last)
		}
		last = m.DocumentOrder()
		return true
	})
}

func TestCompile_DuplicateOperatorRejected(t *testing.T) {
	src := `
		walk(?a) :- del(), add(at(?a)).
		walk(?a, ?b) :- del(at(?a)), add(at(?b)).
	`
	f := term.NewFactory()
	c := htnlang.NewHtnCompiler(f, ruleset.New(), domain.New())
	if err := c.Compile(src); err == nil {
		t.Fatal("two operators with the same name must be rejected")
	}
}

func TestCompile_PrologCompilerIgnoresHtnShapes(t *testing.T) {
	f := term.NewFactory()
	state := ruleset.New()
	c := htnlang.NewPrologCompiler(f, state)
	if err := c.Compile("travel(?q) :- if(at(?q)), do(walk(?q))."); err != nil {
		t.Fatal(err)
	}
	if !state.HasRule("travel(?q)", "if(at(?q)), do(walk(?q))") {
		t.Error("prolog compiler must store if/do clauses as plain rules")
	}
}

func TestCheckErrors_LoopsAndMissingTasks(t *testing.T) {
	src := `
		a :- if(), do(b).
		b :- if(), do(a).
		c :- if(), do(missing).
	`
	c, _, _ := compileHtn(t, src)
	warnings := c.CheckErrors()
	var loop, notFound bool
	for _, w := range warnings {
		if w == "Task Loop: a/0" || w == "Task Loop: b/0" {
			loop = true
		}
		if w == "Task Not Found: missing/0" {
			notFound = true
		}
	}
	if !loop {
		t.Errorf("expected a loop warning, got %v", warnings)
	}
	if !notFound {
		t.Errorf("expected a missing-task warning, got %v", warnings)
	}
}

func TestCheckErrors_Declarations(t *testing.T) {
	src := `
		loopSafe(a, 0).
		declareTask(external, 0).
		a :- if(), do(a).
		c :- if(), do(external).
	`
	c, _, _ := compileHtn(t, src)
	if warnings := c.CheckErrors(); len(warnings) != 0 {
		t.Errorf("declared loops and tasks must not warn: %v", warnings)
	}
}

func TestCompiler_Clear(t *testing.T) {
	src := `
		fact(one).
		m :- if(), do(op).
		op :- del(), add(done).
		goals(m).
	`
	c, dom, state := compileHtn(t, src)
	c.Clear()
	if len(c.Goals()) != 0 {
		t.Error("Clear must drop goals")
	}
	if state.HasRule("fact(one)", "") {
		t.Error("Clear must drop rules")
	}
	count := 0
	dom.AllMethods(func(*domain.Method) bool { count++; return true })
	if count != 0 {
		t.Error("Clear must drop methods")
	}
}
