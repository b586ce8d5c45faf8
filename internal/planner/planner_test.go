package planner_test

import (
	"strings"
	"testing"

	"github.com/cory-johannsen/htn/internal/domain"
	"github.com/cory-johannsen/htn/internal/htnlang"
	"github.com/cory-johannsen/htn/internal/planner"
	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/term"
	"github.com/cory-johannsen/htn/internal/unify"
)

// world compiles one HTN program and runs the planner against it.
type world struct {
	t       *testing.T
	factory *term.Factory
	state   *ruleset.RuleSet
	dom     *domain.Domain
	goals   []*term.Term
}

func newWorld(t *testing.T, program string) *world {
	t.Helper()
	w := &world{
		t:       t,
		factory: term.NewFactory(),
		state:   ruleset.New(),
		dom:     domain.New(),
	}
	compiler := htnlang.NewHtnCompiler(w.factory, w.state, w.dom)
	if err := compiler.Compile(program); err != nil {
		t.Fatalf("compile: %v", err)
	}
	w.goals = compiler.Goals()
	return w
}

func (w *world) findAllPlans(budget int64) ([]*planner.Solution, *planner.PlanState) {
	w.t.Helper()
	p := planner.NewPlanner(w.dom)
	return p.FindAllPlans(w.factory, w.state, w.goals, budget)
}

func (w *world) wantPlans(solutions []*planner.Solution, want string) {
	w.t.Helper()
	if got := planner.ToStringSolutions(solutions); got != want {
		w.t.Fatalf("plans = %s\nwant   %s", got, want)
	}
}

func (w *world) wantFacts(solutions []*planner.Solution, want string) {
	w.t.Helper()
	if got := planner.ToStringFacts(solutions); got != want {
		w.t.Fatalf("facts = %s\nwant  %s", got, want)
	}
}

// E1: a goal that is directly an operator.
func TestPlanner_DirectOperator(t *testing.T) {
	program := `
		trace(?V) :- del(), add(?V).
		goals(trace(Test1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions, "[ { (trace(Test1)) } ]")
	w.wantFacts(solutions, "[ { Test1 =>  } ]")
}

// E2: one method whose condition has two unifiers produces two solutions.
func TestPlanner_MethodConditionAlternatives(t *testing.T) {
	program := `
		IsTrue(Test1). Alternative(A1). Alternative(A2).
		method(?V) :- if(IsTrue(?V), Alternative(?Alt)), do(trace(?V, M, ?Alt)).
		trace(?a, ?b, ?c) :- del(), add(item(?a, ?b, ?c)).
		goals(method(Test1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions, "[ { (trace(Test1,M,A1)) } { (trace(Test1,M,A2)) } ]")
	w.wantFacts(solutions,
		"[ { IsTrue(Test1) => ,Alternative(A1) => ,Alternative(A2) => ,item(Test1,M,A1) =>  }"+
			" { IsTrue(Test1) => ,Alternative(A1) => ,Alternative(A2) => ,item(Test1,M,A2) =>  } ]")

	// Tree slices of distinct solutions never share a treeNodeID.
	seen := make(map[int]int)
	for i, sol := range solutions {
		for _, node := range sol.DecompositionTree {
			if prev, dup := seen[node.TreeNodeID]; dup {
				t.Fatalf("treeNodeID %d appears in solutions %d and %d", node.TreeNodeID, prev, i)
			}
			seen[node.TreeNodeID] = i
		}
	}
}

// E3: else methods fire only when the preceding group found nothing.
func TestPlanner_ElseFallsBack(t *testing.T) {
	program := `
		canAttack(player1).
		doAI(?P) :- if(enemyNearKing(?P)), do(defendKing(?P)).
		doAI(?P) :- else, if(canAttack(?P)), do(attack(?P)).
		doAI(?P) :- else, if(), do(wander(?P)).
		defendKing(?P) :- del(), add(defending(?P)).
		attack(?P) :- del(), add(attacking(?P)).
		wander(?P) :- del(), add(wandering(?P)).
		goals(doAI(player1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	plans := planner.ToStringSolutions(solutions)
	if !strings.Contains(plans, "attack(player1)") {
		t.Fatalf("plan must contain attack(player1): %s", plans)
	}
	if strings.Contains(plans, "defendKing") || strings.Contains(plans, "wander") {
		t.Fatalf("plan must not fall through to defend or wander: %s", plans)
	}
}

// An else method is skipped once a preceding method in its group succeeds.
func TestPlanner_ElseSkippedAfterSolution(t *testing.T) {
	program := `
		canAttack(player1).
		doAI(?P) :- if(canAttack(?P)), do(attack(?P)).
		doAI(?P) :- else, if(), do(wander(?P)).
		attack(?P) :- del(), add(attacking(?P)).
		wander(?P) :- del(), add(wandering(?P)).
		goals(doAI(player1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions, "[ { (attack(player1)) } ]")
}

// Consecutive non-default methods are each tried as alternatives.
func TestPlanner_NonDefaultMethodsRemainAlternatives(t *testing.T) {
	program := `
		isTrue(Test1).
		method(?V) :- if(isTrue(?V)), do(trace(first, ?V)).
		method(?V) :- if(isTrue(?V)), do(trace(second, ?V)).
		trace(?a, ?b) :- del(), add(item(?a, ?b)).
		goals(method(Test1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions, "[ { (trace(first,Test1)) } { (trace(second,Test1)) } ]")
}

// E4: try() tolerates failing blocks and keeps going.
func TestPlanner_TryToleratesFailure(t *testing.T) {
	program := `
		number(10). number(12). number(1).
		test :- if(), do(try(success), try(fail1), try(fail2), try(success(?Y))).
		success :- if(), do(debugWatch(success)).
		fail1 :- if(neverTrue1), do(debugWatch(no)).
		fail2 :- if(neverTrue2), do(debugWatch(no)).
		success(?Y) :- if(number(?Y)), do(debugWatch(?Y)).
		debugWatch(?x) :- del(), add(item(?x)).
		goals(test).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions,
		"[ { (debugWatch(success), debugWatch(10)) }"+
			" { (debugWatch(success), debugWatch(12)) }"+
			" { (debugWatch(success), debugWatch(1)) } ]")
}

// A failing task after a try() block fails the plan; only failures inside
// the block are tolerated.
func TestPlanner_TryFailureAfterEndPropagates(t *testing.T) {
	program := `
		isTrue(Test3).
		method(?V) :- if(isTrue(?V)), do(trace(?V), impossible(?V)).
		trace(?x) :- del(), add(item(?x)).
		goals(try(method(Test3)), method(Test3)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	if solutions != nil {
		t.Fatalf("expected null, got %s", planner.ToStringSolutions(solutions))
	}
}

// E5: anyOf merges all condition resolutions into one solution.
func TestPlanner_AnyOfMergesResolutions(t *testing.T) {
	program := `
		IsTrue(T1). Alternative(A1). Alternative(A2).
		method(?V) :- anyOf, if(IsTrue(?V), Alternative(?Alt)), do(trace(A, ?V, ?Alt)).
		trace(?a, ?b, ?c) :- del(), add(item(?a, ?b, ?c)).
		goals(method(T1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions, "[ { (trace(A,T1,A1), trace(A,T1,A2)) } ]")
}

// anyOf succeeds when at least one wrapped block survives.
func TestPlanner_AnyOfPartialFailure(t *testing.T) {
	program := `
		IsTrue(T1). Alternative(A1). Alternative(A2).
		IsTrue(T1, A2).
		method(?V) :- anyOf, if(IsTrue(?V), Alternative(?Alt)), do(sub(?V, ?Alt)).
		sub(?V, ?Alt) :- if(IsTrue(?V, ?Alt)), do(trace(?V, ?Alt)).
		trace(?a, ?b) :- del(), add(item(?a, ?b)).
		goals(method(T1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions, "[ { (trace(T1,A2)) } ]")
}

// anyOf fails when every wrapped block fails.
func TestPlanner_AnyOfAllFail(t *testing.T) {
	program := `
		IsTrue(T1). Alternative(A1).
		method(?V) :- anyOf, if(IsTrue(?V), Alternative(?Alt)), do(sub(?V, ?Alt)).
		sub(?V, ?Alt) :- if(neverTrue), do(trace(?V, ?Alt)).
		trace(?a, ?b) :- del(), add(item(?a, ?b)).
		goals(method(T1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	if solutions != nil {
		t.Fatalf("expected null, got %s", planner.ToStringSolutions(solutions))
	}
}

// allOf concatenates all resolutions into one group that succeeds together.
func TestPlanner_AllOfConcatenates(t *testing.T) {
	program := `
		IsTrue(Test1). Alternative(A1). Alternative(A2).
		method(?V) :- allOf, if(IsTrue(?V), Alternative(?Alt)), do(trace(?V, M, ?Alt)).
		trace(?a, ?b, ?c) :- del(), add(item(?a, ?b, ?c)).
		goals(method(Test1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions, "[ { (trace(Test1,M,A1), trace(Test1,M,A2)) } ]")
}

// allOf fails as a group when any instance fails.
func TestPlanner_AllOfFailsAsGroup(t *testing.T) {
	program := `
		IsTrue(Test1). Alternative(A1). Alternative(A2).
		IsTrue(Test1, A1).
		method(?V) :- allOf, if(IsTrue(?V), Alternative(?Alt)), do(sub(?V, ?Alt)).
		sub(?V, ?Alt) :- if(IsTrue(?V, ?Alt)), do(trace(?V, ?Alt)).
		trace(?a, ?b) :- del(), add(item(?a, ?b)).
		goals(method(Test1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	if solutions != nil {
		t.Fatalf("expected null, got %s", planner.ToStringSolutions(solutions))
	}
}

// Tasks surrounding a method keep left-to-right operator order.
func TestPlanner_OperatorOrdering(t *testing.T) {
	program := `
		IsTrue(Test1). Alternative(A1). Alternative(A2).
		method(?V) :- allOf, if(IsTrue(?V), Alternative(?Alt)), do(trace(?V, M, ?Alt)).
		trace(?a, ?b, ?c) :- del(), add(item(?a, ?b, ?c)).
		goals(trace(F, F1, F2), method(Test1), trace(F3, F4, F5)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions,
		"[ { (trace(F,F1,F2), trace(Test1,M,A1), trace(Test1,M,A2), trace(F3,F4,F5)) } ]")
}

// Hidden operators mutate state but are filtered from the plan.
func TestPlanner_HiddenOperator(t *testing.T) {
	program := `
		stock(ore).
		refine(?x) :- if(stock(?x)), do(consume(?x), produce(metal)).
		consume(?x) :- hidden, del(stock(?x)), add().
		produce(?x) :- del(), add(stock(?x)).
		goals(refine(ore)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions, "[ { (produce(metal)) } ]")
	w.wantFacts(solutions, "[ { stock(metal) =>  } ]")
}

// An operator whose unification is not ground fails the node.
func TestPlanner_OperatorRequiresGrounding(t *testing.T) {
	program := `
		trace(?x) :- del(), add(item(?x)).
		goals(trace(?Unbound)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	if solutions != nil {
		t.Fatalf("expected null, got %s", planner.ToStringSolutions(solutions))
	}
}

// Arithmetic subterms in tasks are evaluated before dispatch.
func TestPlanner_TaskArithmeticResolved(t *testing.T) {
	program := `
		travel(?d) :- del(), add(went(?d)).
		goals(travel(-(1, 2))).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions, "[ { (travel(-1)) } ]")
	w.wantFacts(solutions, "[ { went(-1) =>  } ]")
}

// parallel() emits begin/end markers into the plan and nothing else.
func TestPlanner_ParallelMarkers(t *testing.T) {
	program := `
		trace(?x) :- del(), add(item(?x)).
		goals(parallel(trace(a), trace(b))).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	w.wantPlans(solutions, "[ { (beginParallel(0), trace(a), trace(b), endParallel(0)) } ]")
	w.wantFacts(solutions, "[ { item(a) => ,item(b) =>  } ]")
}

// E6: the memory budget cuts the search short and latches the factory flag.
func TestPlanner_MemoryBudget(t *testing.T) {
	program := `
		gen(?Cur, ?Top, ?Cur) :- =<(?Cur, ?Top).
		gen(?Cur, ?Top, ?Next) :- =<(?Cur, ?Top), is(?Cur1, +(?Cur, 1)), gen(?Cur1, ?Top, ?Next).
		method(?V) :- if(gen(0, 10000, ?S)), do(trace(?S)).
		trace(?x) :- del(), add(item(?x)).
		goals(method(Test)).
	`
	w := newWorld(t, program)
	_, ps := w.findAllPlans(200_000)
	if !w.factory.OutOfMemory() {
		t.Fatal("out-of-memory flag must be set after blowing the budget")
	}
	if ps.HighestMemoryUsed() <= 0 {
		t.Fatal("high-water memory must be tracked")
	}
}

// The only method's condition fails: null plan plus failure diagnostics.
func TestPlanner_NoSolutionDiagnostics(t *testing.T) {
	program := `
		at(home).
		travel(?to) :- if(route(home, ?to)), do(walk(?to)).
		walk(?to) :- del(), add(at(?to)).
		goals(travel(work)).
	`
	w := newWorld(t, program)
	solutions, ps := w.findAllPlans(0)
	if solutions != nil {
		t.Fatalf("expected null, got %s", planner.ToStringSolutions(solutions))
	}
	depth, _, _ := ps.DeepestFailure()
	if depth < 1 {
		t.Fatalf("deepest failure depth = %d, want >= 1", depth)
	}
	// The failed condition is recorded on the tree.
	failed := false
	for _, node := range ps.DecompositionTree() {
		if node.IsFailed && node.FailedConditionIndex == 0 && node.FailedConditionTerm != nil {
			failed = true
		}
	}
	if !failed {
		t.Fatal("the failing condition must be recorded in the decomposition tree")
	}
}

// Replaying a solution's operator sequence against the initial state
// reproduces the reported final state.
func TestPlanner_SolutionReplayInvariant(t *testing.T) {
	program := `
		at(home). fuel(full).
		go(?from, ?to) :- if(at(?from)), do(drive(?from, ?to)).
		drive(?from, ?to) :- del(at(?from)), add(at(?to)).
		goals(go(home, work), go(work, beach)).
	`
	w := newWorld(t, program)
	initial := w.state.CreateCopy()
	solutions, _ := w.findAllPlans(0)
	if len(solutions) != 1 {
		t.Fatalf("expected one solution, got %s", planner.ToStringSolutions(solutions))
	}

	replay := initial.CreateCopy()
	for _, opHead := range solutions[0].Operators {
		op, ok := w.dom.Operator(opHead.Name())
		if !ok {
			t.Fatalf("plan references unknown operator %s", opHead)
		}
		mgu := unify.Unify(w.factory, opHead, op.Head())
		if mgu == nil || !unify.IsGround(mgu) {
			t.Fatalf("plan operator %s must ground against its definition", opHead)
		}
		replay.Update(
			unify.SubstituteAll(w.factory, mgu, op.Deletions()),
			unify.SubstituteAll(w.factory, mgu, op.Additions()))
	}
	if replay.ToStringFacts() != solutions[0].FinalState.ToStringFacts() {
		t.Fatalf("replayed facts %q != reported facts %q",
			replay.ToStringFacts(), solutions[0].FinalState.ToStringFacts())
	}
}

// Every operator node in a solution tree carries a ground task.
func TestPlanner_TreeOperatorTasksGround(t *testing.T) {
	program := `
		IsTrue(Test1). Alternative(A1). Alternative(A2).
		method(?V) :- if(IsTrue(?V), Alternative(?Alt)), do(trace(?V, M, ?Alt)).
		trace(?a, ?b, ?c) :- del(), add(item(?a, ?b, ?c)).
		goals(method(Test1)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	for _, sol := range solutions {
		for _, node := range sol.DecompositionTree {
			if node.IsOperator && strings.Contains(node.TaskName, "?") {
				t.Fatalf("operator tree node %q is not ground", node.TaskName)
			}
		}
	}
}

// The abort flag produces a partial return and refuses to continue.
func TestPlanner_Abort(t *testing.T) {
	program := `
		trace(?x) :- del(), add(item(?x)).
		goals(trace(a)).
	`
	w := newWorld(t, program)
	p := planner.NewPlanner(w.dom)
	p.Abort()
	ps := p.NewPlanState(w.factory, w.state, w.goals, 0)
	sol := p.FindNextPlan(ps)
	if sol == nil {
		t.Fatal("abort returns a partial solution, not nil")
	}
	if len(sol.Operators) != 0 {
		t.Fatalf("partial solution before any work must be empty, got %s", sol)
	}
}

func TestPlanner_FindPlanReturnsFirstOnly(t *testing.T) {
	program := `
		IsTrue(Test1). Alternative(A1). Alternative(A2).
		method(?V) :- if(IsTrue(?V), Alternative(?Alt)), do(trace(?V, ?Alt)).
		trace(?a, ?b) :- del(), add(item(?a, ?b)).
		goals(method(Test1)).
	`
	w := newWorld(t, program)
	p := planner.NewPlanner(w.dom)
	sol := p.FindPlan(w.factory, w.state, w.goals, 0)
	if sol == nil || sol.String() != "(trace(Test1,A1))" {
		t.Fatalf("FindPlan = %s, want (trace(Test1,A1))", sol)
	}
}

func TestSolution_JSONOutputs(t *testing.T) {
	program := `
		trace(?x) :- del(), add(item(?x)).
		goals(trace(a)).
	`
	w := newWorld(t, program)
	solutions, _ := w.findAllPlans(0)
	if got := solutions[0].PlanJSON(); got != `["trace(a)"]` {
		t.Errorf("PlanJSON = %s", got)
	}
	tree := solutions[0].TreeJSON()
	for _, key := range []string{`"treeNodeID"`, `"parentNodeID"`, `"taskName"`, `"operatorSignature"`, `"isOperator":true`, `"solutionID":0`} {
		if !strings.Contains(tree, key) {
			t.Errorf("TreeJSON missing %s: %s", key, tree)
		}
	}
}
