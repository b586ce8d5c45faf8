// Package planner implements the iterative, explicit-stack HTN search.
//
// Each stack frame (plan node) resolves exactly one task; children are
// created by pushing a new frame, and a per-node continuation point directs
// execution when a child returns. Plans can recurse arbitrarily deeply, so no
// Go call stack is used for the search itself; the only bound is the caller's
// memory budget.
package planner

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/htn/internal/domain"
	"github.com/cory-johannsen/htn/internal/resolver"
	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/term"
	"github.com/cory-johannsen/htn/internal/unify"
)

// DefaultMemoryBudget bounds a search when the caller does not supply one.
const DefaultMemoryBudget = 5_000_000

// Planner decomposes goal tasks against a Domain, calling into the resolver
// for method conditions.
//
// Invariant: domain must not be nil. A Planner may be shared across searches
// but each PlanState is single-goroutine; only Abort is safe to call from
// another goroutine.
type Planner struct {
	domain   *domain.Domain
	resolver *resolver.Resolver
	logger   *zap.Logger
	abort    atomic.Bool
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the trace logger used for memory warnings and plan traces.
func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithResolver replaces the condition resolver, e.g. to inject an output
// sink for write/1 in method conditions.
func WithResolver(r *resolver.Resolver) Option {
	return func(p *Planner) { p.resolver = r }
}

// NewPlanner constructs a Planner over the given domain.
//
// Precondition: d must not be nil.
func NewPlanner(d *domain.Domain, opts ...Option) *Planner {
	if d == nil {
		panic("planner.NewPlanner: domain must not be nil")
	}
	p := &Planner{
		domain:   d,
		resolver: resolver.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Abort requests a clean partial return. Safe to call from another
// goroutine; the flag is checked once per dispatch iteration.
func (p *Planner) Abort() { p.abort.Store(true) }

// ResetAbort clears a previously requested abort so the Planner can be
// reused.
func (p *Planner) ResetAbort() { p.abort.Store(false) }

// FindPlan returns the first plan for the goals, or nil when there is none.
// Callers must check factory.OutOfMemory afterward: a partial solution is
// returned when the budget is exceeded mid-search.
func (p *Planner) FindPlan(factory *term.Factory, initialState *ruleset.RuleSet, goals []*term.Term, memoryBudget int64) *Solution {
	ps := p.NewPlanState(factory, initialState, goals, memoryBudget)
	return p.FindNextPlan(ps)
}

// FindAllPlans returns every plan in search order, or nil when there are
// none. On an out-of-memory break the plans found so far are returned and
// the factory's out-of-memory flag is set; the caller must consult it.
func (p *Planner) FindAllPlans(factory *term.Factory, initialState *ruleset.RuleSet, goals []*term.Term, memoryBudget int64) ([]*Solution, *PlanState) {
	ps := p.NewPlanState(factory, initialState, goals, memoryBudget)
	var solutions []*Solution
	for {
		next := p.FindNextPlan(ps)
		if next == nil {
			break
		}
		solutions = append(solutions, next)
		if factory.OutOfMemory() {
			// The budget blew while finding that solution; the caller
			// decides whether to keep the partial result.
			break
		}
	}
	return solutions, ps
}

// NewPlanState prepares a resumable search with this planner's logger
// attached.
func (p *Planner) NewPlanState(factory *term.Factory, initialState *ruleset.RuleSet, goals []*term.Term, memoryBudget int64) *PlanState {
	if memoryBudget <= 0 {
		memoryBudget = DefaultMemoryBudget
	}
	ps := NewPlanState(factory, initialState, goals, memoryBudget)
	ps.logger = p.logger
	return ps
}

// FindNextPlan resumes the search and returns the next solution, or nil when
// the space is exhausted. After returning a solution the stack is positioned
// so the next call backtracks and continues.
func (p *Planner) FindNextPlan(ps *PlanState) *Solution {
	ps.startTime = time.Now()
	for len(ps.stack) > 0 {
		node := ps.top()
		point := node.continuePoint
		if p.abort.Load() {
			point = cpAbort
		}

		switch point {
		case cpFail:
			panic("planner: re-entered a terminal plan node")

		case cpAbort:
			p.logger.Debug("planner aborted, returning partial solution")
			node.continuePoint = cpFail
			return p.solutionFromCurrentNode(ps, node)

		case cpOutOfMemory:
			// Set when a push detected the budget was exceeded, or when the
			// resolver tripped the factory's out-of-memory flag.
			p.logger.Debug("planner out of memory",
				zap.Int64("current", ps.dynamicSize()),
				zap.Int64("budget", ps.memoryBudget))
			ps.factory.SetOutOfMemory()
			node.continuePoint = cpFail
			return p.solutionFromCurrentNode(ps, node)

		case cpNextTask:
			node.setNodeTask()
			if node.task == nil {
				// No tasks remain: this leaf is a solution.
				ps.tree.markPathSuccess(ps, node.nodeID)
				p.ret(ps, true)
				return p.solutionFromCurrentNode(ps, node)
			}
			node.task = node.task.ResolveArithmetic(ps.factory)
			ps.tree.createNodeForTask(ps, node)
			if p.checkForOperator(ps, node) {
				continue
			}
			if p.checkForSpecialTask(ps, node) {
				continue
			}
			node.unifiedMethods = p.findAllMethodsThatUnify(ps, node.task)
			if len(node.unifiedMethods) == 0 {
				p.logger.Debug("no methods unify", zap.String("task", node.task.String()))
				p.ret(ps, false)
				continue
			}
			node.continuePoint = cpNextMethodThatApplies

		case cpNextMethodThatApplies:
			p.nextMethodThatApplies(ps, node)

		case cpNextNormalMethodCondition:
			p.nextNormalMethodCondition(ps, node)

		case cpReturnFromNextNormalMethodCondition:
			if ps.returnValue {
				node.methodHadSolution = true
			}
			node.continuePoint = cpNextNormalMethodCondition

		case cpReturnFromCheckForOperator:
			// Operators have no alternatives; pass the child's result up.
			p.ret(ps, ps.returnValue)

		case cpReturnFromHandleTryTerm:
			if !ps.returnValue && node.retry {
				// The try() block failed before tryEnd: discard it and
				// continue with the remaining tasks on this node.
				node.popSiblingScopeIfMatches(node.nodeID)
				node.continuePoint = cpNextTask
				continue
			}
			p.ret(ps, ps.returnValue)

		case cpReturnFromSetOfConditions:
			if ps.returnValue {
				node.methodHadSolution = true
			}
			node.continuePoint = cpNextMethodThatApplies
		}
	}
	return nil
}

// ret pops the current node and stores the boolean result for the parent's
// continuation point.
func (p *Planner) ret(ps *PlanState, returnValue bool) {
	ps.stack = ps.stack[:len(ps.stack)-1]
	ps.returnValue = returnValue
}

// findAllMethodsThatUnify returns the candidate methods for the task in
// document order, paired with their head unifiers.
func (p *Planner) findAllMethodsThatUnify(ps *PlanState, task *term.Term) []methodChoice {
	var found []methodChoice
	for _, m := range p.domain.MethodsForTask(task) {
		if mgu := unify.Unify(ps.factory, m.Head(), task); mgu != nil {
			found = append(found, methodChoice{method: m, unifier: mgu})
		}
	}
	return found
}

// checkForOperator handles the task when it names a registered operator:
// the MGU with the operator head must be ground, the state is mutated in
// place, and search continues on a non-backtrackable child.
func (p *Planner) checkForOperator(ps *PlanState, node *planNode) bool {
	op, ok := p.domain.Operator(node.task.Name())
	if !ok {
		return false
	}
	mgu := unify.Unify(ps.factory, node.task, op.Head())
	if mgu == nil || !unify.IsGround(mgu) {
		reason := fmt.Sprintf("Operator did not unify: %s with %s", op.Head(), node.task)
		p.logger.Debug("operator failed to ground",
			zap.String("operator", op.Head().String()),
			zap.String("task", node.task.String()))
		ps.tree.markNodeFailed(node.nodeID, reason, -1, nil)
		p.ret(ps, false)
		return true
	}

	substituted := unify.Substitute(ps.factory, mgu, op.Head())
	dels := unify.SubstituteAll(ps.factory, mgu, op.Deletions())
	adds := unify.SubstituteAll(ps.factory, mgu, op.Additions())

	// Operators have no alternatives to backtrack over, so the state is
	// updated directly without a copy.
	node.state.Update(dels, adds)
	if !op.IsHidden() {
		if node.operators == nil {
			node.operators = &opList{}
		}
		node.operators.add(substituted)
	}
	ps.tree.recordOperator(node.nodeID, op, mgu)
	node.searchNextNode(ps, cpReturnFromCheckForOperator)
	return true
}

// checkForSpecialTask handles the reserved control tasks.
func (p *Planner) checkForSpecialTask(ps *PlanState, node *planNode) bool {
	switch node.task.Name() {
	case "try":
		// try() pushes a backtrackable child so a failing block can be
		// discarded. tryEnd(id) clears the retry bit when the block's tasks
		// all resolved.
		tasks := make([]*term.Term, 0, node.task.Arity()+1)
		tasks = append(tasks, node.task.Args()...)
		tasks = append(tasks, ps.factory.Compound("tryEnd", ps.factory.Int(int64(node.nodeID))))
		node.searchNextNodeBacktrackable(ps, tasks, cpReturnFromHandleTryTerm)
		node.retry = true
		return true

	case "tryEnd":
		id := int(node.task.Args()[0].Int64())
		ps.findNodeWithID(id).retry = false
		node.popSiblingScopeIfMatches(id)
		node.continuePoint = cpNextTask
		return true

	case "methodScopeEnd":
		node.popSiblingScopeIfMatches(int(node.task.Args()[0].Int64()))
		node.continuePoint = cpNextTask
		return true

	case "countAnyOf":
		id := int(node.task.Args()[0].Int64())
		ps.findNodeWithID(id).tryAnyOfSuccessCount++
		node.continuePoint = cpNextTask
		return true

	case "failIfNoneOf":
		id := int(node.task.Args()[0].Int64())
		if ps.findNodeWithID(id).tryAnyOfSuccessCount == 0 {
			p.logger.Debug("anyOf had zero solutions")
			p.ret(ps, false)
		} else {
			node.continuePoint = cpNextTask
		}
		return true

	case "parallel":
		// parallel(t1..tk) expands in place to beginParallel, t1..tk,
		// endParallel. The markers carry no semantics in the core; a
		// post-processor reads them out of the plan.
		scopeID := ps.factory.Int(int64(node.nodeID))
		expanded := make([]*term.Term, 0, node.task.Arity()+2+len(node.tasks))
		expanded = append(expanded, ps.factory.Compound("beginParallel", scopeID))
		expanded = append(expanded, node.task.Args()...)
		expanded = append(expanded, ps.factory.Compound("endParallel", scopeID))
		expanded = append(expanded, node.tasks...)
		node.tasks = expanded
		node.continuePoint = cpNextTask
		return true

	case "beginParallel", "endParallel":
		if node.operators == nil {
			node.operators = &opList{}
		}
		node.operators.add(node.task)
		node.continuePoint = cpNextTask
		return true
	}
	return false
}

// nextMethodThatApplies advances to the next candidate method and resolves
// its condition, dispatching on the method type.
func (p *Planner) nextMethodThatApplies(ps *PlanState, node *planNode) {
	node.setNextMethodThatUnifies()

	// Skip contiguous else methods once an earlier method in the group found
	// a solution, then clear the flag so if/else groups can interleave.
	if node.methodHadSolution {
		node.atLeastOneMethodHadSolution = true
		for node.method.method != nil && node.method.method.IsDefault() {
			p.logger.Debug("skipping else method", zap.String("method", node.method.method.String()))
			node.setNextMethodThatUnifies()
		}
		node.methodHadSolution = false
	}

	if node.method.method == nil {
		p.ret(ps, node.atLeastOneMethodHadSolution)
		return
	}

	m := node.method.method
	ps.tree.recordMethodChoice(node.nodeID, m, node.method.unifier)

	var substituted []*term.Term
	failureIndex := -1
	var failureContext []*term.Term
	if len(m.Condition()) == 0 {
		// Empty condition: one solution with the empty unifier.
		node.conditionResolutions = []unify.Bindings{{}}
		node.conditionsResolved = true
	} else {
		substituted = unify.SubstituteAll(ps.factory, node.method.unifier, m.Condition())
		currentMemory := ps.dynamicSize()
		remaining := ps.memoryBudget - currentMemory
		if remaining < 1 {
			// Already over budget: any allocation in the resolver trips it.
			remaining = 1
		}
		result := p.resolver.ResolveAll(ps.factory, node.state, substituted, len(ps.stack)+1, remaining)
		ps.checkHighestMemory(currentMemory+result.MemoryUsed, "resolver", result.MemoryUsed)
		if ps.factory.OutOfMemory() {
			node.continuePoint = cpOutOfMemory
			return
		}
		node.conditionResolutions = result.Solutions
		node.conditionsResolved = result.Solutions != nil
		failureIndex = result.FurthestFailureIndex
		failureContext = result.FailureContext
	}

	if !node.conditionsResolved {
		// Condition has no solutions: report and try the next method.
		reason := "Condition failed: " + term.ToString(substituted)
		var failedTerm *term.Term
		if failureIndex >= 0 && failureIndex < len(substituted) {
			failedTerm = substituted[failureIndex]
		}
		ps.tree.markNodeFailed(node.nodeID, reason, failureIndex, failedTerm)
		ps.recordFailure(failureIndex, failureContext)
		node.continuePoint = cpNextMethodThatApplies
		return
	}

	switch m.Type() {
	case domain.Normal:
		node.continuePoint = cpNextNormalMethodCondition
	case domain.AnySetOf:
		p.handleAnyOf(ps, node)
	case domain.AllSetOf:
		p.handleAllOf(ps, node)
	default:
		panic("planner: unknown method type")
	}
}

// nextNormalMethodCondition treats each condition unifier as a separate
// alternative solution: substitute head then condition bindings into the
// subtasks and push a backtrackable child.
func (p *Planner) nextNormalMethodCondition(ps *PlanState, node *planNode) {
	node.conditionIndex++
	condition, ok := node.condition()
	if !ok {
		node.continuePoint = cpNextMethodThatApplies
		return
	}
	ps.tree.recordConditionBindings(node.nodeID, condition)
	subtasks := p.boundSubtasks(ps, node, condition)
	node.searchNextNodeBacktrackable(ps, subtasks, cpReturnFromNextNormalMethodCondition)
}

// boundSubtasks applies the method head unifier, then the condition unifier,
// to the method's subtasks.
func (p *Planner) boundSubtasks(ps *PlanState, node *planNode, condition unify.Bindings) []*term.Term {
	headBound := unify.SubstituteAll(ps.factory, node.method.unifier, node.method.method.Subtasks())
	return unify.SubstituteAll(ps.factory, condition, headBound)
}

// handleAllOf concatenates the subtasks of every condition resolution into
// one group; depth-first search already requires every task in the list to
// succeed, which is exactly allOf semantics.
func (p *Planner) handleAllOf(ps *PlanState, node *planNode) {
	var combined []*term.Term
	for _, condition := range node.conditionResolutions {
		combined = append(combined, p.boundSubtasks(ps, node, condition)...)
	}
	node.searchNextNodeBacktrackable(ps, combined, cpReturnFromSetOfConditions)
}

// handleAnyOf wraps each condition resolution's subtasks in try(...,
// countAnyOf(id)) and appends failIfNoneOf(id), so the group succeeds iff at
// least one block survives.
func (p *Planner) handleAnyOf(ps *PlanState, node *planNode) {
	anyOfID := ps.factory.Int(int64(ps.nextNodeID))
	var combined []*term.Term
	for _, condition := range node.conditionResolutions {
		block := p.boundSubtasks(ps, node, condition)
		block = append(block, ps.factory.Compound("countAnyOf", anyOfID))
		combined = append(combined, ps.factory.CompoundFromSlice("try", block))
	}
	combined = append(combined, ps.factory.Compound("failIfNoneOf", anyOfID))
	node.tryAnyOfSuccessCount = 0
	node.searchNextNodeBacktrackable(ps, combined, cpReturnFromSetOfConditions)
}

// solutionFromCurrentNode assembles a Solution from a leaf (or a partial
// result on abort/out-of-memory).
func (p *Planner) solutionFromCurrentNode(ps *PlanState, node *planNode) *Solution {
	s := &Solution{
		FinalState:        node.state,
		HighestMemoryUsed: ps.highestMem,
		Elapsed:           time.Since(ps.startTime),
	}
	if node.operators != nil {
		s.Operators = append(s.Operators, node.operators.items...)
	}
	s.DecompositionTree = ps.tree.solutionSlice(ps.tree.currentSolutionID - 1)
	return s
}
