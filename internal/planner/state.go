package planner

import (
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/term"
)

// highNodeMemoryWarning is the per-node allocation delta that triggers a
// warning log: 1 MiB.
const highNodeMemoryWarning = 1 << 20

// PlanState is the resumable context of one planning search. FindNextPlan
// updates it so repeated calls yield successive solutions.
//
// Invariant: a PlanState is confined to one goroutine; only the owning
// Planner's abort flag may be touched from outside.
type PlanState struct {
	factory      *term.Factory
	initialState *ruleset.RuleSet
	stack        []*planNode
	nextNodeID   int
	returnValue  bool
	memoryBudget int64
	highestMem   int64
	startTime    time.Time
	logger       *zap.Logger

	deepestTaskFailure      int
	furthestCriteriaFailure int
	furthestFailureContext  []*term.Term

	tree *decompTree
}

// NewPlanState prepares a search over the initial goals. The first node owns
// the initial RuleSet and the full goal list.
func NewPlanState(factory *term.Factory, initialState *ruleset.RuleSet, goals []*term.Term, memoryBudget int64) *PlanState {
	ps := &PlanState{
		factory:                 factory,
		initialState:            initialState,
		memoryBudget:            memoryBudget,
		deepestTaskFailure:      -1,
		furthestCriteriaFailure: -1,
		logger:                  zap.NewNop(),
		tree:                    newDecompTree(),
	}
	tasks := make([]*term.Term, len(goals))
	copy(tasks, goals)
	root := newPlanNode(ps.takeNodeID(), initialState, tasks, nil)
	ps.stack = append(ps.stack, root)
	rootTask := ""
	if len(goals) > 0 {
		rootTask = goals[0].String()
	}
	ps.tree.recordRoot(root.nodeID, rootTask)
	return ps
}

// HighestMemoryUsed returns the high-water mark across all dynamic size
// samples taken so far.
func (ps *PlanState) HighestMemoryUsed() int64 { return ps.highestMem }

// DeepestFailure returns the deepest failure diagnostics: stack depth,
// condition index, and the failureContext terms recorded there.
func (ps *PlanState) DeepestFailure() (int, int, []*term.Term) {
	return ps.deepestTaskFailure, ps.furthestCriteriaFailure, ps.furthestFailureContext
}

// DecompositionTree returns the full tree accumulated so far, including
// failed branches.
func (ps *PlanState) DecompositionTree() []*TreeNode { return ps.tree.nodes }

func (ps *PlanState) takeNodeID() int {
	id := ps.nextNodeID
	ps.nextNodeID++
	return id
}

func (ps *PlanState) top() *planNode {
	return ps.stack[len(ps.stack)-1]
}

// findNodeWithID locates a node on the stack by id. The id always refers to
// a live frame; a miss is an internal error.
func (ps *PlanState) findNodeWithID(id int) *planNode {
	for i := len(ps.stack) - 1; i >= 0; i-- {
		if ps.stack[i].nodeID == id {
			return ps.stack[i]
		}
	}
	panic("planner: no stack node with id")
}

// dynamicSize samples the approximate total memory of the search: shared
// rules, all interned terms, failure context, and every stack frame.
func (ps *PlanState) dynamicSize() int64 {
	var stackSize int64
	for _, node := range ps.stack {
		stackSize += node.dynamicSize()
	}
	current := int64(256) +
		ps.initialState.DynamicSharedSize() +
		ps.factory.DynamicSize() +
		int64(8*len(ps.furthestFailureContext)) +
		int64(8*len(ps.stack)) + stackSize
	ps.checkHighestMemory(current, "stackSize", stackSize)
	return current
}

func (ps *PlanState) checkHighestMemory(current int64, extraName string, extraSize int64) {
	if current > ps.highestMem {
		ps.highestMem = current
		ps.logger.Debug("planner high-water memory",
			zap.Int64("total", current),
			zap.String("component", extraName),
			zap.Int64("componentSize", extraSize),
			zap.Int64("termStrings", ps.factory.StringSize()),
			zap.Int64("termOther", ps.factory.OtherAllocationSize()),
			zap.Int64("sharedRules", ps.initialState.DynamicSharedSize()))
	}
}

// recordFailure keeps the failure that happened deepest in the task stack,
// breaking ties by the furthest condition index.
func (ps *PlanState) recordFailure(furthestCriteriaFailure int, context []*term.Term) {
	depth := len(ps.stack)
	if (depth == ps.deepestTaskFailure && furthestCriteriaFailure > ps.furthestCriteriaFailure) ||
		depth > ps.deepestTaskFailure {
		ps.deepestTaskFailure = depth
		ps.furthestCriteriaFailure = furthestCriteriaFailure
		ps.furthestFailureContext = context
	}
}

// searchNextNode pushes a child that continues with the same task queue and
// shares this node's state and operator list. Used after operators, which
// have no alternatives to backtrack over.
func (n *planNode) searchNextNode(ps *PlanState, returnPoint continuePoint) {
	child := newPlanNode(ps.takeNodeID(), n.state, n.tasks, n.operators)

	if outOfMemoryAtNodePush(ps, n, child) {
		child.continuePoint = cpOutOfMemory
	}
	ps.stack = append(ps.stack, child)

	child.siblingStack = append([]siblingScope(nil), n.siblingStack...)
	child.popExhaustedSiblingScopes()
	child.decrementSiblingScope()

	n.continuePoint = returnPoint
}

// searchNextNodeBacktrackable pushes a child with an independent RuleSet copy
// and operator list, prepending additionalTasks to the remaining queue. A
// methodScopeEnd marker closes the new sibling scope before the outer tasks.
func (n *planNode) searchNextNodeBacktrackable(ps *PlanState, additionalTasks []*term.Term, returnPoint continuePoint) {
	merged := make([]*term.Term, 0, len(additionalTasks)+len(n.tasks)+1)
	merged = append(merged, additionalTasks...)
	if len(additionalTasks) > 0 && len(n.tasks) > 0 {
		merged = append(merged, ps.factory.Compound("methodScopeEnd", ps.factory.Int(int64(n.nodeID))))
	}
	merged = append(merged, n.tasks...)

	child := newPlanNode(ps.takeNodeID(), n.state.CreateCopy(), merged, n.operators.copyList())

	child.siblingStack = append([]siblingScope(nil), n.siblingStack...)
	child.popExhaustedSiblingScopes()
	if len(additionalTasks) > 0 {
		// New scope: the first subtask consumes its slot implicitly.
		child.siblingStack = append(child.siblingStack, siblingScope{parentNodeID: n.nodeID, remaining: len(additionalTasks) - 1})
	} else if len(merged) > 0 {
		// Empty do() continuing with outer tasks.
		child.decrementSiblingScope()
	}

	if outOfMemoryAtNodePush(ps, n, child) {
		child.continuePoint = cpOutOfMemory
	}
	ps.stack = append(ps.stack, child)

	n.continuePoint = returnPoint
}

// outOfMemoryAtNodePush samples total memory at the push, warns when one node
// allocated more than a megabyte, and reports whether the budget is blown.
func outOfMemoryAtNodePush(ps *PlanState, parent *planNode, child *planNode) bool {
	child.totalMemoryAtNodePush = ps.dynamicSize()
	delta := child.totalMemoryAtNodePush - parent.totalMemoryAtNodePush
	if delta > highNodeMemoryWarning {
		ps.logger.Warn("planner high node memory",
			zap.Int64("delta", delta),
			zap.Int64("parentSize", parent.dynamicSize()),
			zap.Int64("total", child.totalMemoryAtNodePush),
			zap.Int64("termStrings", ps.factory.StringSize()),
			zap.Int64("termOther", ps.factory.OtherAllocationSize()))
	}
	return ps.memoryBudget > 0 && child.totalMemoryAtNodePush > ps.memoryBudget
}
