package planner

import (
	"github.com/cory-johannsen/htn/internal/domain"
	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/term"
	"github.com/cory-johannsen/htn/internal/unify"
)

// continuePoint directs a plan node's execution when the scheduler re-enters
// it, including after a child returns.
type continuePoint int

const (
	cpFail continuePoint = iota
	cpNextTask
	cpReturnFromCheckForOperator
	cpNextMethodThatApplies
	cpNextNormalMethodCondition
	cpOutOfMemory
	cpReturnFromNextNormalMethodCondition
	cpReturnFromHandleTryTerm
	cpReturnFromSetOfConditions
	cpAbort
)

// methodChoice pairs a candidate method with the unifier of its head against
// the current task.
type methodChoice struct {
	method  *domain.Method
	unifier unify.Bindings
}

// siblingScope says the next `remaining` sibling tasks are tree-parented to
// parentNodeID.
type siblingScope struct {
	parentNodeID int
	remaining    int
}

// opList is the accumulated operator sequence. It is a pointer type because
// non-backtrackable children share their parent's list while backtrackable
// children copy it, mirroring the branch isolation of the RuleSet.
type opList struct {
	items []*term.Term
}

func (l *opList) add(t *term.Term) { l.items = append(l.items, t) }

func (l *opList) copyList() *opList {
	if l == nil {
		return nil
	}
	items := make([]*term.Term, len(l.items))
	copy(items, l.items)
	return &opList{items: items}
}

// planNode is one frame of the planner's explicit stack: it resolves exactly
// one task. All of its loop state lives here so no host-language recursion is
// needed.
type planNode struct {
	nodeID        int
	state         *ruleset.RuleSet
	tasks         []*term.Term
	task          *term.Term
	operators     *opList
	continuePoint continuePoint

	unifiedMethods       []methodChoice
	method               methodChoice
	conditionIndex       int
	conditionResolutions []unify.Bindings
	conditionsResolved   bool

	methodHadSolution           bool
	atLeastOneMethodHadSolution bool
	retry                       bool
	tryAnyOfSuccessCount        int
	totalMemoryAtNodePush       int64

	siblingStack []siblingScope
}

func newPlanNode(nodeID int, state *ruleset.RuleSet, tasks []*term.Term, operators *opList) *planNode {
	return &planNode{
		nodeID:         nodeID,
		state:          state,
		tasks:          tasks,
		operators:      operators,
		continuePoint:  cpNextTask,
		conditionIndex: -1,
	}
}

// setNodeTask pops the next task off the queue, or leaves task nil when the
// queue is empty (a leaf: a solution).
func (n *planNode) setNodeTask() {
	if len(n.tasks) > 0 {
		n.task = n.tasks[0]
		n.tasks = n.tasks[1:]
	} else {
		n.task = nil
	}
}

// setNextMethodThatUnifies advances to the next candidate method, resetting
// per-method condition state.
func (n *planNode) setNextMethodThatUnifies() {
	n.conditionIndex = -1
	n.conditionResolutions = nil
	n.conditionsResolved = false
	if len(n.unifiedMethods) == 0 {
		n.method = methodChoice{}
	} else {
		n.method = n.unifiedMethods[0]
		n.unifiedMethods = n.unifiedMethods[1:]
	}
}

// condition returns the current condition unifier, or nil when exhausted.
func (n *planNode) condition() (unify.Bindings, bool) {
	if n.conditionsResolved && n.conditionIndex < len(n.conditionResolutions) {
		return n.conditionResolutions[n.conditionIndex], true
	}
	return nil, false
}

// popSiblingScopeIfMatches pops the top sibling scope when it belongs to the
// given node, used by tryEnd and methodScopeEnd to close their scopes.
func (n *planNode) popSiblingScopeIfMatches(scopeNodeID int) {
	if len(n.siblingStack) > 0 && n.siblingStack[len(n.siblingStack)-1].parentNodeID == scopeNodeID {
		n.siblingStack = n.siblingStack[:len(n.siblingStack)-1]
	}
}

func (n *planNode) popExhaustedSiblingScopes() {
	for len(n.siblingStack) > 0 && n.siblingStack[len(n.siblingStack)-1].remaining == 0 {
		n.siblingStack = n.siblingStack[:len(n.siblingStack)-1]
	}
}

func (n *planNode) decrementSiblingScope() {
	if len(n.siblingStack) > 0 && n.siblingStack[len(n.siblingStack)-1].remaining > 0 {
		n.siblingStack[len(n.siblingStack)-1].remaining--
	}
}

// dynamicSize approximates this node's heap footprint, including the bytes
// exclusive to its RuleSet copy. Relatively expensive.
func (n *planNode) dynamicSize() int64 {
	var size int64 = 256
	for _, resolution := range n.conditionResolutions {
		size += resolution.DynamicSize()
	}
	for _, choice := range n.unifiedMethods {
		size += 16 + choice.unifier.DynamicSize()
	}
	size += n.method.unifier.DynamicSize()
	if n.operators != nil {
		size += int64(8 * len(n.operators.items))
	}
	size += n.state.DynamicSize()
	size += int64(8 * len(n.tasks))
	size += int64(16 * len(n.siblingStack))
	return size
}
