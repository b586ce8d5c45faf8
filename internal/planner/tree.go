package planner

import (
	"strconv"
	"strings"

	"github.com/cory-johannsen/htn/internal/domain"
	"github.com/cory-johannsen/htn/internal/term"
	"github.com/cory-johannsen/htn/internal/unify"
)

// VarBinding is one variable-to-value pair rendered for callers.
type VarBinding struct {
	Var   string
	Value string
}

// TreeNode is one entry of the decomposition tree: the structured record of
// a task the search visited, successful or not. ParentNodeID refers to the
// parent's TreeNodeID, -1 for the root.
type TreeNode struct {
	TreeNodeID        int
	NodeID            int
	ParentNodeID      int
	ChildNodeIDs      []int
	TaskName          string
	MethodSignature   string
	OperatorSignature string
	Unifiers          []VarBinding
	ConditionBindings []VarBinding
	IsOperator        bool
	IsSuccess         bool
	IsFailed          bool
	FailureReason     string
	SolutionID        int
	MethodIndex       int
	ConditionTerms    []*term.Term
	FailedConditionIndex int
	FailedConditionTerm  *term.Term
}

// ToJSON renders the node with the wire keys callers consume. String fields
// escape quote, backslash, newline, carriage return, and tab.
func (n *TreeNode) ToJSON() string {
	var b strings.Builder
	b.WriteString(`{"treeNodeID":`)
	b.WriteString(strconv.Itoa(n.TreeNodeID))
	b.WriteString(`,"nodeID":`)
	b.WriteString(strconv.Itoa(n.NodeID))
	b.WriteString(`,"parentNodeID":`)
	b.WriteString(strconv.Itoa(n.ParentNodeID))
	b.WriteString(`,"childNodeIDs":[`)
	for i, id := range n.ChildNodeIDs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(id))
	}
	b.WriteString(`],"taskName":"`)
	b.WriteString(term.EscapeJSON(n.TaskName))
	b.WriteString(`","methodSignature":"`)
	b.WriteString(term.EscapeJSON(n.MethodSignature))
	b.WriteString(`","operatorSignature":"`)
	b.WriteString(term.EscapeJSON(n.OperatorSignature))
	b.WriteString(`","unifiers":[`)
	writeBindingsJSON(&b, n.Unifiers)
	b.WriteString(`],"conditionBindings":[`)
	writeBindingsJSON(&b, n.ConditionBindings)
	b.WriteString(`],"isOperator":`)
	b.WriteString(strconv.FormatBool(n.IsOperator))
	b.WriteString(`,"isSuccess":`)
	b.WriteString(strconv.FormatBool(n.IsSuccess))
	b.WriteString(`,"isFailed":`)
	b.WriteString(strconv.FormatBool(n.IsFailed))
	b.WriteString(`,"failureReason":"`)
	b.WriteString(term.EscapeJSON(n.FailureReason))
	b.WriteString(`","solutionID":`)
	b.WriteString(strconv.Itoa(n.SolutionID))
	b.WriteString(`,"methodIndex":`)
	b.WriteString(strconv.Itoa(n.MethodIndex))
	b.WriteString(`,"conditionTerms":[`)
	for i, t := range n.ConditionTerms {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t.ToJSON())
	}
	b.WriteString(`],"failedConditionIndex":`)
	b.WriteString(strconv.Itoa(n.FailedConditionIndex))
	b.WriteString(`,"failedConditionTerm":`)
	if n.FailedConditionTerm == nil {
		b.WriteString("null")
	} else {
		b.WriteString(n.FailedConditionTerm.ToJSON())
	}
	b.WriteByte('}')
	return b.String()
}

func writeBindingsJSON(b *strings.Builder, bindings []VarBinding) {
	for i, binding := range bindings {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(`{"`)
		b.WriteString(term.EscapeJSON(binding.Var))
		b.WriteString(`":"`)
		b.WriteString(term.EscapeJSON(binding.Value))
		b.WriteString(`"}`)
	}
}

// TreeToJSON renders a tree slice as a JSON array.
func TreeToJSON(nodes []*TreeNode) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, n := range nodes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(n.ToJSON())
	}
	b.WriteByte(']')
	return b.String()
}

// decompTree is the append-only record of the search. It survives stack
// unwinding; entries are identified by treeNodeID and parented by the
// nearest real ancestor, skipping bookkeeping frames.
type decompTree struct {
	nodes          []*TreeNode
	byTreeID       map[int]int // treeNodeID -> index in nodes
	lastTreeNodeID map[int]int // PlanNode nodeID -> most recent treeNodeID
	// bookkeepingParents maps a bookkeeping task's PlanNode to the real
	// ancestor the next real task should parent to.
	bookkeepingParents map[int]int
	nextTreeNodeID     int
	currentSolutionID  int
}

func newDecompTree() *decompTree {
	return &decompTree{
		byTreeID:           make(map[int]int),
		lastTreeNodeID:     make(map[int]int),
		bookkeepingParents: make(map[int]int),
	}
}

func (dt *decompTree) recordRoot(nodeID int, taskName string) {
	root := &TreeNode{
		TreeNodeID:           dt.nextTreeNodeID,
		NodeID:               nodeID,
		ParentNodeID:         -1,
		TaskName:             taskName,
		SolutionID:           -1,
		MethodIndex:          -1,
		FailedConditionIndex: -1,
	}
	dt.nextTreeNodeID++
	dt.byTreeID[root.TreeNodeID] = 0
	dt.lastTreeNodeID[nodeID] = root.TreeNodeID
	dt.nodes = append(dt.nodes, root)
}

func (dt *decompTree) treeNodeForPlanNode(nodeID int) int {
	if id, ok := dt.lastTreeNodeID[nodeID]; ok {
		return id
	}
	return -1
}

func (dt *decompTree) nodeByTreeID(treeNodeID int) *TreeNode {
	if idx, ok := dt.byTreeID[treeNodeID]; ok {
		return dt.nodes[idx]
	}
	return nil
}

var bookkeepingTasks = map[string]struct{}{
	"tryEnd": {}, "methodScopeEnd": {}, "countAnyOf": {},
	"failIfNoneOf": {}, "beginParallel": {}, "endParallel": {},
}

// determineParent finds the PlanNode whose tree entry should parent the
// current task: the top sibling scope when one is open, otherwise the
// previous stack frame, walking up through bookkeeping frames until a real
// tree node is found.
func (dt *decompTree) determineParent(ps *PlanState, node *planNode) int {
	var parent int
	if len(node.siblingStack) > 0 {
		parent = node.siblingStack[len(node.siblingStack)-1].parentNodeID
	} else if len(ps.stack) > 1 {
		parent = ps.stack[len(ps.stack)-2].nodeID
	} else {
		return -1
	}
	for {
		if _, ok := dt.lastTreeNodeID[parent]; ok {
			return parent
		}
		next, ok := dt.bookkeepingParents[parent]
		if !ok {
			return parent
		}
		parent = next
	}
}

// createNodeForTask records a tree entry for the node's current task.
// Bookkeeping tasks get no entry; instead the node is mapped to its real
// ancestor so later tasks can still find a tree parent. A node processing
// several tasks in sequence (try failure paths) gets one entry per distinct
// task.
func (dt *decompTree) createNodeForTask(ps *PlanState, node *planNode) {
	if node.task == nil {
		return
	}
	if _, bookkeeping := bookkeepingTasks[node.task.Name()]; bookkeeping {
		dt.bookkeepingParents[node.nodeID] = dt.determineParent(ps, node)
		return
	}

	taskName := node.task.String()
	if existing, ok := dt.lastTreeNodeID[node.nodeID]; ok {
		if prior := dt.nodeByTreeID(existing); prior != nil && prior.TaskName == taskName {
			return
		}
	}

	parentPlanNodeID := dt.determineParent(ps, node)
	parentTreeNodeID := -1
	if parentPlanNodeID != -1 {
		parentTreeNodeID = dt.treeNodeForPlanNode(parentPlanNodeID)
	}

	entry := &TreeNode{
		TreeNodeID:           dt.nextTreeNodeID,
		NodeID:               node.nodeID,
		ParentNodeID:         parentTreeNodeID,
		TaskName:             taskName,
		SolutionID:           -1,
		MethodIndex:          -1,
		FailedConditionIndex: -1,
	}
	dt.nextTreeNodeID++
	dt.byTreeID[entry.TreeNodeID] = len(dt.nodes)
	dt.lastTreeNodeID[node.nodeID] = entry.TreeNodeID
	dt.nodes = append(dt.nodes, entry)

	if parent := dt.nodeByTreeID(parentTreeNodeID); parent != nil {
		parent.ChildNodeIDs = append(parent.ChildNodeIDs, entry.TreeNodeID)
	}
}

func (dt *decompTree) currentEntry(nodeID int) *TreeNode {
	return dt.nodeByTreeID(dt.treeNodeForPlanNode(nodeID))
}

// recordMethodChoice overwrites the node's method attribution; earlier
// attempts' bindings are cleared so the entry reflects the latest method.
func (dt *decompTree) recordMethodChoice(nodeID int, m *domain.Method, unifier unify.Bindings) {
	entry := dt.currentEntry(nodeID)
	if entry == nil {
		return
	}
	entry.MethodSignature = m.String()
	entry.IsOperator = false
	entry.MethodIndex = m.DocumentOrder()
	entry.ConditionTerms = m.Condition()
	entry.FailedConditionIndex = -1
	entry.FailedConditionTerm = nil
	entry.Unifiers = toVarBindings(unifier)
	entry.ConditionBindings = nil
}

func (dt *decompTree) recordConditionBindings(nodeID int, condition unify.Bindings) {
	entry := dt.currentEntry(nodeID)
	if entry == nil {
		return
	}
	entry.ConditionBindings = append(entry.ConditionBindings, toVarBindings(condition)...)
}

func (dt *decompTree) recordOperator(nodeID int, op *domain.Operator, unifier unify.Bindings) {
	entry := dt.currentEntry(nodeID)
	if entry == nil {
		return
	}
	entry.OperatorSignature = op.Head().String()
	entry.IsOperator = true
	entry.Unifiers = append(entry.Unifiers, toVarBindings(unifier)...)
}

func (dt *decompTree) markNodeFailed(nodeID int, reason string, failedIndex int, failedTerm *term.Term) {
	entry := dt.currentEntry(nodeID)
	if entry == nil {
		return
	}
	entry.IsFailed = true
	entry.FailureReason = reason
	entry.FailedConditionIndex = failedIndex
	entry.FailedConditionTerm = failedTerm
}

// markPathSuccess marks the path from the leaf to the root as successful and
// stamps it with the next solution id.
func (dt *decompTree) markPathSuccess(ps *PlanState, leafNodeID int) {
	current := dt.treeNodeForPlanNode(leafNodeID)
	// The leaf may be a bookkeeping-only node: walk to a real ancestor.
	for current == -1 && leafNodeID >= 0 {
		if parent, ok := dt.bookkeepingParents[leafNodeID]; ok {
			leafNodeID = parent
			current = dt.treeNodeForPlanNode(leafNodeID)
			continue
		}
		found := false
		for i := len(ps.stack) - 1; i > 0; i-- {
			if ps.stack[i].nodeID == leafNodeID {
				leafNodeID = ps.stack[i-1].nodeID
				current = dt.treeNodeForPlanNode(leafNodeID)
				found = true
				break
			}
		}
		if !found {
			break
		}
	}

	for current >= 0 {
		entry := dt.nodeByTreeID(current)
		if entry == nil {
			break
		}
		entry.IsSuccess = true
		// First solution wins the tag: slices of distinct solutions must
		// never share a treeNodeID, so shared ancestors stay with the
		// solution that claimed them first.
		if entry.SolutionID == -1 {
			entry.SolutionID = dt.currentSolutionID
		}
		dt.markDescendantsSuccess(entry)
		current = entry.ParentNodeID
	}
	dt.currentSolutionID++
}

// markDescendantsSuccess stamps the descendants explored during this
// solution so they land in its tree slice. Branches a try() or anyOf
// tolerated keep isFailed authoritative: only non-failed descendants are
// marked successful.
func (dt *decompTree) markDescendantsSuccess(entry *TreeNode) {
	for _, childID := range entry.ChildNodeIDs {
		child := dt.nodeByTreeID(childID)
		if child == nil {
			continue
		}
		if !child.IsFailed {
			child.IsSuccess = true
		}
		if child.SolutionID == -1 {
			child.SolutionID = dt.currentSolutionID
		}
		dt.markDescendantsSuccess(child)
	}
}

// solutionSlice returns the tree entries stamped with the given solution id.
func (dt *decompTree) solutionSlice(solutionID int) []*TreeNode {
	var out []*TreeNode
	for _, n := range dt.nodes {
		if n.SolutionID == solutionID {
			out = append(out, n)
		}
	}
	return out
}

func toVarBindings(b unify.Bindings) []VarBinding {
	if len(b) == 0 {
		return nil
	}
	out := make([]VarBinding, len(b))
	for i, binding := range b {
		out[i] = VarBinding{Var: binding.Var.String(), Value: binding.Value.String()}
	}
	return out
}
