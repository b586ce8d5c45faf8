package planner

import (
	"strings"
	"time"

	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/term"
)

// Solution is one plan: the ordered, ground, hidden-filtered operator
// sequence, the world state it induces, timing and memory stats, and the
// decomposition-tree slice that produced it.
type Solution struct {
	Operators         []*term.Term
	FinalState        *ruleset.RuleSet
	Elapsed           time.Duration
	HighestMemoryUsed int64
	DecompositionTree []*TreeNode
}

// String renders the plan as "(op1, op2)"; a nil solution prints "null".
func (s *Solution) String() string {
	if s == nil {
		return "null"
	}
	var b strings.Builder
	b.WriteByte('(')
	for i, op := range s.Operators {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(op.String())
	}
	b.WriteByte(')')
	return b.String()
}

// PlanJSON renders the plan as a JSON array of operator-head strings.
func (s *Solution) PlanJSON() string {
	if s == nil {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, op := range s.Operators {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(term.EscapeJSON(op.String()))
		b.WriteByte('"')
	}
	b.WriteByte(']')
	return b.String()
}

// TreeJSON renders this solution's decomposition-tree slice.
func (s *Solution) TreeJSON() string {
	if s == nil {
		return "[]"
	}
	return TreeToJSON(s.DecompositionTree)
}

// ToStringSolutions renders a solution list as "[ { (plan) } ... ]" or
// "null" when there are none.
func ToStringSolutions(solutions []*Solution) string {
	if solutions == nil {
		return "null"
	}
	var b strings.Builder
	b.WriteString("[ ")
	for _, s := range solutions {
		b.WriteString("{ ")
		b.WriteString(s.String())
		b.WriteString(" } ")
	}
	b.WriteString("]")
	return b.String()
}

// ToStringFacts renders a solution list's final facts as "[ { facts } ... ]"
// or "null".
func ToStringFacts(solutions []*Solution) string {
	if solutions == nil {
		return "null"
	}
	var b strings.Builder
	b.WriteString("[ ")
	for _, s := range solutions {
		b.WriteString("{ ")
		b.WriteString(s.FinalState.ToStringFacts())
		b.WriteString(" } ")
	}
	b.WriteString("]")
	return b.String()
}
