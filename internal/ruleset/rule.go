// Package ruleset implements the mutable database of facts and rules the
// resolver and planner run against. Copies share the immutable base rules
// behind a lock and keep their own fact diff, so branch isolation is cheap
// and memory accounting can split shared from exclusive bytes.
package ruleset

import (
	"strings"

	"github.com/cory-johannsen/htn/internal/term"
)

// Rule is a head with an ordered list of body terms. A fact is a rule with
// an empty tail.
type Rule struct {
	head *term.Term
	tail []*term.Term
}

// NewRule builds a rule.
//
// Precondition: head must be non-nil.
func NewRule(head *term.Term, tail []*term.Term) *Rule {
	return &Rule{head: head, tail: tail}
}

// Head returns the rule head.
func (r *Rule) Head() *term.Term { return r.head }

// Tail returns the body terms. Callers must not mutate the slice.
func (r *Rule) Tail() []*term.Term { return r.tail }

// IsFact reports whether the rule has an empty tail.
func (r *Rule) IsFact() bool { return len(r.tail) == 0 }

// RenameVariables returns a copy of the rule with all variables renamed into
// the given scope. Head and tail share one renaming map so a variable used in
// both co-refers; don't-care variables are fresh per occurrence.
func (r *Rule) RenameVariables(f *term.Factory, scope string) *Rule {
	seen := make(map[string]*term.Term)
	dontCare := 0
	head := r.head.RenameVariables(f, scope, seen, &dontCare)
	var tail []*term.Term
	if len(r.tail) > 0 {
		tail = make([]*term.Term, len(r.tail))
		for i, t := range r.tail {
			tail[i] = t.RenameVariables(f, scope, seen, &dontCare)
		}
	}
	return &Rule{head: head, tail: tail}
}

// DynamicSize approximates the rule's heap footprint beyond its terms.
func (r *Rule) DynamicSize() int64 {
	return 32 + int64(8*len(r.tail))
}

// String renders the rule as "head => tail1, tail2".
func (r *Rule) String() string {
	var b strings.Builder
	b.WriteString(r.head.String())
	b.WriteString(" => ")
	for i, t := range r.tail {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	return b.String()
}

// StringProlog renders the rule in Prolog syntax: "head :- tail.".
func (r *Rule) StringProlog() string {
	var b strings.Builder
	b.WriteString(r.head.String())
	b.WriteString(" :- ")
	for i, t := range r.tail {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	b.WriteString(".")
	return b.String()
}
