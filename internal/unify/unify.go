// Package unify implements most-general unification over interned terms and
// the substitution machinery built on it.
package unify

import (
	"strings"

	"github.com/cory-johannsen/htn/internal/term"
)

// Binding maps one variable to a term.
type Binding struct {
	Var   *term.Term
	Value *term.Term
}

// Bindings is an ordered unifier. The empty unifier means "true"; a nil
// *Bindings result from Unify means "no solution".
type Bindings []Binding

// String renders the unifier as "(?X = a, ?Y = b)". The empty unifier is
// "()".
func (b Bindings) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, binding := range b {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(binding.Var.String())
		sb.WriteString(" = ")
		sb.WriteString(binding.Value.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// ToString renders a solution list the way the resolver reports it:
// "((?X = a), (?X = b))", or "null" for no solution.
func ToString(solutions []Bindings) string {
	if solutions == nil {
		return "null"
	}
	var sb strings.Builder
	sb.WriteByte('(')
	for i, s := range solutions {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(s.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// DynamicSize approximates the heap footprint of the unifier.
func (b Bindings) DynamicSize() int64 {
	return int64(len(b)) * 16
}

// Lookup returns the binding value for v, or nil.
func (b Bindings) Lookup(v *term.Term) *term.Term {
	for _, binding := range b {
		if binding.Var == v {
			return binding.Value
		}
	}
	return nil
}

// Unify computes the most-general unifier of a and b using the Robinson
// algorithm with an occurs check, or nil when the terms do not unify.
// A binding between two variables is normalized so the smaller term ID is
// bound to the larger, giving a stable canonical direction.
//
// Postcondition: Substitute(mgu, a) == Substitute(mgu, b) for any non-nil
// result.
func Unify(f *term.Factory, a, b *term.Term) Bindings {
	if a == nil || b == nil {
		return nil
	}
	mgu := Bindings{}
	type pending struct{ a, b *term.Term }
	work := []pending{{a, b}}
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]

		x := Substitute(f, mgu, p.a)
		y := Substitute(f, mgu, p.b)
		switch {
		case x == y:
			// Interned terms: pointer equality is structural equality.
		case x.IsVariable():
			if occurs(x, y) {
				return nil
			}
			mgu = compose(f, mgu, Binding{Var: x, Value: y})
		case y.IsVariable():
			if occurs(y, x) {
				return nil
			}
			mgu = compose(f, mgu, Binding{Var: y, Value: x})
		case x.IsConstant() || y.IsConstant():
			return nil
		case !x.IsEquivalentCompound(y):
			return nil
		default:
			args1, args2 := x.Args(), y.Args()
			for i := len(args1) - 1; i >= 0; i-- {
				work = append(work, pending{args1[i], args2[i]})
			}
		}
	}
	return mgu
}

// Compose extends an accumulated solution with a fresh MGU: the MGU is
// applied to the existing binding values, then its own bindings are appended.
//
// Precondition: mgu was computed from terms already carrying b's
// substitutions, so its values reference no variable bound in b.
func Compose(f *term.Factory, b Bindings, mgu Bindings) Bindings {
	if len(mgu) == 0 {
		return b
	}
	out := make(Bindings, 0, len(b)+len(mgu))
	for _, existing := range b {
		existing.Value = Substitute(f, mgu, existing.Value)
		out = append(out, existing)
	}
	return append(out, mgu...)
}

// compose applies the new binding to existing binding values and appends it,
// keeping the unifier idempotent. Variable-to-variable bindings are oriented
// by term ID so the direction is stable.
func compose(f *term.Factory, mgu Bindings, b Binding) Bindings {
	if b.Value.IsVariable() && b.Value.ID() < b.Var.ID() {
		b.Var, b.Value = b.Value, b.Var
	}
	single := Bindings{b}
	out := make(Bindings, 0, len(mgu)+1)
	for _, existing := range mgu {
		existing.Value = Substitute(f, single, existing.Value)
		out = append(out, existing)
	}
	return append(out, b)
}

func occurs(v, t *term.Term) bool {
	if t == v {
		return true
	}
	for _, arg := range t.Args() {
		if occurs(v, arg) {
			return true
		}
	}
	return false
}

// Substitute applies the unifier to t, following binding chains to a fixed
// point. Ground terms are returned unchanged.
func Substitute(f *term.Factory, b Bindings, t *term.Term) *term.Term {
	if t.IsGround() || len(b) == 0 {
		return t
	}
	if t.IsVariable() {
		if bound := b.Lookup(t); bound != nil {
			if bound == t {
				return t
			}
			return Substitute(f, b, bound)
		}
		return t
	}
	changed := false
	args := t.Args()
	newArgs := make([]*term.Term, len(args))
	for i, arg := range args {
		newArgs[i] = Substitute(f, b, arg)
		if newArgs[i] != arg {
			changed = true
		}
	}
	if !changed {
		return t
	}
	return f.CompoundFromSlice(t.Name(), newArgs)
}

// SubstituteAll applies the unifier to each term in the slice.
func SubstituteAll(f *term.Factory, b Bindings, terms []*term.Term) []*term.Term {
	out := make([]*term.Term, len(terms))
	for i, t := range terms {
		out[i] = Substitute(f, b, t)
	}
	return out
}

// IsGround reports whether every binding value in the unifier is ground.
// Operators require a ground unifier before they may mutate state.
func IsGround(b Bindings) bool {
	for _, binding := range b {
		if !binding.Value.IsGround() {
			return false
		}
	}
	return true
}
