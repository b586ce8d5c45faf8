// Package term implements the immutable, interned term model shared by the
// resolver and the planner.
//
// Terms are constructed only through a Factory, which interns them by
// structural identity: two terms built from the same name and the same
// interned arguments are the same pointer and compare equal in O(1).
package term

import (
	"sort"
	"strconv"
	"strings"
)

// Type classifies a term by its lexical and structural form.
type Type int

const (
	// TypeAtom is a 0-arity symbol that is not numeric.
	TypeAtom Type = iota
	// TypeInt is a 0-arity symbol whose name parses as an integer.
	TypeInt
	// TypeFloat is a 0-arity symbol whose name parses as a float.
	TypeFloat
	// TypeVariable is an unbound name.
	TypeVariable
	// TypeCompound is a functor with one or more arguments.
	TypeCompound
)

// Reserved constant names for the list sugar: the empty list and the cons
// functor used by [H|T].
const (
	EmptyListName = "[]"
	ConsName      = "."
)

// Term is a variable, a constant, or a compound term.
//
// Invariant: Terms are immutable after construction and unique per Factory,
// so pointer equality is structural equality.
type Term struct {
	id     uint64
	name   string
	args   []*Term
	ttype  Type
	ground bool
	op     ArithOp
	size   int64
}

// ID returns the stable factory-unique identifier.
func (t *Term) ID() uint64 { return t.id }

// Name returns the functor, constant, or variable name.
func (t *Term) Name() string { return t.name }

// Args returns the argument list. Callers must not mutate it.
func (t *Term) Args() []*Term { return t.args }

// Arity returns the number of arguments.
func (t *Term) Arity() int { return len(t.args) }

// TermType returns the term's classification.
func (t *Term) TermType() Type { return t.ttype }

// IsVariable reports whether the term is an unbound variable.
func (t *Term) IsVariable() bool { return t.ttype == TypeVariable }

// IsConstant reports whether the term is a 0-arity non-variable.
func (t *Term) IsConstant() bool {
	return t.ttype == TypeAtom || t.ttype == TypeInt || t.ttype == TypeFloat
}

// IsCompound reports whether the term has arguments.
func (t *Term) IsCompound() bool { return t.ttype == TypeCompound }

// IsGround reports whether the term contains no variables. Computed once at
// construction.
func (t *Term) IsGround() bool { return t.ground }

// IsNumber reports whether the term is an integer or float constant.
func (t *Term) IsNumber() bool { return t.ttype == TypeInt || t.ttype == TypeFloat }

// IsEmptyList reports whether the term is the [] constant.
func (t *Term) IsEmptyList() bool { return len(t.args) == 0 && t.name == EmptyListName }

// IsCons reports whether the term is a ./2 list cell.
func (t *Term) IsCons() bool { return len(t.args) == 2 && t.name == ConsName }

// IsDontCare reports whether the term is a don't-care variable. Renamed
// don't-care variables keep the leading underscore after their scope tag.
func (t *Term) IsDontCare() bool {
	if t.ttype != TypeVariable {
		return false
	}
	name := t.name
	if i := strings.LastIndexByte(name, ScopeSeparator); i >= 0 {
		name = name[i+1:]
	}
	return strings.HasPrefix(name, "_")
}

// NameEqual reports whether two terms have the same name.
func (t *Term) NameEqual(other *Term) bool { return t.name == other.name }

// IsEquivalentCompound reports whether both terms share functor name and
// arity. Constants are equivalent only when their names match.
func (t *Term) IsEquivalentCompound(other *Term) bool {
	return t.name == other.name && len(t.args) == len(other.args)
}

// Int64 returns the integer value of an int constant.
//
// Precondition: t.TermType() == TypeInt.
func (t *Term) Int64() int64 {
	v, _ := strconv.ParseInt(t.name, 10, 64)
	return v
}

// Float64 returns the term's numeric value widened to float64.
//
// Precondition: t.IsNumber().
func (t *Term) Float64() float64 {
	v, _ := strconv.ParseFloat(t.name, 64)
	return v
}

// DynamicSize returns the approximate heap footprint of this term alone
// (shared arguments are counted once, by the factory).
func (t *Term) DynamicSize() int64 { return t.size }

// String renders the term in surface syntax: variables as ?Name, lists in
// bracket form, compounds as name(arg,...).
func (t *Term) String() string {
	var b strings.Builder
	t.writeString(&b)
	return b.String()
}

func (t *Term) writeString(b *strings.Builder) {
	switch {
	case t.ttype == TypeVariable:
		b.WriteByte('?')
		b.WriteString(t.name)
	case t.IsCons():
		b.WriteByte('[')
		t.writeListItems(b)
		b.WriteByte(']')
	case len(t.args) == 0:
		b.WriteString(t.name)
	default:
		b.WriteString(t.name)
		b.WriteByte('(')
		for i, arg := range t.args {
			if i > 0 {
				b.WriteByte(',')
			}
			arg.writeString(b)
		}
		b.WriteByte(')')
	}
}

func (t *Term) writeListItems(b *strings.Builder) {
	cur := t
	first := true
	for cur.IsCons() {
		if !first {
			b.WriteByte(',')
		}
		cur.args[0].writeString(b)
		first = false
		cur = cur.args[1]
	}
	if !cur.IsEmptyList() {
		b.WriteByte('|')
		cur.writeString(b)
	}
}

// ToJSON renders the term as structured JSON of the form {"name":[args...]},
// matching the wire format of the decomposition tree. Variables render with
// their ?-prefixed name as the key.
func (t *Term) ToJSON() string {
	var b strings.Builder
	t.writeJSON(&b)
	return b.String()
}

func (t *Term) writeJSON(b *strings.Builder) {
	b.WriteString(`{"`)
	if t.ttype == TypeVariable {
		b.WriteByte('?')
	}
	writeEscaped(b, t.name)
	b.WriteString(`":[`)
	for i, arg := range t.args {
		if i > 0 {
			b.WriteByte(',')
		}
		arg.writeJSON(b)
	}
	b.WriteString("]}")
}

func writeEscaped(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
}

// EscapeJSON escapes the characters the decomposition-tree JSON format
// requires: quote, backslash, newline, carriage return, and tab.
func EscapeJSON(s string) string {
	var b strings.Builder
	writeEscaped(&b, s)
	return b.String()
}

// ToString renders a term list as "a, b, c".
func ToString(terms []*Term) string {
	var b strings.Builder
	for i, t := range terms {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	return b.String()
}

// ToStringCompact renders a term list as "a,b,c" with no spaces, the form
// used inside method and operator signatures.
func ToStringCompact(terms []*Term) string {
	var b strings.Builder
	for i, t := range terms {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t.String())
	}
	return b.String()
}

// Compare orders two ground terms: numbers before atoms by value, atoms
// lexically, compounds by name, then arity, then arguments left to right.
// Used by sortBy and for canonical variable ordering.
func Compare(a, b *Term) int {
	if a == b {
		return 0
	}
	aNum, bNum := a.IsNumber(), b.IsNumber()
	switch {
	case aNum && bNum:
		av, bv := a.Float64(), b.Float64()
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case aNum:
		return -1
	case bNum:
		return 1
	}
	if c := strings.Compare(a.name, b.name); c != 0 {
		return c
	}
	if c := len(a.args) - len(b.args); c != 0 {
		return c
	}
	for i := range a.args {
		if c := Compare(a.args[i], b.args[i]); c != 0 {
			return c
		}
	}
	return 0
}

// SortTerms sorts terms in place using Compare.
func SortTerms(terms []*Term) {
	sort.SliceStable(terms, func(i, j int) bool { return Compare(terms[i], terms[j]) < 0 })
}
