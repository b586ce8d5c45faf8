package term

import (
	"strconv"
	"strings"
)

// ScopeSeparator joins a renaming scope tag to a variable's original name,
// as in "orig*X" or "3*Tail".
const ScopeSeparator = '*'

const termOverheadBytes = 64 // struct header + interning entry, approximate

// Factory interns terms by structural identity and accounts for the dynamic
// memory they consume.
//
// Invariant: a Factory is confined to a single goroutine; the planner and
// resolver share one Factory per PlanState.
type Factory struct {
	interned    map[string]*Term
	nextID      uint64
	stringBytes int64
	otherBytes  int64
	outOfMemory bool

	renameScope int

	trueTerm      *Term
	falseTerm     *Term
	emptyListTerm *Term
}

// NextScope returns a factory-unique renaming scope tag. Monotonic across
// all resolutions sharing this factory, so a freshly renamed clause variable
// is always newer (higher term ID) than the query variables it binds to;
// the unifier's canonical direction then keeps query variables on the left.
func (f *Factory) NextScope() string {
	f.renameScope++
	return strconv.Itoa(f.renameScope)
}

// NewFactory creates an empty Factory with the true, false, and [] constants
// pre-interned.
func NewFactory() *Factory {
	f := &Factory{interned: make(map[string]*Term)}
	f.trueTerm = f.Atom("true")
	f.falseTerm = f.Atom("false")
	f.emptyListTerm = f.Atom(EmptyListName)
	return f
}

// True returns the interned true constant.
func (f *Factory) True() *Term { return f.trueTerm }

// False returns the interned false constant.
func (f *Factory) False() *Term { return f.falseTerm }

// EmptyList returns the interned [] constant.
func (f *Factory) EmptyList() *Term { return f.emptyListTerm }

// OutOfMemory reports whether a memory budget was exceeded during planning or
// resolution. Once set, FindNextPlan refuses to continue.
func (f *Factory) OutOfMemory() bool { return f.outOfMemory }

// SetOutOfMemory latches the out-of-memory flag.
func (f *Factory) SetOutOfMemory() { f.outOfMemory = true }

// DynamicSize returns the approximate bytes held by all interned terms.
func (f *Factory) DynamicSize() int64 { return f.stringBytes + f.otherBytes }

// StringSize returns the bytes attributed to term names.
func (f *Factory) StringSize() int64 { return f.stringBytes }

// OtherAllocationSize returns the bytes attributed to term structure.
func (f *Factory) OtherAllocationSize() int64 { return f.otherBytes }

// Atom interns a constant. The term's type is inferred from the lexical form
// of name: integer, float, or atom.
//
// Precondition: name must be non-empty.
func (f *Factory) Atom(name string) *Term {
	return f.intern(name, nil, inferConstantType(name))
}

// Variable interns a variable with the given name (no "?" prefix).
//
// Precondition: name must be non-empty.
func (f *Factory) Variable(name string) *Term {
	return f.intern(name, nil, TypeVariable)
}

// Compound interns a functor with at least one argument.
//
// Precondition: len(args) >= 1; all args produced by this Factory.
func (f *Factory) Compound(name string, args ...*Term) *Term {
	if len(args) == 0 {
		return f.Atom(name)
	}
	return f.intern(name, args, TypeCompound)
}

// CompoundFromSlice is Compound without the variadic copy, for hot paths that
// already hold a slice the factory may retain.
func (f *Factory) CompoundFromSlice(name string, args []*Term) *Term {
	if len(args) == 0 {
		return f.Atom(name)
	}
	return f.intern(name, args, TypeCompound)
}

// ConstantCompound interns a functor whose arguments are all constants named
// by args.
func (f *Factory) ConstantCompound(name string, args ...string) *Term {
	terms := make([]*Term, len(args))
	for i, a := range args {
		terms[i] = f.Atom(a)
	}
	return f.CompoundFromSlice(name, terms)
}

// Int interns an integer constant.
func (f *Factory) Int(v int64) *Term { return f.Atom(strconv.FormatInt(v, 10)) }

// Float interns a float constant using the canonical nine-digit form.
func (f *Factory) Float(v float64) *Term {
	return f.Atom(strconv.FormatFloat(v, 'f', 9, 64))
}

// List builds the ./2 chain for the given items terminated by [].
func (f *Factory) List(items ...*Term) *Term {
	return f.ListWithTail(items, f.emptyListTerm)
}

// ListWithTail builds the ./2 chain for items ending in tail.
func (f *Factory) ListWithTail(items []*Term, tail *Term) *Term {
	result := tail
	for i := len(items) - 1; i >= 0; i-- {
		result = f.Compound(ConsName, items[i], result)
	}
	return result
}

// ListItems flattens a ./2 chain into its items. The second return is the
// final tail: [] for a proper list, a variable or other term otherwise.
func ListItems(t *Term) ([]*Term, *Term) {
	var items []*Term
	cur := t
	for cur.IsCons() {
		items = append(items, cur.args[0])
		cur = cur.args[1]
	}
	return items, cur
}

func (f *Factory) intern(name string, args []*Term, ttype Type) *Term {
	var key strings.Builder
	key.Grow(len(name) + 2 + len(args)*8)
	if ttype == TypeVariable {
		key.WriteByte('?')
	}
	key.WriteString(name)
	for _, arg := range args {
		key.WriteByte(0)
		key.WriteString(strconv.FormatUint(arg.id, 36))
	}
	k := key.String()
	if existing, ok := f.interned[k]; ok {
		return existing
	}

	ground := ttype != TypeVariable
	var size int64 = termOverheadBytes + int64(len(name)) + int64(8*len(args))
	for _, arg := range args {
		if !arg.ground {
			ground = false
		}
	}
	f.nextID++
	t := &Term{
		id:     f.nextID,
		name:   name,
		args:   args,
		ttype:  ttype,
		ground: ground,
		op:     arithOpFor(name, len(args)),
		size:   size,
	}
	f.interned[k] = t
	f.stringBytes += int64(len(name))
	f.otherBytes += size - int64(len(name))
	return t
}

func inferConstantType(name string) Type {
	if len(name) == 0 {
		return TypeAtom
	}
	i := 0
	if name[0] == '+' || name[0] == '-' {
		i = 1
		if len(name) == 1 {
			return TypeAtom
		}
	}
	digits := 0
	dots := 0
	for ; i < len(name); i++ {
		switch {
		case name[i] >= '0' && name[i] <= '9':
			digits++
		case name[i] == '.':
			dots++
		default:
			return TypeAtom
		}
	}
	switch {
	case digits == 0:
		return TypeAtom
	case dots == 0:
		return TypeInt
	case dots == 1:
		return TypeFloat
	default:
		return TypeAtom
	}
}
