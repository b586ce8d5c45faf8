// Package domain holds the immutable catalog of HTN methods and operators a
// planner runs against.
//
// Methods decompose compound tasks through a condition and subtasks;
// operators are primitive tasks that mutate world state through deletions and
// additions. Both are immutable after insertion.
package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cory-johannsen/htn/internal/term"
)

// MethodType selects how a method's condition resolutions are treated.
type MethodType int

const (
	// Normal treats every condition resolution as a separate alternative
	// solution.
	Normal MethodType = iota
	// AllSetOf concatenates the subtasks of all resolutions into one group
	// that must succeed together.
	AllSetOf
	// AnySetOf wraps each resolution's subtasks in try(); the group succeeds
	// when at least one survives.
	AnySetOf
)

func (t MethodType) String() string {
	switch t {
	case AllSetOf:
		return "allOf"
	case AnySetOf:
		return "anyOf"
	default:
		return "normal"
	}
}

// Method is one decomposition rule for a compound task.
//
// Invariant: immutable after AddMethod; documentOrder is unique per Domain
// and monotonically increasing.
type Method struct {
	head          *term.Term
	condition     []*term.Term
	subtasks      []*term.Term
	methodType    MethodType
	isDefault     bool
	documentOrder int
}

// Head returns the method's compound task head.
func (m *Method) Head() *term.Term { return m.head }

// Condition returns the condition conjunction. Callers must not mutate it.
func (m *Method) Condition() []*term.Term { return m.condition }

// Subtasks returns the ordered subtasks. Callers must not mutate them.
func (m *Method) Subtasks() []*term.Term { return m.subtasks }

// Type returns the method's set-of classification.
func (m *Method) Type() MethodType { return m.methodType }

// IsDefault reports whether this is an "else" method, tried only when the
// preceding contiguous group yielded no solution.
func (m *Method) IsDefault() bool { return m.isDefault }

// DocumentOrder returns the insertion index used to order alternatives.
func (m *Method) DocumentOrder() int { return m.documentOrder }

// String renders the method as "head => if(cond), do(tasks)".
func (m *Method) String() string {
	var b strings.Builder
	b.WriteString(m.head.String())
	b.WriteString(" => if(")
	b.WriteString(term.ToStringCompact(m.condition))
	b.WriteString("), do(")
	b.WriteString(term.ToStringCompact(m.subtasks))
	b.WriteString(")")
	return b.String()
}

// DynamicSize approximates the method's footprint beyond its terms.
func (m *Method) DynamicSize() int64 {
	return 64 + int64(8*(len(m.condition)+len(m.subtasks)))
}

// Operator is a primitive task: deletions then additions applied to the
// RuleSet. Hidden operators mutate state but are filtered from plans.
type Operator struct {
	head      *term.Term
	deletions []*term.Term
	additions []*term.Term
	hidden    bool
}

// Head returns the operator head.
func (o *Operator) Head() *term.Term { return o.head }

// Deletions returns the facts removed when the operator applies.
func (o *Operator) Deletions() []*term.Term { return o.deletions }

// Additions returns the facts added when the operator applies.
func (o *Operator) Additions() []*term.Term { return o.additions }

// IsHidden reports whether the operator is filtered from reported plans.
func (o *Operator) IsHidden() bool { return o.hidden }

// String renders the operator as "head => del(...), add(...)".
func (o *Operator) String() string {
	var b strings.Builder
	b.WriteString(o.head.String())
	b.WriteString(" => del(")
	b.WriteString(term.ToStringCompact(o.deletions))
	b.WriteString("), add(")
	b.WriteString(term.ToStringCompact(o.additions))
	b.WriteString(")")
	return b.String()
}

// DynamicSize approximates the operator's footprint beyond its terms.
func (o *Operator) DynamicSize() int64 {
	return 64 + int64(8*(len(o.deletions)+len(o.additions)))
}

type methodKey struct {
	name  string
	arity int
}

// Domain is the immutable catalog of methods and operators. Methods are
// looked up by head name and arity, operators by name alone.
//
// Invariant: two operators never share a name.
type Domain struct {
	methods       map[methodKey][]*Method
	operators     map[string]*Operator
	nextDocOrder  int
	dynamicSize   int64
	reservedNames map[string]struct{}
}

// reservedTaskNames are the planner's special tasks; a domain must not shadow
// them with methods or operators.
var reservedTaskNames = []string{
	"try", "tryEnd", "countAnyOf", "failIfNoneOf",
	"methodScopeEnd", "parallel", "beginParallel", "endParallel",
}

// New creates an empty Domain.
func New() *Domain {
	reserved := make(map[string]struct{}, len(reservedTaskNames))
	for _, name := range reservedTaskNames {
		reserved[name] = struct{}{}
	}
	return &Domain{
		methods:       make(map[methodKey][]*Method),
		operators:     make(map[string]*Operator),
		reservedNames: reserved,
	}
}

// AddMethod appends a method, assigning it the next document order.
//
// Precondition: head must be non-nil and must not use a reserved task name.
func (d *Domain) AddMethod(head *term.Term, condition, subtasks []*term.Term, methodType MethodType, isDefault bool) (*Method, error) {
	if head == nil {
		return nil, fmt.Errorf("domain.AddMethod: head must not be nil")
	}
	if _, reserved := d.reservedNames[head.Name()]; reserved {
		return nil, fmt.Errorf("domain.AddMethod: %q is a reserved task name", head.Name())
	}
	d.nextDocOrder++
	m := &Method{
		head:          head,
		condition:     condition,
		subtasks:      subtasks,
		methodType:    methodType,
		isDefault:     isDefault,
		documentOrder: d.nextDocOrder,
	}
	key := methodKey{head.Name(), head.Arity()}
	d.methods[key] = append(d.methods[key], m)
	d.dynamicSize += m.DynamicSize()
	return m, nil
}

// AddOperator registers an operator.
//
// Precondition: no operator with the same head name exists; duplicate names
// are rejected so exactly one operator is ever visible per name.
func (d *Domain) AddOperator(head *term.Term, additions, deletions []*term.Term, hidden bool) (*Operator, error) {
	if head == nil {
		return nil, fmt.Errorf("domain.AddOperator: head must not be nil")
	}
	if _, reserved := d.reservedNames[head.Name()]; reserved {
		return nil, fmt.Errorf("domain.AddOperator: %q is a reserved task name", head.Name())
	}
	if _, dup := d.operators[head.Name()]; dup {
		return nil, fmt.Errorf("domain.AddOperator: duplicate operator %q", head.Name())
	}
	op := &Operator{head: head, additions: additions, deletions: deletions, hidden: hidden}
	d.operators[head.Name()] = op
	d.dynamicSize += op.DynamicSize()
	return op, nil
}

// Operator returns the operator registered under name.
func (d *Domain) Operator(name string) (*Operator, bool) {
	op, ok := d.operators[name]
	return op, ok
}

// MethodsForTask returns the methods whose selector matches the task's name
// and arity, in document order.
func (d *Domain) MethodsForTask(task *term.Term) []*Method {
	return d.methods[methodKey{task.Name(), task.Arity()}]
}

// AllMethods iterates every method in document order until handler returns
// false.
func (d *Domain) AllMethods(handler func(*Method) bool) {
	all := make([]*Method, 0, d.nextDocOrder)
	for _, ms := range d.methods {
		all = append(all, ms...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].documentOrder < all[j].documentOrder })
	for _, m := range all {
		if !handler(m) {
			return
		}
	}
}

// AllOperators iterates every operator until handler returns false.
func (d *Domain) AllOperators(handler func(*Operator) bool) {
	names := make([]string, 0, len(d.operators))
	for name := range d.operators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !handler(d.operators[name]) {
			return
		}
	}
}

// Clear drops all methods and operators.
func (d *Domain) Clear() {
	d.methods = make(map[methodKey][]*Method)
	d.operators = make(map[string]*Operator)
	d.nextDocOrder = 0
	d.dynamicSize = 0
}

// DynamicSize approximates the catalog's footprint beyond its terms.
func (d *Domain) DynamicSize() int64 { return d.dynamicSize }

// HasMethod reports whether a method rendering exactly as
// "head => if(constraints), do(tasks)" exists. Intended for tests.
func (d *Domain) HasMethod(head, constraints, tasks string) bool {
	composed := head + " => if(" + constraints + "), do(" + tasks + ")"
	found := false
	d.AllMethods(func(m *Method) bool {
		if m.String() == composed {
			found = true
			return false
		}
		return true
	})
	return found
}

// HasOperator reports whether an operator rendering exactly as
// "head => del(deletions), add(additions)" exists. Intended for tests.
func (d *Domain) HasOperator(head, deletions, additions string) bool {
	name := head
	if i := strings.IndexByte(head, '('); i >= 0 {
		name = head[:i]
	}
	op, ok := d.operators[name]
	if !ok {
		return false
	}
	return op.String() == head+" => del("+deletions+"), add("+additions+")"
}
