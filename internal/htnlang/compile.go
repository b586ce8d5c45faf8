package htnlang

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cory-johannsen/htn/internal/domain"
	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/term"
)

// Compiler turns parsed clauses into rules, goals, and (when a Domain is
// attached) methods and operators. Methods and operators are ordinary Prolog
// rules interpreted specially, so the surface syntax stays uniform:
//
//	head :- [else|allOf|anyOf,] if(cond...), do(task...).   method
//	head :- [hidden,] del(fact...), add(fact...).           operator
//	goals(task...).                                         goal list
//
// Everything else becomes a rule or fact in the RuleSet.
type Compiler struct {
	factory *term.Factory
	state   *ruleset.RuleSet
	dom     *domain.Domain
	goals   []*term.Term
}

// NewPrologCompiler compiles everything as rules and goals, with no HTN
// interpretation.
func NewPrologCompiler(f *term.Factory, state *ruleset.RuleSet) *Compiler {
	return &Compiler{factory: f, state: state}
}

// NewHtnCompiler compiles if/do and del/add rules into the domain and
// everything else into the RuleSet.
func NewHtnCompiler(f *term.Factory, state *ruleset.RuleSet, dom *domain.Domain) *Compiler {
	return &Compiler{factory: f, state: state, dom: dom}
}

// Goals returns the accumulated goals( ... ) task lists in document order.
func (c *Compiler) Goals() []*term.Term { return c.goals }

// RuleSet returns the compiler-owned state.
func (c *Compiler) RuleSet() *ruleset.RuleSet { return c.state }

// Clear resets the compiler's state, goals, and domain so the same instance
// can compile a fresh program.
func (c *Compiler) Clear() {
	c.state.ClearAll()
	c.goals = nil
	if c.dom != nil {
		c.dom.Clear()
	}
}

// Compile parses src and loads every clause.
func (c *Compiler) Compile(src string) error {
	clauses, err := ParseDocument(c.factory, src)
	if err != nil {
		return err
	}
	for _, clause := range clauses {
		if err := c.loadClause(clause); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) loadClause(clause *Clause) error {
	if clause.Head.Name() == "goals" && len(clause.Body) == 0 {
		c.goals = append(c.goals, clause.Head.Args()...)
		return nil
	}
	if c.dom != nil {
		handled, err := c.loadHtnClause(clause)
		if err != nil || handled {
			return err
		}
	}
	c.state.AddRule(clause.Head, clause.Body)
	return nil
}

// loadHtnClause recognizes the method and operator shapes inside a rule body
// and registers them with the domain. Returns false when the clause is a
// plain rule.
func (c *Compiler) loadHtnClause(clause *Clause) (bool, error) {
	methodType := domain.Normal
	isDefault := false
	hidden := false
	var condition *term.Term
	var del *term.Term
	for _, item := range clause.Body {
		switch {
		case item.IsConstant() && item.Name() == "else":
			isDefault = true
		case item.IsConstant() && item.Name() == "allOf":
			methodType = domain.AllSetOf
		case item.IsConstant() && item.Name() == "anyOf":
			methodType = domain.AnySetOf
		case item.IsConstant() && item.Name() == "hidden":
			hidden = true
		case item.Name() == "if":
			if condition != nil {
				return false, fmt.Errorf("htnlang: method %s has two if() clauses", clause.Head)
			}
			condition = item
		case item.Name() == "do":
			if condition == nil {
				return false, fmt.Errorf("htnlang: method %s has do() without if()", clause.Head)
			}
			_, err := c.dom.AddMethod(clause.Head, condition.Args(), item.Args(), methodType, isDefault)
			return true, err
		case item.Name() == "del":
			if del != nil || methodType != domain.Normal || isDefault || condition != nil {
				return false, fmt.Errorf("htnlang: malformed operator %s", clause.Head)
			}
			del = item
		case item.Name() == "add":
			if del == nil || methodType != domain.Normal || isDefault || condition != nil {
				return false, fmt.Errorf("htnlang: operator %s has add() without del()", clause.Head)
			}
			_, err := c.dom.AddOperator(clause.Head, item.Args(), del.Args(), hidden)
			return true, err
		}
	}
	return false, nil
}

// CheckErrors lints the compiled domain: method subtask loops not declared
// safe with loopSafe(name, arity) facts, and subtasks that are neither a
// method, an operator, nor declared with declareTask(name, arity). Returns
// the warnings sorted for stable output.
func (c *Compiler) CheckErrors() []string {
	if c.dom == nil {
		return nil
	}
	warnings := make(map[string]struct{})
	c.dom.AllMethods(func(m *domain.Method) bool {
		stack := []string{taskID(m.Head())}
		c.checkMethodForLoop(m, stack, warnings)
		return true
	})
	out := make([]string, 0, len(warnings))
	for w := range warnings {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func taskID(head *term.Term) string {
	return head.Name() + "/" + strconv.Itoa(head.Arity())
}

func (c *Compiler) checkMethodForLoop(m *domain.Method, stack []string, warnings map[string]struct{}) {
	for _, possible := range m.Subtasks() {
		subtasks := []*term.Term{possible}
		if possible.Name() == "try" {
			subtasks = possible.Args()
		}
		for _, subtask := range subtasks {
			c.checkSubtask(subtask, stack, warnings)
		}
	}
}

func (c *Compiler) checkSubtask(subtask *term.Term, stack []string, warnings map[string]struct{}) {
	id := taskID(subtask)
	foundTask := false
	c.dom.AllMethods(func(candidate *domain.Method) bool {
		if !candidate.Head().IsEquivalentCompound(subtask) {
			return true
		}
		foundTask = true
		for _, onStack := range stack {
			if onStack == id {
				safe := c.factory.ConstantCompound("loopSafe", subtask.Name(), strconv.Itoa(subtask.Arity()))
				if !c.state.HasFact(safe) {
					warnings["Task Loop: "+id] = struct{}{}
				}
				return false
			}
		}
		c.checkMethodForLoop(candidate, append(stack, id), warnings)
		return true
	})
	if foundTask {
		return
	}
	if _, isOp := c.dom.Operator(subtask.Name()); isOp {
		return
	}
	declared := c.factory.ConstantCompound("declareTask", subtask.Name(), strconv.Itoa(subtask.Arity()))
	if !c.state.HasFact(declared) {
		warnings["Task Not Found: "+id] = struct{}{}
	}
}
