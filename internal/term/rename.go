package term

import "strconv"

// RenameVariables returns t with every variable renamed into the given scope,
// so clause invocations in different scopes can never capture each other's
// variables. A variable X becomes "<scope>*X". Don't-care variables ("_")
// get a fresh name per occurrence and therefore never co-refer.
//
// seen carries the original-name to renamed-term mapping across the head and
// tail of a rule so the same variable renames consistently within one clause.
// dontCareCount is shared for the same reason.
func (t *Term) RenameVariables(f *Factory, scope string, seen map[string]*Term, dontCareCount *int) *Term {
	switch {
	case t.ttype == TypeVariable:
		if t.name == "_" {
			*dontCareCount++
			return f.Variable(scope + string(ScopeSeparator) + "_" + strconv.Itoa(*dontCareCount))
		}
		if renamed, ok := seen[t.name]; ok {
			return renamed
		}
		renamed := f.Variable(scope + string(ScopeSeparator) + t.name)
		seen[t.name] = renamed
		return renamed
	case t.ground || len(t.args) == 0:
		return t
	default:
		changed := false
		newArgs := make([]*Term, len(t.args))
		for i, arg := range t.args {
			newArgs[i] = arg.RenameVariables(f, scope, seen, dontCareCount)
			if newArgs[i] != arg {
				changed = true
			}
		}
		if !changed {
			return t
		}
		return f.CompoundFromSlice(t.name, newArgs)
	}
}

// OriginalName strips the scope tag from a renamed variable name, returning
// the name as it appeared in source.
func OriginalName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == ScopeSeparator {
			return name[i+1:]
		}
	}
	return name
}
