package scripting

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/cory-johannsen/htn/internal/planner"
)

// RegisterModule installs the htn.* module into L:
//
//	htn.session()                      -> session id
//	htn.close(id)
//	htn.compile(id, src)               -> ok, err
//	htn.query(id, goals)               -> "null" or "((?X = a), ...)"
//	htn.findAllPlans(id [, goals])     -> array of plan strings, err
//	htn.solutionFacts(id, index)       -> facts string
//	htn.tree(id, index)                -> decomposition tree JSON
//
// Errors are returned as a second value, Lua-style, never raised.
func (m *Manager) RegisterModule(L *lua.LState) {
	mod := L.NewTable()
	L.SetGlobal("htn", mod)

	L.SetField(mod, "session", L.NewFunction(func(L *lua.LState) int {
		budget := int64(L.OptNumber(1, planner.DefaultMemoryBudget))
		s := m.CreateSession(budget)
		L.Push(lua.LString(s.ID))
		return 1
	}))

	L.SetField(mod, "close", L.NewFunction(func(L *lua.LState) int {
		m.CloseSession(L.CheckString(1))
		return 0
	}))

	L.SetField(mod, "compile", L.NewFunction(func(L *lua.LState) int {
		s, err := m.Session(L.CheckString(1))
		if err != nil {
			return pushErr(L, err)
		}
		if err := s.Compile(L.CheckString(2)); err != nil {
			return pushErr(L, err)
		}
		L.Push(lua.LTrue)
		return 1
	}))

	L.SetField(mod, "query", L.NewFunction(func(L *lua.LState) int {
		s, err := m.Session(L.CheckString(1))
		if err != nil {
			return pushErr(L, err)
		}
		result, err := s.Query(L.CheckString(2))
		if err != nil {
			return pushErr(L, err)
		}
		L.Push(lua.LString(result.String()))
		return 1
	}))

	L.SetField(mod, "findAllPlans", L.NewFunction(func(L *lua.LState) int {
		s, err := m.Session(L.CheckString(1))
		if err != nil {
			return pushErr(L, err)
		}
		solutions, err := s.FindAllPlans(L.OptString(2, ""))
		if err != nil {
			return pushErr(L, err)
		}
		plans := L.NewTable()
		for i, sol := range solutions {
			plans.RawSetInt(i+1, lua.LString(sol.String()))
		}
		L.Push(plans)
		return 1
	}))

	L.SetField(mod, "solutionFacts", L.NewFunction(func(L *lua.LState) int {
		sol, ok := m.solutionAt(L)
		if !ok {
			return 2
		}
		L.Push(lua.LString(sol.FinalState.ToStringFacts()))
		return 1
	}))

	L.SetField(mod, "tree", L.NewFunction(func(L *lua.LState) int {
		sol, ok := m.solutionAt(L)
		if !ok {
			return 2
		}
		L.Push(lua.LString(sol.TreeJSON()))
		return 1
	}))
}

// solutionAt reads (sessionID, index) arguments and resolves the cached
// solution; on failure it pushes nil+error and reports !ok.
func (m *Manager) solutionAt(L *lua.LState) (*planner.Solution, bool) {
	s, err := m.Session(L.CheckString(1))
	if err != nil {
		pushErr(L, err)
		return nil, false
	}
	index := L.OptInt(2, 1)
	if index < 1 || index > len(s.Solutions) {
		L.Push(lua.LNil)
		L.Push(lua.LString("no solution at index"))
		return nil, false
	}
	return s.Solutions[index-1], true
}

func pushErr(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}
