package scripting

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/htn/internal/domain"
	"github.com/cory-johannsen/htn/internal/htnlang"
	"github.com/cory-johannsen/htn/internal/planner"
	"github.com/cory-johannsen/htn/internal/resolver"
	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/term"
)

// Session is one long-lived planner embedding: a factory, a rule database, a
// domain, and the compiler that fills them. Scripts address a session by its
// ID.
type Session struct {
	ID       string
	Factory  *term.Factory
	State    *ruleset.RuleSet
	Domain   *domain.Domain
	Compiler *htnlang.Compiler
	Planner  *planner.Planner
	Resolver *resolver.Resolver

	// Solutions from the most recent findAllPlans call, so scripts can ask
	// for facts and trees per solution index.
	Solutions []*planner.Solution

	MemoryBudget int64
}

// Manager owns planner sessions and hands them to Lua VMs.
//
// Manager is safe for concurrent use; each Session must stay on a single
// goroutine at a time.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: logger must not be nil.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// CreateSession builds a fresh session with its own factory, state, and
// domain, returning its uuid.
func (m *Manager) CreateSession(memoryBudget int64) *Session {
	factory := term.NewFactory()
	state := ruleset.New()
	dom := domain.New()
	res := resolver.New()
	s := &Session{
		ID:           uuid.NewString(),
		Factory:      factory,
		State:        state,
		Domain:       dom,
		Compiler:     htnlang.NewHtnCompiler(factory, state, dom),
		Planner:      planner.NewPlanner(dom, planner.WithResolver(res), planner.WithLogger(m.logger)),
		Resolver:     res,
		MemoryBudget: memoryBudget,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Debug("created planner session", zap.String("sessionID", s.ID))
	return s
}

// Session returns the session with the given id.
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("scripting: no session %q", id)
	}
	return s, nil
}

// CloseSession drops the session.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Compile loads HTN/Prolog source into the session.
func (s *Session) Compile(src string) error {
	return s.Compiler.Compile(src)
}

// Query resolves a goal string ("a(?X), b(?X)") against the session state
// and returns the solutions, or nil for no solution.
func (s *Session) Query(goalsSrc string) (*resolver.Result, error) {
	goals, err := htnlang.ParseTerms(s.Factory, goalsSrc)
	if err != nil {
		return nil, err
	}
	return s.Resolver.ResolveAll(s.Factory, s.State, goals, 0, s.MemoryBudget), nil
}

// FindAllPlans plans the session's compiled goals (or the given goal string
// when non-empty) and caches the solutions for later inspection.
func (s *Session) FindAllPlans(goalsSrc string) ([]*planner.Solution, error) {
	goals := s.Compiler.Goals()
	if goalsSrc != "" {
		parsed, err := htnlang.ParseTerms(s.Factory, goalsSrc)
		if err != nil {
			return nil, err
		}
		goals = parsed
	}
	if len(goals) == 0 {
		return nil, fmt.Errorf("scripting: no goals compiled or supplied")
	}
	solutions, _ := s.Planner.FindAllPlans(s.Factory, s.State, goals, s.MemoryBudget)
	s.Solutions = solutions
	return solutions, nil
}
