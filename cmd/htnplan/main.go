// Package main provides the htnplan binary: compile HTN/Prolog programs,
// find plans, run resolver queries, and drive the Lua embedding.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/htn/internal/config"
	"github.com/cory-johannsen/htn/internal/domain"
	"github.com/cory-johannsen/htn/internal/htnlang"
	"github.com/cory-johannsen/htn/internal/observability"
	"github.com/cory-johannsen/htn/internal/planner"
	"github.com/cory-johannsen/htn/internal/resolver"
	"github.com/cory-johannsen/htn/internal/ruleset"
	"github.com/cory-johannsen/htn/internal/scripting"
	"github.com/cory-johannsen/htn/internal/term"
)

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	var configPath string
	var budget int64
	var jsonOutput bool

	a := &app{}

	root := &cobra.Command{
		Use:           "htnplan",
		Short:         "Hierarchical Task Network planner with a Prolog-style goal resolver",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if budget > 0 {
				cfg.Planner.MemoryBudget = budget
			}
			logger, err := observability.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")
	root.PersistentFlags().Int64Var(&budget, "budget", 0, "memory budget in bytes (overrides config)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")

	solve := &cobra.Command{
		Use:   "solve FILE...",
		Short: "Compile HTN files and print every plan for their goals",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSolve(args, jsonOutput)
		},
	}

	var goalsFlag string
	query := &cobra.Command{
		Use:   "query FILE...",
		Short: "Compile Prolog files and resolve a goal conjunction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(args, goalsFlag)
		},
	}
	query.Flags().StringVarP(&goalsFlag, "goals", "g", "", "goal conjunction, e.g. 'at(?X), cost(?X, ?C)' (defaults to goals(...) from the files)")

	repl := &cobra.Command{
		Use:   "repl [FILE...]",
		Short: "Interactive goal loop over the compiled files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRepl(args)
		},
	}

	script := &cobra.Command{
		Use:   "script FILE.lua",
		Short: "Run a Lua script with the htn module bound",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScript(args[0])
		},
	}

	root.AddCommand(solve, query, repl, script)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "htnplan:", err)
		os.Exit(1)
	}
}

// compileFiles loads all files into one compiler, plus any configured YAML
// domain directory.
func (a *app) compileFiles(paths []string) (*htnlang.Compiler, *domain.Domain, *term.Factory, error) {
	factory := term.NewFactory()
	state := ruleset.New()
	dom := domain.New()

	if dir := a.cfg.Planner.DomainDir; dir != "" {
		facts, err := dom.LoadYAMLDir(factory, htnlang.ParseTerms, dir)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, fact := range facts {
			state.AddRule(fact, nil)
		}
	}

	compiler := htnlang.NewHtnCompiler(factory, state, dom)
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := compiler.Compile(string(src)); err != nil {
			return nil, nil, nil, fmt.Errorf("compiling %s: %w", path, err)
		}
	}
	for _, warning := range compiler.CheckErrors() {
		a.logger.Warn("domain check", zap.String("warning", warning))
	}
	return compiler, dom, factory, nil
}

func (a *app) runSolve(paths []string, jsonOutput bool) error {
	compiler, dom, factory, err := a.compileFiles(paths)
	if err != nil {
		return err
	}
	goals := compiler.Goals()
	if len(goals) == 0 {
		return fmt.Errorf("no goals(...) clause in input")
	}

	p := planner.NewPlanner(dom,
		planner.WithLogger(a.logger),
		planner.WithResolver(resolver.New(resolver.WithOutput(os.Stdout))))
	solutions, ps := p.FindAllPlans(factory, compiler.RuleSet(), goals, a.cfg.Planner.MemoryBudget)

	if factory.OutOfMemory() {
		a.logger.Warn("memory budget exceeded; plans may be incomplete",
			zap.Int64("budget", a.cfg.Planner.MemoryBudget),
			zap.Int64("highWater", ps.HighestMemoryUsed()))
	}
	if solutions == nil {
		depth, index, context := ps.DeepestFailure()
		fmt.Println("null")
		a.logger.Info("no plan found",
			zap.Int("deepestFailureDepth", depth),
			zap.Int("furthestConditionIndex", index),
			zap.String("failureContext", term.ToString(context)))
		return nil
	}
	for i, solution := range solutions {
		if jsonOutput {
			fmt.Printf("{\"solution\":%d,\"plan\":%s,\"tree\":%s}\n", i, solution.PlanJSON(), solution.TreeJSON())
		} else {
			fmt.Println(solution.String())
		}
	}
	return nil
}

func (a *app) runQuery(paths []string, goalsSrc string) error {
	compiler, _, factory, err := a.compileFiles(paths)
	if err != nil {
		return err
	}
	var goals []*term.Term
	if goalsSrc != "" {
		goals, err = htnlang.ParseTerms(factory, goalsSrc)
		if err != nil {
			return err
		}
	} else {
		goals = compiler.Goals()
	}
	if len(goals) == 0 {
		return fmt.Errorf("no goals given: use -g or a goals(...) clause")
	}
	res := resolver.New(resolver.WithOutput(os.Stdout), resolver.WithLogger(a.logger))
	result := res.ResolveAll(factory, compiler.RuleSet(), goals, 0, a.cfg.Planner.MemoryBudget)
	fmt.Println(result.String())
	return nil
}

func (a *app) runRepl(paths []string) error {
	compiler, _, factory, err := a.compileFiles(paths)
	if err != nil {
		return err
	}
	res := resolver.New(resolver.WithOutput(os.Stdout), resolver.WithLogger(a.logger))
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("?- ")
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(scanner.Text()), "."))
		if line == "quit" || line == "halt" {
			break
		}
		if line != "" {
			goals, err := htnlang.ParseTerms(factory, line)
			if err != nil {
				fmt.Println("error:", err)
			} else {
				result := res.ResolveAll(factory, compiler.RuleSet(), goals, 0, a.cfg.Planner.MemoryBudget)
				fmt.Println(result.String())
			}
		}
		fmt.Print("?- ")
	}
	return scanner.Err()
}

func (a *app) runScript(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	manager := scripting.NewManager(a.logger)
	L := scripting.NewSandboxedState(a.cfg.Planner.ScriptInstructionLimit)
	defer L.Close()
	manager.RegisterModule(L)
	if err := L.DoString(string(src)); err != nil {
		return fmt.Errorf("running %s: %w", path, err)
	}
	return nil
}
