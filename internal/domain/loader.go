package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/htn/internal/term"
)

// TermParser parses a source string into terms. Wired to htnlang.ParseTerms
// by callers; declared here so the loader does not depend on the parser
// package.
type TermParser func(f *term.Factory, src string) ([]*term.Term, error)

// yamlMethod is one method entry in a YAML domain definition. Head and the
// if/do entries are term strings in surface syntax.
type yamlMethod struct {
	Head string   `yaml:"head"`
	Type string   `yaml:"type"` // "", "normal", "allOf", "anyOf"
	Else bool     `yaml:"else"`
	If   []string `yaml:"if"`
	Do   []string `yaml:"do"`
}

// yamlOperator is one operator entry in a YAML domain definition.
type yamlOperator struct {
	Head   string   `yaml:"head"`
	Del    []string `yaml:"del"`
	Add    []string `yaml:"add"`
	Hidden bool     `yaml:"hidden"`
}

// yamlDomain is the YAML shape of a domain definition document.
type yamlDomain struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description"`
	Methods     []yamlMethod   `yaml:"methods"`
	Operators   []yamlOperator `yaml:"operators"`
	Facts       []string       `yaml:"facts"`
}

// yamlDomainFile wraps the YAML top-level key.
type yamlDomainFile struct {
	Domain *yamlDomain `yaml:"domain"`
}

// LoadYAML parses a YAML domain definition and appends its methods and
// operators to d, in document order. The returned facts are the definition's
// initial state terms for the caller to add to a RuleSet.
//
// Precondition: parse must be non-nil (wire htnlang.ParseTerms).
// Postcondition: returns an error if any entry fails to parse or validate;
// the domain may be partially filled on error.
func (d *Domain) LoadYAML(f *term.Factory, parse TermParser, data []byte) ([]*term.Term, error) {
	var file yamlDomainFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("domain.LoadYAML: parsing: %w", err)
	}
	if file.Domain == nil {
		return nil, fmt.Errorf("domain.LoadYAML: missing top-level 'domain' key")
	}
	def := file.Domain
	if def.ID == "" {
		return nil, fmt.Errorf("domain.LoadYAML: domain ID must not be empty")
	}

	for _, m := range def.Methods {
		head, err := parseOneTerm(f, parse, m.Head)
		if err != nil {
			return nil, fmt.Errorf("domain.LoadYAML: domain %q method head: %w", def.ID, err)
		}
		condition, err := parseTermEntries(f, parse, m.If)
		if err != nil {
			return nil, fmt.Errorf("domain.LoadYAML: domain %q method %q if: %w", def.ID, m.Head, err)
		}
		subtasks, err := parseTermEntries(f, parse, m.Do)
		if err != nil {
			return nil, fmt.Errorf("domain.LoadYAML: domain %q method %q do: %w", def.ID, m.Head, err)
		}
		methodType, err := methodTypeFor(m.Type)
		if err != nil {
			return nil, fmt.Errorf("domain.LoadYAML: domain %q method %q: %w", def.ID, m.Head, err)
		}
		if _, err := d.AddMethod(head, condition, subtasks, methodType, m.Else); err != nil {
			return nil, err
		}
	}

	for _, op := range def.Operators {
		head, err := parseOneTerm(f, parse, op.Head)
		if err != nil {
			return nil, fmt.Errorf("domain.LoadYAML: domain %q operator head: %w", def.ID, err)
		}
		dels, err := parseTermEntries(f, parse, op.Del)
		if err != nil {
			return nil, fmt.Errorf("domain.LoadYAML: domain %q operator %q del: %w", def.ID, op.Head, err)
		}
		adds, err := parseTermEntries(f, parse, op.Add)
		if err != nil {
			return nil, fmt.Errorf("domain.LoadYAML: domain %q operator %q add: %w", def.ID, op.Head, err)
		}
		if _, err := d.AddOperator(head, adds, dels, op.Hidden); err != nil {
			return nil, err
		}
	}

	facts, err := parseTermEntries(f, parse, def.Facts)
	if err != nil {
		return nil, fmt.Errorf("domain.LoadYAML: domain %q facts: %w", def.ID, err)
	}
	return facts, nil
}

// LoadYAMLDir loads every *.yaml file in dir, in lexicographic order, and
// returns the combined initial facts.
//
// Postcondition: returns (nil, nil) when dir has no .yaml files.
func (d *Domain) LoadYAMLDir(f *term.Factory, parse TermParser, dir string) ([]*term.Term, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("domain.LoadYAMLDir: reading %q: %w", dir, err)
	}
	var facts []*term.Term
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("domain.LoadYAMLDir: reading %s: %w", e.Name(), err)
		}
		fileFacts, err := d.LoadYAML(f, parse, data)
		if err != nil {
			return nil, fmt.Errorf("domain.LoadYAMLDir: %s: %w", e.Name(), err)
		}
		facts = append(facts, fileFacts...)
	}
	return facts, nil
}

func methodTypeFor(name string) (MethodType, error) {
	switch name {
	case "", "normal":
		return Normal, nil
	case "allOf":
		return AllSetOf, nil
	case "anyOf":
		return AnySetOf, nil
	default:
		return Normal, fmt.Errorf("unknown method type %q", name)
	}
}

func parseOneTerm(f *term.Factory, parse TermParser, src string) (*term.Term, error) {
	terms, err := parse(f, src)
	if err != nil {
		return nil, err
	}
	if len(terms) != 1 {
		return nil, fmt.Errorf("expected exactly one term in %q", src)
	}
	if terms[0].IsVariable() {
		return nil, fmt.Errorf("term %q must not be a variable", src)
	}
	return terms[0], nil
}

func parseTermEntries(f *term.Factory, parse TermParser, entries []string) ([]*term.Term, error) {
	var out []*term.Term
	for _, entry := range entries {
		terms, err := parse(f, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, terms...)
	}
	return out, nil
}
