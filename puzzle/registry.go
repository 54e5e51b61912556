package puzzle

import (
	"errors"
	"fmt"

	"github.com/lightninglabs/clawback/condition"
	"github.com/lightninglabs/clawback/program"
)

const (
	// maxRunDepth bounds how deeply templates may delegate to each other.
	maxRunDepth = 8

	templateVersion = 1
)

var (
	// ErrUnknownPuzzle is returned when a puzzle is not a curried instance
	// of any registered template.
	ErrUnknownPuzzle = errors.New("puzzle: unknown puzzle")

	// ErrBadSolution is returned when a solution does not have the shape
	// the template expects.
	ErrBadSolution = errors.New("puzzle: malformed solution")

	// ErrSpendRejected is returned when a template refuses a solution,
	// e.g. a wrong inner puzzle or a proof that does not verify.
	ErrSpendRejected = errors.New("puzzle: spend rejected")

	// ErrRunTooDeep is returned when templates nest beyond maxRunDepth.
	ErrRunTooDeep = errors.New("puzzle: run nested too deep")
)

// evalFunc runs a template. self is the full curried puzzle and args the
// curried arguments.
type evalFunc func(r *Registry, self *program.Program, args []*program.Program,
	solution *program.Program, depth int) ([]condition.Condition, error)

// Template is a script module that can be curried into concrete puzzles.
type Template struct {
	// Name is a short human readable name.
	Name string

	// Mod is the uncurried module.
	Mod *program.Program

	// Hash is the tree hash of Mod.
	Hash program.Hash

	// Arity is the number of curried arguments.
	Arity int

	eval evalFunc
}

// Curry binds the arguments into the template.
func (t *Template) Curry(args ...*program.Program) *program.Program {
	return program.Curry(t.Mod, args...)
}

func newTemplate(name string, arity int, eval evalFunc) *Template {
	mod := program.List(
		program.Atom([]byte("clawback")), program.Atom([]byte(name)),
		program.Uint(templateVersion),
	)

	return &Template{
		Name:  name,
		Mod:   mod,
		Hash:  mod.TreeHash(),
		Arity: arity,
		eval:  eval,
	}
}

// Registry holds the immutable set of script templates. It is built once at
// start up and shared by every component that creates or inspects puzzles.
type Registry struct {
	// Standard is the single key wallet puzzle: curried with a synthetic
	// public key, it signs over a delegated puzzle.
	Standard *Template

	// OneOfN is the outer escrow puzzle that embeds both the sender and
	// recipient inner puzzle hashes.
	OneOfN *Template

	// Validator is the outer escrow puzzle that only lets funds leave
	// towards per recipient dispatchers or back to itself.
	Validator *Template

	// Dispatcher is the pay to merkle tree puzzle guarding a routed coin.
	Dispatcher *Template

	// ClawbackLeaf returns a routed coin to the validator puzzle.
	ClawbackLeaf *Template

	// ClaimLeaf releases a routed coin to its target after the timelock.
	ClaimLeaf *Template

	// HiddenPuzzle is the puzzle every synthetic key is blinded with.
	HiddenPuzzle *program.Program

	// HiddenPuzzleHash is the tree hash of HiddenPuzzle.
	HiddenPuzzleHash program.Hash

	byHash map[program.Hash]*Template
}

// NewRegistry builds the registry and precomputes all template hashes.
func NewRegistry() *Registry {
	r := &Registry{
		Standard:     newTemplate("p2_delegated", 1, evalStandard),
		OneOfN:       newTemplate("p2_1_of_n", 3, evalOneOfN),
		Validator:    newTemplate("validator", 2, evalValidator),
		Dispatcher:   newTemplate("p2_merkle", 1, evalDispatcher),
		ClawbackLeaf: newTemplate("clawback", 2, evalClawbackLeaf),
		ClaimLeaf:    newTemplate("claim", 2, evalClaimLeaf),

		// (=) with no arguments always fails, so the hidden path can
		// never be taken.
		HiddenPuzzle: program.List(program.Uint(9)),
	}
	r.HiddenPuzzleHash = r.HiddenPuzzle.TreeHash()

	r.byHash = make(map[program.Hash]*Template)
	for _, t := range r.Templates() {
		r.byHash[t.Hash] = t
	}

	return r
}

// Templates returns all registered templates.
func (r *Registry) Templates() []*Template {
	return []*Template{
		r.Standard, r.OneOfN, r.Validator, r.Dispatcher,
		r.ClawbackLeaf, r.ClaimLeaf,
	}
}

// Identify uncurries a puzzle and returns its template and arguments.
func (r *Registry) Identify(puzzle *program.Program) (*Template,
	[]*program.Program, error) {

	mod, args, err := program.Uncurry(puzzle)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnknownPuzzle, err)
	}

	t, ok := r.byHash[mod.TreeHash()]
	if !ok {
		return nil, nil, fmt.Errorf("%w: module %v", ErrUnknownPuzzle,
			mod.TreeHash())
	}
	if len(args) != t.Arity {
		return nil, nil, fmt.Errorf("%w: %s takes %d args, got %d",
			ErrUnknownPuzzle, t.Name, t.Arity, len(args))
	}

	return t, args, nil
}

// Run executes a puzzle with the given solution and returns the conditions
// it outputs.
func (r *Registry) Run(puzzle, solution *program.Program) (
	[]condition.Condition, error) {

	return r.run(puzzle, solution, 0)
}

func (r *Registry) run(puzzle, solution *program.Program,
	depth int) ([]condition.Condition, error) {

	if depth > maxRunDepth {
		return nil, ErrRunTooDeep
	}

	t, args, err := r.Identify(puzzle)
	if err != nil {
		return nil, err
	}

	conds, err := t.eval(r, puzzle, args, solution, depth+1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name, err)
	}

	return conds, nil
}
