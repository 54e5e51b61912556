package program

import (
	"errors"
)

const (
	opQuote byte = 1
	opApply byte = 2
	opCons  byte = 4
)

var (
	// ErrNotCurried is returned by Uncurry if a program does not have the
	// curried shape.
	ErrNotCurried = errors.New("program: not a curried program")

	quoteAtom = &Program{atom: []byte{opQuote}}
	applyAtom = &Program{atom: []byte{opApply}}
	consAtom  = &Program{atom: []byte{opCons}}

	// envAtom refers to the whole environment, i.e. the solution.
	envAtom = quoteAtom
)

// Quote returns (q . p).
func Quote(p *Program) *Program {
	return Cons(quoteAtom, p)
}

// Unquote returns p if q is of the form (q . p).
func Unquote(q *Program) (*Program, bool) {
	if !q.IsPair() || !isOp(q.first, opQuote) {
		return nil, false
	}

	return q.rest, true
}

// Curry binds args into mod. The result is
// (a (q . mod) (c (q . arg0) (c (q . arg1) ... 1))), so the curried args are
// prepended to the solution when the program runs.
func Curry(mod *Program, args ...*Program) *Program {
	env := envAtom
	for i := len(args) - 1; i >= 0; i-- {
		env = List(consAtom, Quote(args[i]), env)
	}

	return List(applyAtom, Quote(mod), env)
}

// Uncurry is the inverse of Curry. It returns the template and the bound
// arguments.
func Uncurry(p *Program) (*Program, []*Program, error) {
	items, err := p.AsList()
	if err != nil || len(items) != 3 || !isOp(items[0], opApply) {
		return nil, nil, ErrNotCurried
	}

	mod, ok := Unquote(items[1])
	if !ok {
		return nil, nil, ErrNotCurried
	}

	var args []*Program
	env := items[2]
	for env.IsPair() {
		parts, err := env.AsList()
		if err != nil || len(parts) != 3 || !isOp(parts[0], opCons) {
			return nil, nil, ErrNotCurried
		}

		arg, ok := Unquote(parts[1])
		if !ok {
			return nil, nil, ErrNotCurried
		}

		args = append(args, arg)
		env = parts[2]
	}
	if !isOp(env, opQuote) {
		return nil, nil, ErrNotCurried
	}

	return mod, args, nil
}

func isOp(p *Program, op byte) bool {
	return !p.IsPair() && len(p.atom) == 1 && p.atom[0] == op
}
