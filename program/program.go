package program

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrNotPair is returned when a pair accessor is used on an atom.
	ErrNotPair = errors.New("program: expected pair, found atom")

	// ErrNotAtom is returned when an atom accessor is used on a pair.
	ErrNotAtom = errors.New("program: expected atom, found pair")

	// ErrNotList is returned when a program is not a nil terminated list.
	ErrNotList = errors.New("program: not a proper list")

	// ErrIntOverflow is returned when an atom does not fit the requested
	// integer width.
	ErrIntOverflow = errors.New("program: integer atom overflow")

	// ErrNonMinimalInt is returned for integer atoms carrying redundant
	// leading zero bytes.
	ErrNonMinimalInt = errors.New("program: non-minimal integer atom")
)

// Nil is the empty atom. It doubles as the empty list and as false.
var Nil = &Program{atom: []byte{}}

// Program is an immutable binary tree of byte atoms. Scripts, solutions and
// condition lists are all represented as programs so that they share one
// hashing and serialization scheme.
type Program struct {
	atom  []byte
	first *Program
	rest  *Program
}

// Atom returns a new atom program. The passed bytes are copied.
func Atom(b []byte) *Program {
	c := make([]byte, len(b))
	copy(c, b)

	return &Program{atom: c}
}

// Cons builds a pair out of the two given programs.
func Cons(first, rest *Program) *Program {
	return &Program{first: first, rest: rest}
}

// List builds a nil terminated list out of the given items.
func List(items ...*Program) *Program {
	list := Nil
	for i := len(items) - 1; i >= 0; i-- {
		list = Cons(items[i], list)
	}

	return list
}

// Uint returns the atom encoding of an unsigned integer.
func Uint(v uint64) *Program {
	return &Program{atom: IntBytes(v)}
}

// Bytes32 returns a 32 byte atom for the given hash.
func Bytes32(h Hash) *Program {
	return Atom(h[:])
}

// IntBytes encodes v as a minimal big-endian two's complement integer. Zero
// encodes as the empty byte string.
func IntBytes(v uint64) []byte {
	if v == 0 {
		return []byte{}
	}

	var buf [9]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte(v)
		v >>= 8
	}

	// A leading byte with the high bit set would read back as negative.
	if buf[i]&0x80 != 0 {
		i--
		buf[i] = 0
	}

	out := make([]byte, len(buf)-i)
	copy(out, buf[i:])

	return out
}

// UintFromBytes decodes a non-negative minimal integer atom.
func UintFromBytes(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if b[0]&0x80 != 0 {
		return 0, fmt.Errorf("%w: negative value", ErrIntOverflow)
	}

	// A leading zero is only allowed as padding in front of a byte with
	// the high bit set, and zero itself is the empty atom.
	if b[0] == 0 {
		if len(b) == 1 || b[1]&0x80 == 0 {
			return 0, fmt.Errorf("%w: %x", ErrNonMinimalInt, b)
		}
		b = b[1:]
	}
	if len(b) > 8 {
		return 0, fmt.Errorf("%w: %d bytes", ErrIntOverflow, len(b))
	}

	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}

	return v, nil
}

// IsPair returns true if the program is a pair.
func (p *Program) IsPair() bool {
	return p.first != nil
}

// IsNil returns true if the program is the empty atom.
func (p *Program) IsNil() bool {
	return !p.IsPair() && len(p.atom) == 0
}

// AtomBytes returns the bytes of an atom.
func (p *Program) AtomBytes() ([]byte, error) {
	if p.IsPair() {
		return nil, ErrNotAtom
	}

	return p.atom, nil
}

// First returns the left element of a pair.
func (p *Program) First() (*Program, error) {
	if !p.IsPair() {
		return nil, ErrNotPair
	}

	return p.first, nil
}

// Rest returns the right element of a pair.
func (p *Program) Rest() (*Program, error) {
	if !p.IsPair() {
		return nil, ErrNotPair
	}

	return p.rest, nil
}

// At walks the tree following a path of 'f' (first) and 'r' (rest) steps.
func (p *Program) At(path string) (*Program, error) {
	cur := p
	for i, step := range path {
		if !cur.IsPair() {
			return nil, fmt.Errorf("program: path %q step %d: %w",
				path, i, ErrNotPair)
		}

		switch step {
		case 'f':
			cur = cur.first
		case 'r':
			cur = cur.rest
		default:
			return nil, fmt.Errorf("program: invalid path step %q",
				step)
		}
	}

	return cur, nil
}

// AsUint decodes an atom as an unsigned integer.
func (p *Program) AsUint() (uint64, error) {
	b, err := p.AtomBytes()
	if err != nil {
		return 0, err
	}

	return UintFromBytes(b)
}

// AsHash decodes a 32 byte atom.
func (p *Program) AsHash() (Hash, error) {
	var h Hash

	b, err := p.AtomBytes()
	if err != nil {
		return h, err
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("program: expected %d byte atom, got %d",
			HashSize, len(b))
	}
	copy(h[:], b)

	return h, nil
}

// AsList returns the items of a nil terminated list.
func (p *Program) AsList() ([]*Program, error) {
	var items []*Program

	cur := p
	for cur.IsPair() {
		items = append(items, cur.first)
		cur = cur.rest
	}
	if !cur.IsNil() {
		return nil, ErrNotList
	}

	return items, nil
}

// Equal reports whether two programs have the same structure and atoms.
func (p *Program) Equal(o *Program) bool {
	if p.IsPair() != o.IsPair() {
		return false
	}
	if !p.IsPair() {
		return bytes.Equal(p.atom, o.atom)
	}

	return p.first.Equal(o.first) && p.rest.Equal(o.rest)
}

// String returns the hex serialization of the program.
func (p *Program) String() string {
	return fmt.Sprintf("%x", p.Bytes())
}
