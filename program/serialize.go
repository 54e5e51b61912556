package program

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	consBox byte = 0xff
	nilByte byte = 0x80

	// maxDepth bounds recursion while decoding untrusted input.
	maxDepth = 512

	// atomPrealloc caps the buffer allocated up front for an atom.
	atomPrealloc = 1024
)

var (
	// ErrAtomTooLarge is returned for atoms that cannot be length
	// prefixed.
	ErrAtomTooLarge = errors.New("program: atom too large")

	// ErrTooDeep is returned when decoding a program nested beyond
	// maxDepth.
	ErrTooDeep = errors.New("program: nesting too deep")
)

// Bytes returns the canonical serialization of the program.
func (p *Program) Bytes() []byte {
	var b bytes.Buffer

	// Writes to a bytes.Buffer never fail.
	_ = p.Encode(&b)

	return b.Bytes()
}

// Encode writes the canonical serialization: 0xff prefixes a pair, single
// bytes up to 0x7f stand for themselves and every other atom carries a size
// prefix.
func (p *Program) Encode(w io.Writer) error {
	if p.IsPair() {
		if _, err := w.Write([]byte{consBox}); err != nil {
			return err
		}
		if err := p.first.Encode(w); err != nil {
			return err
		}

		return p.rest.Encode(w)
	}

	a := p.atom
	if len(a) == 1 && a[0] <= 0x7f {
		_, err := w.Write(a)
		return err
	}

	prefix, err := sizePrefix(len(a))
	if err != nil {
		return err
	}
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err = w.Write(a)

	return err
}

func sizePrefix(n int) ([]byte, error) {
	switch {
	case n < 0x40:
		return []byte{nilByte | byte(n)}, nil

	case n < 0x2000:
		return []byte{0xc0 | byte(n>>8), byte(n)}, nil

	case n < 0x100000:
		return []byte{0xe0 | byte(n>>16), byte(n >> 8), byte(n)}, nil

	case n < 0x8000000:
		return []byte{
			0xf0 | byte(n>>24), byte(n >> 16), byte(n >> 8), byte(n),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrAtomTooLarge, n)
	}
}

// FromBytes decodes a serialized program, requiring that all input is
// consumed.
func FromBytes(b []byte) (*Program, error) {
	r := bytes.NewReader(b)

	p, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("program: %d trailing bytes", r.Len())
	}

	return p, nil
}

// Decode reads one serialized program from r.
func Decode(r io.ByteReader) (*Program, error) {
	return decode(r, 0)
}

func decode(r io.ByteReader, depth int) (*Program, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}

	b, err := r.ReadByte()
	if err != nil {
		return nil, unexpectedEOF(err)
	}

	switch {
	case b == consBox:
		first, err := decode(r, depth+1)
		if err != nil {
			return nil, err
		}
		rest, err := decode(r, depth+1)
		if err != nil {
			return nil, err
		}

		return Cons(first, rest), nil

	case b <= 0x7f:
		return &Program{atom: []byte{b}}, nil
	}

	size, err := readSize(r, b)
	if err != nil {
		return nil, err
	}

	// The size prefix is untrusted. Refuse sizes the input cannot hold
	// and grow the atom as bytes arrive otherwise.
	if l, ok := r.(interface{ Len() int }); ok && size > l.Len() {
		return nil, fmt.Errorf("%w: atom of %d bytes, %d left",
			io.ErrUnexpectedEOF, size, l.Len())
	}

	atom := make([]byte, 0, min(size, atomPrealloc))
	for len(atom) < size {
		c, err := r.ReadByte()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		atom = append(atom, c)
	}

	return &Program{atom: atom}, nil
}

// readSize decodes the atom length from a size prefix whose first byte is b.
func readSize(r io.ByteReader, b byte) (int, error) {
	var extra int
	bit := byte(0x40)
	for extra < 4 && b&bit != 0 {
		extra++
		bit >>= 1
	}
	if extra == 4 {
		return 0, ErrAtomTooLarge
	}

	size := int(b & (bit - 1))
	for i := 0; i < extra; i++ {
		next, err := r.ReadByte()
		if err != nil {
			return 0, unexpectedEOF(err)
		}
		size = size<<8 | int(next)
	}

	return size, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}
