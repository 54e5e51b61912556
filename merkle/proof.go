package merkle

import (
	"errors"
	"fmt"

	"github.com/lightninglabs/clawback/program"
)

var (
	// ErrInvalidProof is returned when a proof cannot be decoded.
	ErrInvalidProof = errors.New("merkle: invalid proof encoding")
)

// Proof is an inclusion proof for a single leaf.
type Proof struct {
	// Index is the position of the leaf encoded as a bit path: bit i is
	// set if the node at height i is the right child of its parent.
	Index uint32

	// Siblings are the hashes to combine with, ordered from the leaf
	// towards the root.
	Siblings []program.Hash
}

// Copy returns a deep copy of the proof.
func (p *Proof) Copy() *Proof {
	return &Proof{
		Index:    p.Index,
		Siblings: append([]program.Hash(nil), p.Siblings...),
	}
}

// Root computes the root implied by the proof for the given leaf.
func (p *Proof) Root(leaf program.Hash) program.Hash {
	node := LeafHash(leaf)
	path := p.Index
	for _, sibling := range p.Siblings {
		if path&1 == 1 {
			node = BranchHash(sibling, node)
		} else {
			node = BranchHash(node, sibling)
		}
		path >>= 1
	}

	return node
}

// Verify returns true if the proof shows leaf to be included under root.
func Verify(root, leaf program.Hash, p *Proof) bool {
	if p == nil || len(p.Siblings) > 32 {
		return false
	}

	return p.Root(leaf) == root
}

// Program encodes the proof as (index . (sibling ...)), the form the
// dispatcher expects in its solution.
func (p *Proof) Program() *program.Program {
	siblings := make([]*program.Program, len(p.Siblings))
	for i, s := range p.Siblings {
		siblings[i] = program.Bytes32(s)
	}

	return program.Cons(
		program.Uint(uint64(p.Index)), program.List(siblings...),
	)
}

// ProofFromProgram decodes a proof encoded by Program.
func ProofFromProgram(p *program.Program) (*Proof, error) {
	index, err := p.At("f")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	idx, err := index.AsUint()
	if err != nil || idx > uint64(^uint32(0)) {
		return nil, fmt.Errorf("%w: bad index", ErrInvalidProof)
	}

	list, err := p.At("r")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	items, err := list.AsList()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	var siblings []program.Hash
	if len(items) > 0 {
		siblings = make([]program.Hash, len(items))
	}
	for i, item := range items {
		siblings[i], err = item.AsHash()
		if err != nil {
			return nil, fmt.Errorf("%w: sibling %d: %v",
				ErrInvalidProof, i, err)
		}
	}

	return &Proof{Index: uint32(idx), Siblings: siblings}, nil
}
