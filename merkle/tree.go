package merkle

import (
	"errors"
	"fmt"

	"github.com/lightninglabs/clawback/program"
)

const (
	leafPrefix   byte = 1
	branchPrefix byte = 2
)

var (
	// ErrEmptyTree is returned when a tree is built without leaves.
	ErrEmptyTree = errors.New("merkle: tree needs at least one leaf")

	// ErrDuplicateLeaf is returned when the same leaf appears twice. Proof
	// lookup is keyed by leaf, so duplicates would be ambiguous.
	ErrDuplicateLeaf = errors.New("merkle: duplicate leaf")

	// ErrLeafNotFound is returned when a proof is requested for a leaf
	// that is not part of the tree.
	ErrLeafNotFound = errors.New("merkle: leaf not found")
)

// LeafHash returns the hash committed to for a leaf value.
func LeafHash(leaf program.Hash) program.Hash {
	return program.Sha256([]byte{leafPrefix}, leaf[:])
}

// BranchHash returns the hash of a branch with the given children.
func BranchHash(left, right program.Hash) program.Hash {
	return program.Sha256([]byte{branchPrefix}, left[:], right[:])
}

// Tree is a binary merkle tree over an ordered list of leaf hashes. The list
// is split at len/2 at every level, so the shape depends only on the number
// of leaves and leaf order is significant.
type Tree struct {
	root   program.Hash
	leaves []program.Hash
	proofs map[program.Hash]*Proof
}

// NewTree builds a tree over the given leaves, computing every proof up
// front.
func NewTree(leaves []program.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	seen := make(map[program.Hash]struct{}, len(leaves))
	for _, leaf := range leaves {
		if _, ok := seen[leaf]; ok {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateLeaf, leaf)
		}
		seen[leaf] = struct{}{}
	}

	root, proofs := build(leaves)

	return &Tree{
		root:   root,
		leaves: append([]program.Hash(nil), leaves...),
		proofs: proofs,
	}, nil
}

// build returns the root of the subtree over leaves together with the proofs
// of all leaves relative to that subtree.
func build(leaves []program.Hash) (program.Hash, map[program.Hash]*Proof) {
	if len(leaves) == 1 {
		return LeafHash(leaves[0]), map[program.Hash]*Proof{
			leaves[0]: {},
		}
	}

	half := len(leaves) / 2
	leftRoot, leftProofs := build(leaves[:half])
	rightRoot, rightProofs := build(leaves[half:])

	proofs := make(map[program.Hash]*Proof, len(leaves))
	for leaf, p := range leftProofs {
		p.Siblings = append(p.Siblings, rightRoot)
		proofs[leaf] = p
	}
	for leaf, p := range rightProofs {
		p.Index |= 1 << len(p.Siblings)
		p.Siblings = append(p.Siblings, leftRoot)
		proofs[leaf] = p
	}

	return BranchHash(leftRoot, rightRoot), proofs
}

// Root returns the root hash of the tree.
func (t *Tree) Root() program.Hash {
	return t.root
}

// Leaves returns a copy of the leaves in tree order.
func (t *Tree) Leaves() []program.Hash {
	return append([]program.Hash(nil), t.leaves...)
}

// Proof returns the inclusion proof for the given leaf.
func (t *Tree) Proof(leaf program.Hash) (*Proof, error) {
	p, ok := t.proofs[leaf]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrLeafNotFound, leaf)
	}

	return p.Copy(), nil
}
