package puzzle

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/clawback/keys"
	"github.com/lightninglabs/clawback/merkle"
	"github.com/lightninglabs/clawback/program"
)

// StandardPuzzle returns the wallet puzzle for a raw wallet public key. The
// curried key is the synthetic key, so signing uses the synthetic private
// key.
func (r *Registry) StandardPuzzle(pk *btcec.PublicKey) *program.Program {
	synthetic := keys.SyntheticPubKey(pk, r.HiddenPuzzleHash)

	return r.Standard.Curry(program.Atom(synthetic.SerializeCompressed()))
}

// StandardPuzzleHash returns the tree hash of StandardPuzzle(pk).
func (r *Registry) StandardPuzzleHash(pk *btcec.PublicKey) program.Hash {
	return r.StandardPuzzle(pk).TreeHash()
}

// KeyIdentity returns the identity backed by the given wallet key.
func (r *Registry) KeyIdentity(pk *btcec.PublicKey) Identity {
	return Identity{
		PuzzleHash: r.StandardPuzzleHash(pk),
		PubKey:     pk,
	}
}

// senderInner returns the sender's inner puzzle, preferring a revealed
// puzzle over one rebuilt from the key.
func (r *Registry) senderInner(t Terms) (*program.Program, error) {
	var inner *program.Program
	switch {
	case t.Sender.Puzzle != nil:
		inner = t.Sender.Puzzle

	case t.Sender.PubKey != nil:
		inner = r.StandardPuzzle(t.Sender.PubKey)

	default:
		return nil, fmt.Errorf("%w: sender", ErrMissingPubKey)
	}

	if inner.TreeHash() != t.Sender.PuzzleHash {
		return nil, fmt.Errorf("sender key does not match sender "+
			"puzzle hash %v", t.Sender.PuzzleHash)
	}

	return inner, nil
}

// OuterScript returns the escrow puzzle funds are locked under. Its hash is
// the escrow address and is a pure function of the terms.
func (r *Registry) OuterScript(t Terms) (*program.Program, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	switch t.Mode {
	case ModeDirect:
		return r.OneOfN.Curry(
			program.Uint(t.Timelock),
			program.Bytes32(t.Sender.PuzzleHash),
			program.Bytes32(t.Recipient.PuzzleHash),
		), nil

	default:
		inner, err := r.senderInner(t)
		if err != nil {
			return nil, err
		}

		return r.Validator.Curry(program.Uint(t.Timelock), inner), nil
	}
}

// OuterPuzzleHash returns the tree hash of OuterScript(t).
func (r *Registry) OuterPuzzleHash(t Terms) (program.Hash, error) {
	outer, err := r.OuterScript(t)
	if err != nil {
		return program.Hash{}, err
	}

	return outer.TreeHash(), nil
}

// ClawbackScript returns the leaf that lets the sender return a routed coin
// to the outer puzzle at any time.
func (r *Registry) ClawbackScript(t Terms) (*program.Program, error) {
	if t.Mode != ModeValidator {
		return nil, fmt.Errorf("%w: clawback leaf on %v escrow",
			ErrUnsupportedMode, t.Mode)
	}

	outerHash, err := r.OuterPuzzleHash(t)
	if err != nil {
		return nil, err
	}
	inner, err := r.senderInner(t)
	if err != nil {
		return nil, err
	}

	return r.clawbackLeaf(outerHash, inner), nil
}

// ClaimScript returns the leaf that releases a routed coin to target once
// the timelock has passed.
func (r *Registry) ClaimScript(t Terms, target program.Hash) *program.Program {
	return r.claimLeaf(t.Timelock, target)
}

// DispatcherScript returns the pay to merkle tree puzzle for coins routed
// towards target.
func (r *Registry) DispatcherScript(t Terms,
	target program.Hash) (*program.Program, error) {

	tree, _, _, err := r.LeafTree(t, target)
	if err != nil {
		return nil, err
	}

	return r.Dispatcher.Curry(program.Bytes32(tree.Root())), nil
}

// LeafTree builds the dispatcher tree over [clawback, claim], in that order,
// and returns it together with both leaves.
func (r *Registry) LeafTree(t Terms, target program.Hash) (*merkle.Tree,
	*program.Program, *program.Program, error) {

	claw, err := r.ClawbackScript(t)
	if err != nil {
		return nil, nil, nil, err
	}
	claim := r.ClaimScript(t, target)

	tree, err := merkle.NewTree([]program.Hash{
		claw.TreeHash(), claim.TreeHash(),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return tree, claw, claim, nil
}

// MerkleProof returns the proof for a leaf of the dispatcher tree.
func (r *Registry) MerkleProof(t Terms, target,
	leafHash program.Hash) (*merkle.Proof, error) {

	tree, _, _, err := r.LeafTree(t, target)
	if err != nil {
		return nil, err
	}

	return tree.Proof(leafHash)
}

func (r *Registry) clawbackLeaf(outerHash program.Hash,
	senderInner *program.Program) *program.Program {

	return r.ClawbackLeaf.Curry(program.Bytes32(outerHash), senderInner)
}

func (r *Registry) claimLeaf(timelock uint64,
	target program.Hash) *program.Program {

	return r.ClaimLeaf.Curry(program.Uint(timelock), program.Bytes32(target))
}

// dispatcherFor builds a dispatcher from the raw curried values of a
// validator puzzle.
func (r *Registry) dispatcherFor(timelock uint64,
	senderInner *program.Program, outerHash,
	target program.Hash) (*program.Program, error) {

	claw := r.clawbackLeaf(outerHash, senderInner)
	claim := r.claimLeaf(timelock, target)

	tree, err := merkle.NewTree([]program.Hash{
		claw.TreeHash(), claim.TreeHash(),
	})
	if err != nil {
		return nil, err
	}

	return r.Dispatcher.Curry(program.Bytes32(tree.Root())), nil
}
