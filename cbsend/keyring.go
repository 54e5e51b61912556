package cbsend

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/clawback/chain"
	"github.com/lightninglabs/clawback/keys"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// KeyRing resolves wallet keys by the standard puzzle hash they control.
type KeyRing struct {
	wallet   chain.Wallet
	registry *puzzle.Registry
}

// NewKeyRing creates a key ring backed by the wallet collaborator.
func NewKeyRing(wallet chain.Wallet, registry *puzzle.Registry) *KeyRing {
	return &KeyRing{
		wallet:   wallet,
		registry: registry,
	}
}

// keychain loads the master key of the logged in wallet and the scan bound.
func (k *KeyRing) keychain(ctx context.Context) (*keys.Keychain, uint32,
	error) {

	fingerprint, err := k.wallet.LoggedInFingerprint(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to get fingerprint: %w", err)
	}
	seed, err := k.wallet.PrivateKeyMaterial(ctx, fingerprint)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to get key material: %w", err)
	}
	keychain, err := keys.NewKeychain(seed)
	if err != nil {
		return nil, 0, err
	}

	maxIndex, err := k.wallet.CurrentDerivationIndex(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to get derivation index: %w",
			err)
	}

	return keychain, maxIndex, nil
}

// Find scans the wallet for the key whose standard puzzle hashes to
// puzzleHash. None is returned when no key matches.
func (k *KeyRing) Find(ctx context.Context,
	puzzleHash program.Hash) (fn.Option[keys.KeyMatch], error) {

	keychain, maxIndex, err := k.keychain(ctx)
	if err != nil {
		return fn.None[keys.KeyMatch](), err
	}

	return keychain.FindKey(maxIndex, func(pk *btcec.PublicKey) bool {
		return k.registry.StandardPuzzleHash(pk) == puzzleHash
	})
}

// Resolve is Find, failing with ErrNoMatchingKey when the scan comes up
// empty.
func (k *KeyRing) Resolve(ctx context.Context,
	puzzleHash program.Hash) (keys.KeyMatch, error) {

	match, err := k.Find(ctx, puzzleHash)
	if err != nil {
		return keys.KeyMatch{}, err
	}

	return match.UnwrapOrErr(fmt.Errorf("%w: puzzle hash %v",
		ErrNoMatchingKey, puzzleHash))
}

// PubKey returns the wallet public key behind puzzleHash, if any.
func (k *KeyRing) PubKey(ctx context.Context,
	puzzleHash program.Hash) (fn.Option[*btcec.PublicKey], error) {

	match, err := k.Find(ctx, puzzleHash)
	if err != nil {
		return fn.None[*btcec.PublicKey](), err
	}

	return fn.MapOption(func(m keys.KeyMatch) *btcec.PublicKey {
		return m.Key.PubKey()
	})(match), nil
}

// Identity returns the identity of a wallet key, by puzzle hash.
func (k *KeyRing) Identity(ctx context.Context,
	puzzleHash program.Hash) (puzzle.Identity, error) {

	match, err := k.Resolve(ctx, puzzleHash)
	if err != nil {
		return puzzle.Identity{}, err
	}

	return k.registry.KeyIdentity(match.Key.PubKey()), nil
}
