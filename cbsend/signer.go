package cbsend

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/keys"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
)

// Signer resolves the wallet key of every spend, signs each required
// (public key, message) pair and aggregates the result.
type Signer struct {
	keyRing          *KeyRing
	registry         *puzzle.Registry
	genesisChallenge []byte
}

// NewSigner creates a signer for the given network.
func NewSigner(keyRing *KeyRing, registry *puzzle.Registry,
	genesisChallenge []byte) *Signer {

	return &Signer{
		keyRing:          keyRing,
		registry:         registry,
		genesisChallenge: genesisChallenge,
	}
}

// SignSpends signs spends and returns them as a bundle. The bundle is only
// returned if its aggregate signature verifies against every required pair.
func (s *Signer) SignSpends(ctx context.Context,
	spends []*coin.Spend) (*coin.SpendBundle, error) {

	resolved := make(map[program.Hash]*btcec.PrivateKey)

	var (
		pairs []keys.PubKeyMessage
		sigs  [][]byte
	)
	for _, spend := range spends {
		spendPairs, err := s.registry.RequiredSignatures(
			spend, s.genesisChallenge,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to inspect spend of "+
				"%v: %w", spend.Coin.ID(), err)
		}
		if len(spendPairs) == 0 {
			continue
		}

		signingHash, err := s.registry.SigningPuzzleHash(spend)
		if err != nil {
			return nil, err
		}
		innerHash, err := signingHash.UnwrapOrErr(fmt.Errorf("%w: "+
			"spend of %v needs signatures but names no key",
			ErrNoMatchingKey, spend.Coin.ID()))
		if err != nil {
			return nil, err
		}

		synthetic, ok := resolved[innerHash]
		if !ok {
			match, err := s.keyRing.Resolve(ctx, innerHash)
			if err != nil {
				return nil, err
			}

			log.Debugf("Resolved key for %v at index %d "+
				"(hardened=%v)", innerHash, match.Index,
				match.Hardened)

			synthetic = keys.SyntheticPrivKey(
				match.Key, s.registry.HiddenPuzzleHash,
			)
			resolved[innerHash] = synthetic
		}
		syntheticPub := synthetic.PubKey().SerializeCompressed()

		for _, pair := range spendPairs {
			if !bytes.Equal(pair.PubKey, syntheticPub) {
				return nil, fmt.Errorf("%w: spend of %v "+
					"requires key %x", ErrNoMatchingKey,
					spend.Coin.ID(), pair.PubKey)
			}

			sig, err := keys.Sign(synthetic, pair.Message)
			if err != nil {
				return nil, fmt.Errorf("unable to sign: %w",
					err)
			}
			pairs = append(pairs, pair)
			sigs = append(sigs, sig)
		}
	}

	agg, err := keys.Aggregate(sigs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v",
			keys.ErrSignatureAggregationFailed, err)
	}

	bundle := &coin.SpendBundle{
		Spends:              spends,
		AggregatedSignature: agg,
	}

	// Never hand out a bundle that does not verify on its own.
	if err := keys.AggregateVerify(pairs, agg); err != nil {
		log.Errorf("Assembled bundle failed verification: %v",
			spew.Sdump(bundle))
		return nil, err
	}

	return bundle, nil
}
