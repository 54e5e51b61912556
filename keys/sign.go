package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/clawback/program"
)

const (
	// SignatureSize is the size of a single signature. An aggregate is a
	// concatenation of them.
	SignatureSize = schnorr.SignatureSize
)

var (
	// ErrSignatureAggregationFailed is returned if an aggregate signature
	// does not verify against the expected key/message pairs.
	ErrSignatureAggregationFailed = errors.New("signature aggregation " +
		"failed")
)

// PubKeyMessage is a single signature requirement.
type PubKeyMessage struct {
	PubKey  []byte
	Message []byte
}

// SyntheticPrivKey blinds a wallet key with the hidden puzzle hash. The
// result is the key that actually signs for standard coins.
func SyntheticPrivKey(sk *btcec.PrivateKey,
	hiddenPuzzleHash program.Hash) *btcec.PrivateKey {

	return txscript.TweakTaprootPrivKey(*sk, hiddenPuzzleHash[:])
}

// SyntheticPubKey is the public counterpart of SyntheticPrivKey.
func SyntheticPubKey(pk *btcec.PublicKey,
	hiddenPuzzleHash program.Hash) *btcec.PublicKey {

	return txscript.ComputeTaprootOutputKey(pk, hiddenPuzzleHash[:])
}

// AggSigMeMessage binds a message to a coin and a network.
func AggSigMeMessage(msg []byte, coinID program.Hash,
	additionalData []byte) []byte {

	out := make([]byte, 0, len(msg)+len(coinID)+len(additionalData))
	out = append(out, msg...)
	out = append(out, coinID[:]...)

	return append(out, additionalData...)
}

// signingDigest commits to the public key as well as the message, so the
// same message signed by two keys yields unrelated digests.
func signingDigest(pubKey, msg []byte) [32]byte {
	h := sha256.New()
	h.Write(pubKey)
	h.Write(msg)

	var digest [32]byte
	copy(digest[:], h.Sum(nil))

	return digest
}

// Sign signs msg with sk.
func Sign(sk *btcec.PrivateKey, msg []byte) ([]byte, error) {
	digest := signingDigest(sk.PubKey().SerializeCompressed(), msg)

	sig, err := schnorr.Sign(sk, digest[:])
	if err != nil {
		return nil, err
	}

	return sig.Serialize(), nil
}

// Verify checks a single signature.
func Verify(pubKey, msg, sig []byte) bool {
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}

	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}

	digest := signingDigest(pubKey, msg)

	return parsed.Verify(digest[:], pk)
}

// Aggregate combines signatures in order. The aggregate is only meaningful
// together with the ordered list of pairs the signatures were made for.
func Aggregate(sigs [][]byte) ([]byte, error) {
	agg := make([]byte, 0, len(sigs)*SignatureSize)
	for i, sig := range sigs {
		if len(sig) != SignatureSize {
			return nil, fmt.Errorf("signature %d has size %d", i,
				len(sig))
		}
		agg = append(agg, sig...)
	}

	return agg, nil
}

// AggregateVerify checks an aggregate against the ordered pairs.
func AggregateVerify(pairs []PubKeyMessage, agg []byte) error {
	if len(agg) != len(pairs)*SignatureSize {
		return fmt.Errorf("%w: %d pairs, %d signature bytes",
			ErrSignatureAggregationFailed, len(pairs), len(agg))
	}

	for i, pair := range pairs {
		sig := agg[i*SignatureSize : (i+1)*SignatureSize]
		if !Verify(pair.PubKey, pair.Message, sig) {
			return fmt.Errorf("%w: pair %d does not verify",
				ErrSignatureAggregationFailed, i)
		}
	}

	return nil
}
