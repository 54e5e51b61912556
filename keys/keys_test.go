package keys

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/clawback/program"
	"github.com/stretchr/testify/require"
)

var testSeed = bytes.Repeat([]byte{0x42}, 32)

func TestDeriveWalletKey(t *testing.T) {
	t.Parallel()

	kc, err := NewKeychain(testSeed)
	require.NoError(t, err)

	hardened, err := kc.DeriveWalletKey(0, true)
	require.NoError(t, err)
	unhardened, err := kc.DeriveWalletKey(0, false)
	require.NoError(t, err)
	require.NotEqual(
		t, hardened.PubKey().SerializeCompressed(),
		unhardened.PubKey().SerializeCompressed(),
	)

	again, err := kc.DeriveWalletKey(0, true)
	require.NoError(t, err)
	require.Equal(t, hardened.Serialize(), again.Serialize())

	fp1, err := kc.Fingerprint()
	require.NoError(t, err)
	other, err := NewKeychain(bytes.Repeat([]byte{0x43}, 32))
	require.NoError(t, err)
	fp2, err := other.Fingerprint()
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp2)

	_, err = NewKeychain([]byte{1})
	require.ErrorIs(t, err, ErrInvalidSeed)
}

func TestFindKey(t *testing.T) {
	t.Parallel()

	kc, err := NewKeychain(testSeed)
	require.NoError(t, err)

	target, err := kc.DeriveWalletKey(3, false)
	require.NoError(t, err)
	targetPub := target.PubKey().SerializeCompressed()

	match := func(pk *btcec.PublicKey) bool {
		return bytes.Equal(pk.SerializeCompressed(), targetPub)
	}

	found, err := kc.FindKey(5, match)
	require.NoError(t, err)
	require.True(t, found.IsSome())
	found.WhenSome(func(m KeyMatch) {
		require.EqualValues(t, 3, m.Index)
		require.False(t, m.Hardened)
	})

	// The scan is bounded by the max index.
	found, err = kc.FindKey(2, match)
	require.NoError(t, err)
	require.True(t, found.IsNone())

	// The bound is inclusive.
	found, err = kc.FindKey(3, match)
	require.NoError(t, err)
	require.True(t, found.IsSome())
}

func TestSyntheticKeys(t *testing.T) {
	t.Parallel()

	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	hidden := program.Sha256([]byte("hidden"))
	synthSk := SyntheticPrivKey(sk, hidden)
	synthPk := SyntheticPubKey(sk.PubKey(), hidden)

	require.Equal(
		t, synthPk.SerializeCompressed(),
		synthSk.PubKey().SerializeCompressed(),
	)
	require.NotEqual(
		t, sk.PubKey().SerializeCompressed(),
		synthPk.SerializeCompressed(),
	)

	otherPk := SyntheticPubKey(sk.PubKey(), program.Hash{})
	require.NotEqual(
		t, synthPk.SerializeCompressed(), otherPk.SerializeCompressed(),
	)
}

func TestAggregateVerify(t *testing.T) {
	t.Parallel()

	var (
		pairs []PubKeyMessage
		sigs  [][]byte
	)
	for i := 0; i < 3; i++ {
		sk, err := btcec.NewPrivateKey()
		require.NoError(t, err)

		msg := AggSigMeMessage(
			[]byte{byte(i)}, program.Sha256([]byte{byte(i)}),
			[]byte("net"),
		)
		sig, err := Sign(sk, msg)
		require.NoError(t, err)
		require.True(t, Verify(sk.PubKey().SerializeCompressed(), msg, sig))

		pairs = append(pairs, PubKeyMessage{
			PubKey:  sk.PubKey().SerializeCompressed(),
			Message: msg,
		})
		sigs = append(sigs, sig)
	}

	agg, err := Aggregate(sigs)
	require.NoError(t, err)
	require.NoError(t, AggregateVerify(pairs, agg))

	// Reordering the pairs breaks verification.
	swapped := []PubKeyMessage{pairs[1], pairs[0], pairs[2]}
	err = AggregateVerify(swapped, agg)
	require.ErrorIs(t, err, ErrSignatureAggregationFailed)

	// So does a missing signature.
	err = AggregateVerify(pairs, agg[:2*SignatureSize])
	require.ErrorIs(t, err, ErrSignatureAggregationFailed)

	// A message signed under one key does not verify under another.
	require.False(t, Verify(pairs[1].PubKey, pairs[0].Message, sigs[0]))

	_, err = Aggregate([][]byte{{1, 2}})
	require.Error(t, err)
}
