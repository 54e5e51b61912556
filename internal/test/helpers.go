package test

import (
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/clawback/program"
	"github.com/stretchr/testify/require"
)

// RandBool rolls a random boolean.
func RandBool() bool {
	return rand.Int()%2 == 0
}

// RandInt makes a random integer of the specified type.
func RandInt[T ~int32 | ~uint32 | ~int64 | ~uint64]() T {
	return T(rand.Int63()) // nolint:gosec
}

func RandPrivKey(t testing.TB) *btcec.PrivateKey {
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return privKey
}

func RandPubKey(t testing.TB) *btcec.PublicKey {
	return RandPrivKey(t).PubKey()
}

func RandBytes(num int) []byte {
	randBytes := make([]byte, num)
	_, _ = rand.Read(randBytes)
	return randBytes
}

// RandHash returns a random 32-byte hash.
func RandHash() program.Hash {
	var h program.Hash
	copy(h[:], RandBytes(program.HashSize))
	return h
}

// RandSeed returns a random wallet seed.
func RandSeed() []byte {
	return RandBytes(32)
}
