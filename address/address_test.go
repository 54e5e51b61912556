package address

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/lightninglabs/clawback/program"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestAddressEncoding checks that every puzzle hash survives an encoding
// round trip on every network.
func TestAddressEncoding(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		var ph program.Hash
		copy(ph[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "ph"))

		net := rapid.SampledFrom(
			[]*ChainParams{&MainNet, &TestNet10, &SimNet},
		).Draw(t, "net")

		encoded, err := New(ph, net).Encode()
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(encoded, net.HRP+"1"))

		decoded, err := DecodeForNet(encoded, net)
		require.NoError(t, err)
		require.Equal(t, ph, decoded.PuzzleHash)
		require.Equal(t, net.HRP, decoded.HRP)

		upper, err := DecodeAddress(strings.ToUpper(encoded))
		require.NoError(t, err)
		require.Equal(t, ph, upper.PuzzleHash)
	})
}

func TestAddressErrors(t *testing.T) {
	t.Parallel()

	var ph program.Hash
	ph[0] = 1

	mainnet, err := New(ph, &MainNet).Encode()
	require.NoError(t, err)

	_, err = DecodeForNet(mainnet, &TestNet10)
	require.ErrorIs(t, err, ErrMismatchedHRP)

	_, err = (&Address{HRP: "bc", PuzzleHash: ph}).Encode()
	require.ErrorIs(t, err, ErrUnsupportedHRP)

	converted, err := bech32.ConvertBits(ph[:], 8, 5, true)
	require.NoError(t, err)

	unknown, err := bech32.EncodeM("bc", converted)
	require.NoError(t, err)
	_, err = DecodeAddress(unknown)
	require.ErrorIs(t, err, ErrUnsupportedHRP)

	// Plain bech32 is not accepted.
	legacy, err := bech32.Encode(Bech32HRPMainnet, converted)
	require.NoError(t, err)
	_, err = DecodeAddress(legacy)
	require.Error(t, err)

	short, err := bech32.ConvertBits(ph[:20], 8, 5, true)
	require.NoError(t, err)
	truncated, err := bech32.EncodeM(Bech32HRPMainnet, short)
	require.NoError(t, err)
	_, err = DecodeAddress(truncated)
	require.ErrorIs(t, err, ErrInvalidPayload)

	last := "q"
	if strings.HasSuffix(mainnet, "q") {
		last = "p"
	}
	_, err = DecodeAddress(mainnet[:len(mainnet)-1] + last)
	require.Error(t, err)
}

func TestNetworks(t *testing.T) {
	t.Parallel()

	params, err := Net("TESTNET10")
	require.NoError(t, err)
	require.Equal(t, &TestNet10, params)

	_, err = Net("regtest")
	require.ErrorIs(t, err, ErrUnknownNetwork)

	err = Register(&ChainParams{Name: MainNet.Name, HRP: "x"})
	require.ErrorIs(t, err, ErrDuplicateNetwork)

	require.NotEqual(t, MainNet.GenesisChallenge, TestNet10.GenesisChallenge)
}
