package address

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/lightninglabs/clawback/program"
)

// Human-readable prefixes for bech32m encoded addresses for each network.
const (
	Bech32HRPMainnet = "xch"
	Bech32HRPTestnet = "txch"
	Bech32HRPSimnet  = "txch"
)

// ChainParams defines a network by its name, the HRP of its addresses and the
// genesis challenge that is signed into every AGG_SIG_ME message.
type ChainParams struct {
	// Name is the name used to select the network in the config.
	Name string

	// HRP is the human-readable part of addresses on the network.
	HRP string

	// GenesisChallenge is the additional data of AGG_SIG_ME messages.
	GenesisChallenge program.Hash
}

func mustHash(s string) program.Hash {
	var h program.Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != program.HashSize {
		panic(fmt.Sprintf("invalid genesis challenge %q", s))
	}
	copy(h[:], b)

	return h
}

var (
	// MainNet is the main network.
	MainNet = ChainParams{
		Name: "mainnet",
		HRP:  Bech32HRPMainnet,
		GenesisChallenge: mustHash(
			"ccd5bb71183532bff220ba46c268991a3ff07eb358e8255a65c3" +
				"0a2dce0e5fbb",
		),
	}

	// TestNet10 is the long running public test network.
	TestNet10 = ChainParams{
		Name: "testnet10",
		HRP:  Bech32HRPTestnet,
		GenesisChallenge: mustHash(
			"ae83525ba8d1dd3f09b277de18ca3e43fc0af20d20c4b3e92ef2" +
				"a48bd291ccb2",
		),
	}

	// SimNet is a local simulator network.
	SimNet = ChainParams{
		Name:             "simnet",
		HRP:              Bech32HRPSimnet,
		GenesisChallenge: program.Sha256([]byte("simnet")),
	}

	registryMtx sync.RWMutex
	networks    = map[string]*ChainParams{
		MainNet.Name:   &MainNet,
		TestNet10.Name: &TestNet10,
		SimNet.Name:    &SimNet,
	}
)

// Register adds a custom network.
func Register(params *ChainParams) error {
	registryMtx.Lock()
	defer registryMtx.Unlock()

	if _, ok := networks[params.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNetwork, params.Name)
	}
	networks[params.Name] = params

	return nil
}

// Net returns the parameters of the named network.
func Net(name string) (*ChainParams, error) {
	registryMtx.RLock()
	defer registryMtx.RUnlock()

	params, ok := networks[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}

	return params, nil
}

// IsKnownHRP returns whether the prefix is used by any registered network.
func IsKnownHRP(hrp string) bool {
	registryMtx.RLock()
	defer registryMtx.RUnlock()

	hrp = strings.ToLower(hrp)
	for _, params := range networks {
		if params.HRP == hrp {
			return true
		}
	}

	return false
}
