package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/lightninglabs/clawback/program"
)

var (
	// ErrUnsupportedHRP is returned when an address carries a prefix no
	// registered network uses.
	ErrUnsupportedHRP = errors.New("address: unsupported HRP value")

	// ErrMismatchedHRP is returned when an address is decoded for a network
	// it does not belong to.
	ErrMismatchedHRP = errors.New("address: network mismatch")

	// ErrInvalidPayload is returned when an address does not carry a 32
	// byte puzzle hash.
	ErrInvalidPayload = errors.New("address: invalid payload length")

	// ErrUnknownNetwork is returned for an unregistered network name.
	ErrUnknownNetwork = errors.New("address: unknown network")

	// ErrDuplicateNetwork is returned when a network is registered twice.
	ErrDuplicateNetwork = errors.New("address: duplicate network")
)

// Address is a puzzle hash on a given network.
type Address struct {
	// HRP is the human-readable prefix of the encoded address.
	HRP string

	// PuzzleHash is the tree hash of the puzzle paid by the address.
	PuzzleHash program.Hash
}

// New creates the address of a puzzle hash on net.
func New(puzzleHash program.Hash, net *ChainParams) *Address {
	return &Address{
		HRP:        net.HRP,
		PuzzleHash: puzzleHash,
	}
}

// IsForNet returns whether the address belongs to net.
func (a *Address) IsForNet(net *ChainParams) bool {
	return a.HRP == net.HRP
}

// Encode returns the bech32m string encoding of the address.
func (a *Address) Encode() (string, error) {
	if !IsKnownHRP(a.HRP) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedHRP, a.HRP)
	}

	// Group the address bytes into 5 bit groups, as this is what is used to
	// encode each character in the address string.
	converted, err := bech32.ConvertBits(a.PuzzleHash[:], 8, 5, true)
	if err != nil {
		return "", err
	}

	return bech32.EncodeM(a.HRP, converted)
}

// String returns the encoded address, or a placeholder if it cannot be
// encoded.
func (a *Address) String() string {
	s, err := a.Encode()
	if err != nil {
		return fmt.Sprintf("<invalid address: %v>", err)
	}

	return s
}

// DecodeAddress parses a bech32m encoded address of any registered network.
func DecodeAddress(addr string) (*Address, error) {
	hrp, data, version, err := bech32.DecodeGeneric(addr)
	if err != nil {
		return nil, err
	}
	if version != bech32.VersionM {
		return nil, fmt.Errorf("address is not bech32m encoded")
	}

	hrp = strings.ToLower(hrp)
	if !IsKnownHRP(hrp) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHRP, hrp)
	}

	// The remaining characters of the address returned are grouped into
	// words of 5 bits. In order to restore the puzzle hash, we'll need to
	// regroup into 8 bit words.
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(converted) != program.HashSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPayload,
			len(converted))
	}

	a := &Address{HRP: hrp}
	copy(a.PuzzleHash[:], converted)

	return a, nil
}

// DecodeForNet parses an address and checks it belongs to net.
func DecodeForNet(addr string, net *ChainParams) (*Address, error) {
	a, err := DecodeAddress(addr)
	if err != nil {
		return nil, err
	}
	if !a.IsForNet(net) {
		return nil, fmt.Errorf("%w: address is for %s, expected %s",
			ErrMismatchedHRP, a.HRP, net.HRP)
	}

	return a, nil
}
