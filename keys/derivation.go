package keys

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// PurposeIndex, CoinTypeIndex and WalletAccount make up the fixed
	// prefix of every wallet key path: m/12381/8444/2/index.
	PurposeIndex  uint32 = 12381
	CoinTypeIndex uint32 = 8444
	WalletAccount uint32 = 2
)

var (
	// ErrInvalidSeed is returned when the key material is not usable as
	// an HD seed.
	ErrInvalidSeed = errors.New("keys: invalid seed")
)

// KeyMatch is the result of a key scan: the wallet key along with where in
// the derivation tree it was found.
type KeyMatch struct {
	Key      *btcec.PrivateKey
	Index    uint32
	Hardened bool
}

// Keychain derives wallet keys from a master extended key.
type Keychain struct {
	master *hdkeychain.ExtendedKey
}

// NewKeychain creates a keychain from raw seed bytes.
func NewKeychain(seed []byte) (*Keychain, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	return &Keychain{master: master}, nil
}

// Fingerprint returns the BIP32 fingerprint of the master public key, used to
// pick a key set in the wallet.
func (k *Keychain) Fingerprint() (uint32, error) {
	pub, err := k.master.ECPubKey()
	if err != nil {
		return 0, err
	}

	hash := btcutil.Hash160(pub.SerializeCompressed())

	return binary.BigEndian.Uint32(hash[:4]), nil
}

// DeriveWalletKey derives the key at m/12381/8444/2/index, with every step
// hardened if hardened is set.
func (k *Keychain) DeriveWalletKey(index uint32,
	hardened bool) (*btcec.PrivateKey, error) {

	path := []uint32{PurposeIndex, CoinTypeIndex, WalletAccount, index}

	key := k.master
	for _, step := range path {
		if hardened {
			step += hdkeychain.HardenedKeyStart
		}

		var err error
		key, err = key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("unable to derive step %d: %w",
				step, err)
		}
	}

	return key.ECPrivKey()
}

// FindKey scans indices 0 through maxIndex inclusive, trying the hardened key
// before the unhardened one at every index, and returns the first key whose
// public key satisfies match.
func (k *Keychain) FindKey(maxIndex uint32,
	match func(*btcec.PublicKey) bool) (fn.Option[KeyMatch], error) {

	for i := uint32(0); i <= maxIndex; i++ {
		for _, hardened := range []bool{true, false} {
			sk, err := k.DeriveWalletKey(i, hardened)
			if err != nil {
				return fn.None[KeyMatch](), err
			}

			if match(sk.PubKey()) {
				return fn.Some(KeyMatch{
					Key:      sk,
					Index:    i,
					Hardened: hardened,
				}), nil
			}
		}

		// Guard against wrap around when maxIndex is the max value.
		if i == ^uint32(0) {
			break
		}
	}

	return fn.None[KeyMatch](), nil
}
