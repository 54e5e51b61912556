package simchain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lightninglabs/clawback/chain"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/keys"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
)

// DefaultWalletID is the id of the standard wallet.
const DefaultWalletID = 1

// Wallet is a single-key wallet over a simulated chain. It owns the standard
// puzzles of every key it has handed out, in both derivation flavours.
type Wallet struct {
	chain    *Chain
	registry *puzzle.Registry
	seed     []byte
	keychain *keys.Keychain

	mu    sync.Mutex
	index uint32
	owned map[program.Hash]struct{}
}

// A compile-time assertion to ensure Wallet satisfies chain.Wallet.
var _ chain.Wallet = (*Wallet)(nil)

// NewWallet creates a wallet from seed and registers its first receive key.
func NewWallet(c *Chain, registry *puzzle.Registry,
	seed []byte) (*Wallet, error) {

	keychain, err := keys.NewKeychain(seed)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		chain:    c,
		registry: registry,
		seed:     append([]byte(nil), seed...),
		keychain: keychain,
		owned:    make(map[program.Hash]struct{}),
	}
	if err := w.own(0); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Wallet) own(index uint32) error {
	for _, hardened := range []bool{true, false} {
		sk, err := w.keychain.DeriveWalletKey(index, hardened)
		if err != nil {
			return err
		}
		w.owned[w.registry.StandardPuzzleHash(sk.PubKey())] = struct{}{}
	}

	return nil
}

// Keychain exposes the wallet keys.
func (w *Wallet) Keychain() *keys.Keychain {
	return w.keychain
}

// PuzzleHash returns the standard puzzle hash at index.
func (w *Wallet) PuzzleHash(index uint32, hardened bool) (program.Hash,
	error) {

	sk, err := w.keychain.DeriveWalletKey(index, hardened)
	if err != nil {
		return program.Hash{}, err
	}

	return w.registry.StandardPuzzleHash(sk.PubKey()), nil
}

func (w *Wallet) unspent(ctx context.Context) ([]coin.Coin, error) {
	w.mu.Lock()
	hashes := make([]program.Hash, 0, len(w.owned))
	for ph := range w.owned {
		hashes = append(hashes, ph)
	}
	w.mu.Unlock()

	var coins []coin.Coin
	for _, ph := range hashes {
		records, err := w.chain.CoinRecordsByPuzzleHash(ctx, ph, false)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			coins = append(coins, r.Coin)
		}
	}

	// Largest first, ties broken by id for determinism.
	sort.Slice(coins, func(i, j int) bool {
		if coins[i].Amount != coins[j].Amount {
			return coins[i].Amount > coins[j].Amount
		}
		a, b := coins[i].ID(), coins[j].ID()
		return string(a[:]) < string(b[:])
	})

	return coins, nil
}

// Balance returns the sum of the wallet's unspent coins.
func (w *Wallet) Balance(ctx context.Context) (uint64, error) {
	coins, err := w.unspent(ctx)
	if err != nil {
		return 0, err
	}

	return coin.SumAmounts(coins), nil
}

// SelectCoins picks the largest coins until amount is covered.
func (w *Wallet) SelectCoins(ctx context.Context, amount uint64,
	_ uint32) ([]coin.Coin, error) {

	coins, err := w.unspent(ctx)
	if err != nil {
		return nil, err
	}

	var (
		selected []coin.Coin
		total    uint64
	)
	for _, c := range coins {
		if total >= amount && len(selected) > 0 {
			break
		}
		selected = append(selected, c)
		total += c.Amount
	}
	if total < amount || len(selected) == 0 {
		return nil, fmt.Errorf("%w: have %d, need %d", chain.ErrNoCoins,
			total, amount)
	}

	return selected, nil
}

// SpendableCoins returns the wallet coins worth at least minAmount.
func (w *Wallet) SpendableCoins(ctx context.Context, _ uint32,
	minAmount uint64) ([]coin.Coin, error) {

	coins, err := w.unspent(ctx)
	if err != nil {
		return nil, err
	}

	var out []coin.Coin
	for _, c := range coins {
		if c.Amount >= minAmount {
			out = append(out, c)
		}
	}

	return out, nil
}

// LoggedInFingerprint returns the fingerprint of the wallet key.
func (w *Wallet) LoggedInFingerprint(_ context.Context) (uint32, error) {
	return w.keychain.Fingerprint()
}

// PrivateKeyMaterial returns the seed if fingerprint is the wallet's own.
func (w *Wallet) PrivateKeyMaterial(_ context.Context,
	fingerprint uint32) ([]byte, error) {

	own, err := w.keychain.Fingerprint()
	if err != nil {
		return nil, err
	}
	if own != fingerprint {
		return nil, fmt.Errorf("unknown fingerprint %d", fingerprint)
	}

	return append([]byte(nil), w.seed...), nil
}

// CurrentDerivationIndex returns the highest index handed out.
func (w *Wallet) CurrentDerivationIndex(_ context.Context) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.index, nil
}

// NextAddress hands out the unhardened puzzle hash at the next index.
func (w *Wallet) NextAddress(_ context.Context, _ uint32) (program.Hash,
	error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	w.index++
	if err := w.own(w.index); err != nil {
		return program.Hash{}, err
	}

	sk, err := w.keychain.DeriveWalletKey(w.index, false)
	if err != nil {
		return program.Hash{}, err
	}

	return w.registry.StandardPuzzleHash(sk.PubKey()), nil
}
