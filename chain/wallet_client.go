package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/lightninglabs/clawback/address"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/program"
)

// WalletClient talks to the wallet RPC service.
type WalletClient struct {
	rpc *rpcClient
}

// A compile-time assertion to ensure WalletClient satisfies the Wallet
// interface.
var _ Wallet = (*WalletClient)(nil)

// NewWalletClient creates a client of the wallet at cfg.Host.
func NewWalletClient(cfg *RPCConfig) (*WalletClient, error) {
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	rpc := newRPCClient(
		"wallet", "https://"+cfg.Host, httpClient,
		cfg.RateLimit,
	)
	rpc.userAgent = cfg.UserAgent

	return &WalletClient{rpc: rpc}, nil
}

// SelectCoins returns wallet coins covering at least amount.
func (w *WalletClient) SelectCoins(ctx context.Context, amount uint64,
	walletID uint32) ([]coin.Coin, error) {

	req := struct {
		Amount   uint64 `json:"amount"`
		WalletID uint32 `json:"wallet_id"`
	}{amount, walletID}

	var resp struct {
		Coins []jsonCoin `json:"coins"`
	}
	err := w.rpc.call(ctx, "select_coins", req, &resp)

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) &&
		strings.Contains(strings.ToLower(rpcErr.Message), "balance") {

		return nil, fmt.Errorf("%w: %s", ErrNoCoins, rpcErr.Message)
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Coins) == 0 {
		return nil, ErrNoCoins
	}

	coins := make([]coin.Coin, 0, len(resp.Coins))
	for _, c := range resp.Coins {
		coins = append(coins, c.coin())
	}

	return coins, nil
}

// SpendableCoins returns wallet coins worth at least minAmount each.
func (w *WalletClient) SpendableCoins(ctx context.Context, walletID uint32,
	minAmount uint64) ([]coin.Coin, error) {

	req := struct {
		WalletID      uint32 `json:"wallet_id"`
		MinCoinAmount uint64 `json:"min_coin_amount"`
	}{walletID, minAmount}

	var resp struct {
		ConfirmedRecords []jsonCoinRecord `json:"confirmed_records"`
	}
	err := w.rpc.call(ctx, "get_spendable_coins", req, &resp)
	if err != nil {
		return nil, err
	}

	coins := make([]coin.Coin, 0, len(resp.ConfirmedRecords))
	for _, r := range resp.ConfirmedRecords {
		if r.Coin.Amount < minAmount {
			continue
		}
		coins = append(coins, r.Coin.coin())
	}

	return coins, nil
}

// LoggedInFingerprint returns the fingerprint of the active key.
func (w *WalletClient) LoggedInFingerprint(ctx context.Context) (uint32,
	error) {

	var resp struct {
		Fingerprint uint32 `json:"fingerprint"`
	}
	err := w.rpc.call(
		ctx, "get_logged_in_fingerprint", struct{}{}, &resp,
	)
	if err != nil {
		return 0, err
	}

	return resp.Fingerprint, nil
}

// PrivateKeyMaterial returns the master secret for a fingerprint.
func (w *WalletClient) PrivateKeyMaterial(ctx context.Context,
	fingerprint uint32) ([]byte, error) {

	req := struct {
		Fingerprint uint32 `json:"fingerprint"`
	}{fingerprint}

	var resp struct {
		PrivateKey struct {
			Fingerprint uint32 `json:"fingerprint"`
			SK          string `json:"sk"`
		} `json:"private_key"`
	}
	err := w.rpc.call(ctx, "get_private_key", req, &resp)
	if err != nil {
		return nil, err
	}

	sk, err := hex.DecodeString(
		strings.TrimPrefix(resp.PrivateKey.SK, "0x"),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if len(sk) == 0 {
		return nil, fmt.Errorf("wallet returned no key for "+
			"fingerprint %d", fingerprint)
	}

	return sk, nil
}

// CurrentDerivationIndex returns the highest derivation index the wallet has
// handed out.
func (w *WalletClient) CurrentDerivationIndex(ctx context.Context) (uint32,
	error) {

	var resp struct {
		Index uint32 `json:"index"`
	}
	err := w.rpc.call(
		ctx, "get_current_derivation_index", struct{}{}, &resp,
	)
	if err != nil {
		return 0, err
	}

	return resp.Index, nil
}

// NextAddress returns a fresh receive puzzle hash.
func (w *WalletClient) NextAddress(ctx context.Context,
	walletID uint32) (program.Hash, error) {

	req := struct {
		WalletID   uint32 `json:"wallet_id"`
		NewAddress bool   `json:"new_address"`
	}{walletID, true}

	var resp struct {
		Address string `json:"address"`
	}
	err := w.rpc.call(ctx, "get_next_address", req, &resp)
	if err != nil {
		return program.Hash{}, err
	}

	addr, err := address.DecodeAddress(resp.Address)
	if err != nil {
		return program.Hash{}, fmt.Errorf("wallet returned invalid "+
			"address: %w", err)
	}

	return addr.PuzzleHash, nil
}
