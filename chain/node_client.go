package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/program"
)

// NodeClient talks to the full node RPC service.
type NodeClient struct {
	rpc *rpcClient
}

// A compile-time assertion to ensure NodeClient satisfies the Node interface.
var _ Node = (*NodeClient)(nil)

// NewNodeClient creates a client of the full node at cfg.Host.
func NewNodeClient(cfg *RPCConfig) (*NodeClient, error) {
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	rpc := newRPCClient(
		"node", "https://"+cfg.Host, httpClient, cfg.RateLimit,
	)
	rpc.userAgent = cfg.UserAgent

	return &NodeClient{rpc: rpc}, nil
}

// CoinRecordByID returns the record of a coin, or ErrCoinNotFound.
func (n *NodeClient) CoinRecordByID(ctx context.Context,
	id coin.ID) (*coin.Record, error) {

	req := struct {
		Name hexHash `json:"name"`
	}{hexHash(id)}

	var resp struct {
		CoinRecord *jsonCoinRecord `json:"coin_record"`
	}
	err := n.rpc.call(ctx, "get_coin_record_by_name", req, &resp)
	switch {
	case isNotFound(err):
		return nil, fmt.Errorf("%w: %v", ErrCoinNotFound, id)

	case err != nil:
		return nil, err

	case resp.CoinRecord == nil:
		return nil, fmt.Errorf("%w: %v", ErrCoinNotFound, id)
	}

	return resp.CoinRecord.record(), nil
}

// CoinRecordsByPuzzleHash returns all coins locked by a puzzle hash.
func (n *NodeClient) CoinRecordsByPuzzleHash(ctx context.Context,
	puzzleHash program.Hash, includeSpent bool) ([]*coin.Record, error) {

	req := struct {
		PuzzleHash        hexHash `json:"puzzle_hash"`
		IncludeSpentCoins bool    `json:"include_spent_coins"`
	}{hexHash(puzzleHash), includeSpent}

	var resp struct {
		CoinRecords []jsonCoinRecord `json:"coin_records"`
	}
	err := n.rpc.call(ctx, "get_coin_records_by_puzzle_hash", req, &resp)
	if err != nil {
		return nil, err
	}

	records := make([]*coin.Record, 0, len(resp.CoinRecords))
	for _, r := range resp.CoinRecords {
		records = append(records, r.record())
	}

	return records, nil
}

// PuzzleAndSolution returns the spend of a coin that was spent at height.
func (n *NodeClient) PuzzleAndSolution(ctx context.Context, id coin.ID,
	height uint32) (*coin.Spend, error) {

	req := struct {
		CoinID hexHash `json:"coin_id"`
		Height uint32  `json:"height"`
	}{hexHash(id), height}

	var resp struct {
		CoinSolution *jsonCoinSpend `json:"coin_solution"`
	}
	err := n.rpc.call(ctx, "get_puzzle_and_solution", req, &resp)
	switch {
	case isNotFound(err):
		return nil, fmt.Errorf("%w: no spend of %v at height %d",
			ErrCoinNotFound, id, height)

	case err != nil:
		return nil, err

	case resp.CoinSolution == nil:
		return nil, fmt.Errorf("%w: no spend of %v at height %d",
			ErrCoinNotFound, id, height)
	}

	spend, err := resp.CoinSolution.spend()
	if err != nil {
		return nil, err
	}
	if spend.Coin.ID() != id {
		return nil, fmt.Errorf("node returned the spend of %v for %v",
			spend.Coin.ID(), id)
	}

	return spend, nil
}

// BlockRecordByHeight returns the block at height.
func (n *NodeClient) BlockRecordByHeight(ctx context.Context,
	height uint32) (*coin.BlockRecord, error) {

	req := struct {
		Height uint32 `json:"height"`
	}{height}

	var resp struct {
		BlockRecord *jsonBlockRecord `json:"block_record"`
	}
	err := n.rpc.call(ctx, "get_block_record_by_height", req, &resp)
	switch {
	case isNotFound(err):
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound,
			height)

	case err != nil:
		return nil, err

	case resp.BlockRecord == nil:
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound,
			height)
	}

	return resp.BlockRecord.blockRecord(), nil
}

// PushTx submits a bundle to the mempool. A refusal is reported as a
// *LedgerRejectedError.
func (n *NodeClient) PushTx(ctx context.Context,
	bundle *coin.SpendBundle) error {

	req := struct {
		SpendBundle jsonSpendBundle `json:"spend_bundle"`
	}{newJSONSpendBundle(bundle)}

	var resp struct {
		Status string `json:"status"`
	}
	err := n.rpc.call(ctx, "push_tx", req, &resp)

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return NewLedgerRejectedError(rpcErr.Message)
	}
	if err != nil {
		return err
	}

	switch strings.ToUpper(resp.Status) {
	case "SUCCESS", "PENDING":
		log.Debugf("Bundle with %d spends accepted: %s",
			len(bundle.Spends), resp.Status)
		return nil

	default:
		return NewLedgerRejectedError(resp.Status)
	}
}
