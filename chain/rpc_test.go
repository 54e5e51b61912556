package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lightninglabs/clawback/address"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/program"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

// handlerFunc answers one endpoint. The returned value is merged into a
// successful response, a returned error becomes a service error.
type handlerFunc func(req map[string]any) (map[string]any, error)

// fakeService is a JSON RPC service serving a fixed set of endpoints.
type fakeService struct {
	t        *testing.T
	handlers map[string]handlerFunc
	calls    atomic.Int32
}

func newFakeService(t *testing.T,
	handlers map[string]handlerFunc) *httptest.Server {

	svc := &fakeService{t: t, handlers: handlers}
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	return srv
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)

	handler, ok := f.handlers[r.URL.Path[1:]]
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)

	var req map[string]any
	require.NoError(f.t, json.Unmarshal(body, &req))

	resp, err := handler(req)
	if err != nil {
		resp = map[string]any{"success": false, "error": err.Error()}
	} else {
		resp["success"] = true
	}

	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(resp))
}

func hashArg(t *testing.T, v any) program.Hash {
	raw, err := hex.DecodeString(v.(string)[2:])
	require.NoError(t, err)

	var h program.Hash
	copy(h[:], raw)

	return h
}

func testCoin(amount uint64) coin.Coin {
	return coin.Coin{
		ParentID:   program.Sha256([]byte("parent")),
		PuzzleHash: program.Sha256([]byte("puzzle")),
		Amount:     amount,
	}
}

func TestNodeClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	known := &coin.Record{
		Coin:            testCoin(1000),
		ConfirmedHeight: 12,
		SpentHeight:     20,
		Spent:           true,
		Timestamp:       1_700_000_000,
	}
	spend := coin.NewSpend(
		known.Coin, program.List(program.Uint(1), program.Uint(2)),
		program.List(program.Bytes32(known.Coin.PuzzleHash)),
	)

	var pushed *coin.SpendBundle
	srv := newFakeService(t, map[string]handlerFunc{
		"get_coin_record_by_name": func(
			req map[string]any) (map[string]any, error) {

			id := hashArg(t, req["name"])
			if id != known.Coin.ID() {
				return nil, fmt.Errorf("Coin record %v not "+
					"found", id)
			}

			return map[string]any{
				"coin_record": newJSONCoinRecord(known),
			}, nil
		},
		"get_coin_records_by_puzzle_hash": func(
			req map[string]any) (map[string]any, error) {

			require.Equal(t, true, req["include_spent_coins"])
			return map[string]any{
				"coin_records": []jsonCoinRecord{
					newJSONCoinRecord(known),
				},
			}, nil
		},
		"get_puzzle_and_solution": func(
			req map[string]any) (map[string]any, error) {

			require.EqualValues(t, 20, req["height"])
			return map[string]any{
				"coin_solution": newJSONCoinSpend(spend),
			}, nil
		},
		"get_block_record_by_height": func(
			req map[string]any) (map[string]any, error) {

			height := uint32(req["height"].(float64))
			if height > 100 {
				return nil, fmt.Errorf("Block at height %d "+
					"not found", height)
			}

			return map[string]any{
				"block_record": map[string]any{
					"height":      height,
					"header_hash": hexHash{1},
					"timestamp":   nil,
				},
			}, nil
		},
		"push_tx": func(req map[string]any) (map[string]any, error) {
			raw, err := json.Marshal(req["spend_bundle"])
			require.NoError(t, err)

			var jb jsonSpendBundle
			require.NoError(t, json.Unmarshal(raw, &jb))
			bundle, err := jb.bundle()
			require.NoError(t, err)

			if pushed != nil {
				return nil, fmt.Errorf("Failed to include "+
					"transaction, error %s",
					ReasonSecondsRelativeFailed)
			}
			pushed = bundle

			return map[string]any{"status": "SUCCESS"}, nil
		},
	})

	node := &NodeClient{
		rpc: newRPCClient("node", srv.URL, srv.Client(), 0),
	}

	record, err := node.CoinRecordByID(ctx, known.Coin.ID())
	require.NoError(t, err)
	require.Equal(t, known, record)

	_, err = node.CoinRecordByID(ctx, program.Hash{9})
	require.ErrorIs(t, err, ErrCoinNotFound)

	records, err := node.CoinRecordsByPuzzleHash(
		ctx, known.Coin.PuzzleHash, true,
	)
	require.NoError(t, err)
	require.Equal(t, []*coin.Record{known}, records)

	got, err := node.PuzzleAndSolution(ctx, known.Coin.ID(), 20)
	require.NoError(t, err)
	require.Equal(t, spend.Coin, got.Coin)
	require.Equal(t, spend.PuzzleReveal.TreeHash(), got.PuzzleReveal.TreeHash())
	require.Equal(t, spend.Solution.TreeHash(), got.Solution.TreeHash())

	_, err = node.PuzzleAndSolution(ctx, program.Hash{9}, 20)
	require.Error(t, err)

	block, err := node.BlockRecordByHeight(ctx, 7)
	require.NoError(t, err)
	require.EqualValues(t, 7, block.Height)
	require.Zero(t, block.Timestamp)

	_, err = node.BlockRecordByHeight(ctx, 101)
	require.ErrorIs(t, err, ErrBlockNotFound)

	bundle := &coin.SpendBundle{
		Spends:              []*coin.Spend{spend},
		AggregatedSignature: []byte{1, 2, 3},
	}
	require.NoError(t, node.PushTx(ctx, bundle))
	require.Equal(t, bundle.AggregatedSignature, pushed.AggregatedSignature)
	require.Len(t, pushed.Spends, 1)
	require.Equal(t, spend.Coin, pushed.Spends[0].Coin)

	err = node.PushTx(ctx, bundle)
	var rejected *LedgerRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Contains(t, rejected.Reason, ReasonSecondsRelativeFailed)
	require.NotEmpty(t, rejected.Hint)
}

func TestWalletClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	next := program.Sha256([]byte("next"))
	nextAddr, err := address.New(next, &address.TestNet10).Encode()
	require.NoError(t, err)

	srv := newFakeService(t, map[string]handlerFunc{
		"select_coins": func(req map[string]any) (map[string]any,
			error) {

			if req["amount"].(float64) > 5000 {
				return nil, fmt.Errorf("Can't select amount " +
					"higher than our spendable balance")
			}

			return map[string]any{
				"coins": []jsonCoin{
					newJSONCoin(testCoin(3000)),
					newJSONCoin(testCoin(2000)),
				},
			}, nil
		},
		"get_spendable_coins": func(req map[string]any) (
			map[string]any, error) {

			return map[string]any{
				"confirmed_records": []jsonCoinRecord{
					newJSONCoinRecord(&coin.Record{
						Coin: testCoin(10),
					}),
					newJSONCoinRecord(&coin.Record{
						Coin: testCoin(500),
					}),
				},
			}, nil
		},
		"get_logged_in_fingerprint": func(map[string]any) (
			map[string]any, error) {

			return map[string]any{"fingerprint": 1234}, nil
		},
		"get_private_key": func(req map[string]any) (map[string]any,
			error) {

			if req["fingerprint"].(float64) != 1234 {
				return nil, fmt.Errorf("unknown fingerprint")
			}

			return map[string]any{
				"private_key": map[string]any{
					"fingerprint": 1234,
					"sk":          "0x0102030405",
				},
			}, nil
		},
		"get_current_derivation_index": func(map[string]any) (
			map[string]any, error) {

			return map[string]any{"index": 42}, nil
		},
		"get_next_address": func(req map[string]any) (map[string]any,
			error) {

			require.Equal(t, true, req["new_address"])
			return map[string]any{"address": nextAddr}, nil
		},
	})

	wallet := &WalletClient{
		rpc: newRPCClient("wallet", srv.URL, srv.Client(), 100),
	}

	coins, err := wallet.SelectCoins(ctx, 4000, 1)
	require.NoError(t, err)
	require.EqualValues(t, 5000, coin.SumAmounts(coins))

	_, err = wallet.SelectCoins(ctx, 6000, 1)
	require.ErrorIs(t, err, ErrNoCoins)

	spendable, err := wallet.SpendableCoins(ctx, 1, 100)
	require.NoError(t, err)
	require.Equal(t, []coin.Coin{testCoin(500)}, spendable)

	fingerprint, err := wallet.LoggedInFingerprint(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1234, fingerprint)

	sk, err := wallet.PrivateKeyMaterial(ctx, fingerprint)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, sk)

	_, err = wallet.PrivateKeyMaterial(ctx, 1)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, "get_private_key", rpcErr.Endpoint)

	index, err := wallet.CurrentDerivationIndex(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 42, index)

	ph, err := wallet.NextAddress(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, next, ph)
}

// TestCircuitBreaker checks that an unhealthy service stops receiving
// requests.
func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		},
	))
	t.Cleanup(srv.Close)

	node := &NodeClient{
		rpc: newRPCClient("node", srv.URL, srv.Client(), 0),
	}

	ctx := context.Background()
	for i := 0; i < breakerTripFailures; i++ {
		_, err := node.BlockRecordByHeight(ctx, 1)
		require.ErrorContains(t, err, "http status 503")
	}

	_, err := node.BlockRecordByHeight(ctx, 1)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.EqualValues(t, breakerTripFailures, hits.Load())
}
