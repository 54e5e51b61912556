package simchain

import (
	"context"
	"testing"
	"time"

	"github.com/lightninglabs/clawback/chain"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/condition"
	"github.com/lightninglabs/clawback/internal/test"
	"github.com/lightninglabs/clawback/keys"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/stretchr/testify/require"
)

var testGenesis = []byte("simchain-genesis")

type harness struct {
	t        *testing.T
	registry *puzzle.Registry
	chain    *Chain
	wallet   *Wallet
}

func newHarness(t *testing.T) *harness {
	registry := puzzle.NewRegistry()
	c := New(Config{
		Registry:         registry,
		GenesisChallenge: testGenesis,
	})
	w, err := NewWallet(c, registry, test.RandSeed())
	require.NoError(t, err)

	return &harness{t: t, registry: registry, chain: c, wallet: w}
}

// standardSpend spends a wallet coin at index 0 (unhardened) with conds and
// signs it.
func (h *harness) standardSpend(c coin.Coin,
	conds []condition.Condition) *coin.SpendBundle {

	sk, err := h.wallet.Keychain().DeriveWalletKey(0, false)
	require.NoError(h.t, err)

	spend := coin.NewSpend(
		c, h.registry.StandardPuzzle(sk.PubKey()),
		puzzle.StandardSolution(conds),
	)
	pairs, err := h.registry.RequiredSignatures(spend, testGenesis)
	require.NoError(h.t, err)
	require.Len(h.t, pairs, 1)

	synthetic := keys.SyntheticPrivKey(sk, h.registry.HiddenPuzzleHash)
	sig, err := keys.Sign(synthetic, pairs[0].Message)
	require.NoError(h.t, err)

	return &coin.SpendBundle{
		Spends:              []*coin.Spend{spend},
		AggregatedSignature: sig,
	}
}

func requireRejected(t *testing.T, err error, reason string) {
	t.Helper()

	var rejected *chain.LedgerRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Contains(t, rejected.Reason, reason)
}

// TestPushTx checks that an accepted bundle moves value and that the same
// coin cannot be spent twice.
func TestPushTx(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	ph, err := h.wallet.PuzzleHash(0, false)
	require.NoError(t, err)
	funded := h.chain.Mint(ph, 1000)

	dest := test.RandHash()
	bundle := h.standardSpend(funded, []condition.Condition{
		condition.CreateCoin{PuzzleHash: dest, Amount: 600},
		condition.CreateCoin{PuzzleHash: ph, Amount: 390},
		condition.ReserveFee{Amount: 10},
	})
	require.NoError(t, h.chain.PushTx(ctx, bundle))

	record, err := h.chain.CoinRecordByID(ctx, funded.ID())
	require.NoError(t, err)
	require.True(t, record.Spent)

	spend, err := h.chain.PuzzleAndSolution(
		ctx, funded.ID(), record.SpentHeight,
	)
	require.NoError(t, err)
	require.True(t, spend.Solution.Equal(bundle.Spends[0].Solution))

	out, err := h.chain.CoinRecordsByPuzzleHash(ctx, dest, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.EqualValues(t, 600, out[0].Coin.Amount)

	balance, err := h.wallet.Balance(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 390, balance)

	err = h.chain.PushTx(ctx, bundle)
	requireRejected(t, err, chain.ReasonDoubleSpend)
}

// TestPushTxRejections covers the ledger rules.
func TestPushTxRejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	testCases := []struct {
		name   string
		conds  func(ph program.Hash) []condition.Condition
		tamper func(b *coin.SpendBundle)
		reason string
	}{{
		name: "minting",
		conds: func(ph program.Hash) []condition.Condition {
			return []condition.Condition{
				condition.CreateCoin{PuzzleHash: ph, Amount: 101},
			}
		},
		reason: "MINTING_COIN",
	}, {
		name: "fee too low",
		conds: func(ph program.Hash) []condition.Condition {
			return []condition.Condition{
				condition.CreateCoin{PuzzleHash: ph, Amount: 95},
				condition.ReserveFee{Amount: 10},
			}
		},
		reason: "RESERVE_FEE_CONDITION_FAILED",
	}, {
		name: "wrong amount",
		conds: func(ph program.Hash) []condition.Condition {
			return []condition.Condition{
				condition.AssertMyAmount{Amount: 99},
			}
		},
		reason: "ASSERT_MY_AMOUNT_FAILED",
	}, {
		name: "timelock",
		conds: func(ph program.Hash) []condition.Condition {
			return []condition.Condition{
				condition.AssertSecondsRelative{Seconds: 3600},
			}
		},
		reason: chain.ReasonSecondsRelativeFailed,
	}, {
		name: "missing announcement",
		conds: func(ph program.Hash) []condition.Condition {
			return []condition.Condition{
				condition.AssertCoinAnnouncement{
					ID: test.RandHash(),
				},
			}
		},
		reason: "ASSERT_ANNOUNCE_CONSUMED_FAILED",
	}, {
		name: "bad signature",
		conds: func(ph program.Hash) []condition.Condition {
			return []condition.Condition{
				condition.CreateCoin{PuzzleHash: ph, Amount: 100},
			}
		},
		tamper: func(b *coin.SpendBundle) {
			b.AggregatedSignature[0] ^= 0x01
		},
		reason: "BAD_AGGREGATE_SIGNATURE",
	}, {
		name: "wrong reveal",
		conds: func(ph program.Hash) []condition.Condition {
			return nil
		},
		tamper: func(b *coin.SpendBundle) {
			b.Spends[0].Coin.PuzzleHash[0] ^= 0x01
		},
		reason: "UNKNOWN_UNSPENT",
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			ph, err := h.wallet.PuzzleHash(0, false)
			require.NoError(t, err)
			funded := h.chain.Mint(ph, 100)

			bundle := h.standardSpend(funded, tc.conds(ph))
			if tc.tamper != nil {
				tc.tamper(bundle)
			}

			err = h.chain.PushTx(ctx, bundle)
			requireRejected(t, err, tc.reason)
		})
	}
}

// TestSecondsRelative checks that a relative timelock is measured from the
// confirmation of the spent coin.
func TestSecondsRelative(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	ph, err := h.wallet.PuzzleHash(0, false)
	require.NoError(t, err)
	funded := h.chain.Mint(ph, 100)

	locked := []condition.Condition{
		condition.AssertSecondsRelative{Seconds: 3600},
		condition.CreateCoin{PuzzleHash: ph, Amount: 100},
	}

	err = h.chain.PushTx(ctx, h.standardSpend(funded, locked))
	requireRejected(t, err, chain.ReasonSecondsRelativeFailed)

	var rejected *chain.LedgerRejectedError
	require.ErrorAs(t, err, &rejected)
	require.NotEmpty(t, rejected.Hint)

	h.chain.FarmBlock(time.Hour)
	require.NoError(t, h.chain.PushTx(ctx, h.standardSpend(funded, locked)))
}

// TestWalletSelection checks largest-first coin selection and address
// ownership.
func TestWalletSelection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	ph, err := h.wallet.PuzzleHash(0, false)
	require.NoError(t, err)
	h.chain.Mint(ph, 10)
	big := h.chain.Mint(ph, 500)

	next, err := h.wallet.NextAddress(ctx, DefaultWalletID)
	require.NoError(t, err)
	h.chain.Mint(next, 200)

	index, err := h.wallet.CurrentDerivationIndex(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, index)

	coins, err := h.wallet.SelectCoins(ctx, 400, DefaultWalletID)
	require.NoError(t, err)
	require.Equal(t, []coin.Coin{big}, coins)

	coins, err = h.wallet.SelectCoins(ctx, 600, DefaultWalletID)
	require.NoError(t, err)
	require.Len(t, coins, 2)
	require.EqualValues(t, 700, coin.SumAmounts(coins))

	_, err = h.wallet.SelectCoins(ctx, 711, DefaultWalletID)
	require.ErrorIs(t, err, chain.ErrNoCoins)

	spendable, err := h.wallet.SpendableCoins(ctx, DefaultWalletID, 100)
	require.NoError(t, err)
	require.Len(t, spendable, 2)

	fp, err := h.wallet.LoggedInFingerprint(ctx)
	require.NoError(t, err)
	_, err = h.wallet.PrivateKeyMaterial(ctx, fp)
	require.NoError(t, err)
	_, err = h.wallet.PrivateKeyMaterial(ctx, fp+1)
	require.Error(t, err)
}
