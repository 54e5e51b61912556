package cbdb

import (
	"context"
	"testing"
	"time"

	"github.com/lightninglabs/clawback/cbsend"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/internal/simchain"
	"github.com/lightninglabs/clawback/internal/test"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/stretchr/testify/require"
)

var testGenesis = []byte("cbdb-test-genesis")

func newTestLedger(t *testing.T, resolver EscrowResolver,
	keys KeyFinder) *CoinLedger {

	db := NewTestDB(t)
	t.Logf("Using %s coin store", activeTestDB)

	return NewCoinLedger(NewBatchedCoinStore(db.BaseDB), resolver, keys)
}

func randEscrowedCoin() cbsend.EscrowedCoin {
	return cbsend.EscrowedCoin{
		Coin: coin.Coin{
			ParentID:   test.RandHash(),
			PuzzleHash: test.RandHash(),
			Amount:     uint64(test.RandInt[uint32]()) + 1,
		},
		Kind:            puzzle.KindDirect,
		Sender:          test.RandHash(),
		Recipient:       test.RandHash(),
		Timelock:        1209600,
		DerivationIndex: 3,
		Hardened:        test.RandBool(),
	}
}

// TestCoinLedgerLifecycle inserts a record, marks it spent and purges it.
func TestCoinLedgerLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newTestLedger(t, nil, nil)

	escrowed := randEscrowedCoin()
	rec, err := ledger.RecordNewCoin(ctx, escrowed)
	require.NoError(t, err)
	require.Zero(t, rec.ConfirmedHeight)
	require.Zero(t, rec.SpentHeight)
	require.False(t, rec.Spent)

	dbRec, err := ledger.FetchRecord(ctx, escrowed.Coin.ID())
	require.NoError(t, err)
	require.Equal(t, rec, dbRec)

	// The coin id is the primary key.
	_, err = ledger.RecordNewCoin(ctx, escrowed)
	var uniqueErr *ErrSqlUniqueConstraintViolation
	require.ErrorAs(t, err, &uniqueErr)

	unspent, err := ledger.ListUnspent(ctx)
	require.NoError(t, err)
	require.Len(t, unspent, 1)

	byRecipient, err := ledger.ListByRecipient(ctx, escrowed.Recipient)
	require.NoError(t, err)
	require.Equal(t, unspent, byRecipient)

	err = ledger.MarkSpent(ctx, escrowed.Coin.ID(), 0)
	require.ErrorIs(t, err, ErrInvalidSpentHeight)

	err = ledger.MarkSpent(ctx, test.RandHash(), 5)
	require.ErrorIs(t, err, ErrCoinRecordNotFound)

	require.NoError(t, ledger.MarkSpent(ctx, escrowed.Coin.ID(), 7))
	dbRec, err = ledger.FetchRecord(ctx, escrowed.Coin.ID())
	require.NoError(t, err)
	require.True(t, dbRec.Spent)
	require.EqualValues(t, 7, dbRec.SpentHeight)

	unspent, err = ledger.ListUnspent(ctx)
	require.NoError(t, err)
	require.Empty(t, unspent)

	require.NoError(t, ledger.DeleteRecord(ctx, escrowed.Coin.ID()))
	_, err = ledger.FetchRecord(ctx, escrowed.Coin.ID())
	require.ErrorIs(t, err, ErrCoinRecordNotFound)

	err = ledger.DeleteRecord(ctx, escrowed.Coin.ID())
	require.ErrorIs(t, err, ErrCoinRecordNotFound)
}

// TestListUnspentOrder checks that unspent records come back oldest first.
func TestListUnspentOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newTestLedger(t, nil, nil)

	var recs []*CoinRecord
	for _, height := range []uint32{30, 10, 0, 20} {
		escrowed := randEscrowedCoin()
		rec := &CoinRecord{
			Coin:            escrowed.Coin,
			Kind:            escrowed.Kind,
			Sender:          escrowed.Sender,
			Recipient:       escrowed.Recipient,
			Timelock:        escrowed.Timelock,
			ConfirmedHeight: height,
			Timestamp:       uint64(height) * 20,
		}
		recs = append(recs, rec)
	}
	require.NoError(t, ledger.upsert(ctx, recs))

	unspent, err := ledger.ListUnspent(ctx)
	require.NoError(t, err)
	require.Len(t, unspent, 4)

	heights := make([]uint32, 0, len(unspent))
	for _, rec := range unspent {
		heights = append(heights, rec.ConfirmedHeight)
	}
	require.Equal(t, []uint32{0, 10, 20, 30}, heights)
}

func TestTimeRemaining(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_001_000, 0)

	rec := &CoinRecord{Timelock: 600}
	require.Equal(t, 10*time.Minute, rec.TimeRemaining(now))

	rec.ConfirmedHeight = 4
	rec.Timestamp = 1_700_000_500
	require.Equal(t, 100*time.Second, rec.TimeRemaining(now))

	rec.Timestamp = 1_700_000_000
	require.Zero(t, rec.TimeRemaining(now))
}

// TestReconcile funds a direct escrow, reconciles it against the chain and
// follows it through its clawback.
func TestReconcile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := puzzle.NewRegistry()
	c := simchain.New(simchain.Config{
		Registry:         registry,
		GenesisChallenge: testGenesis,
	})

	senderWallet, err := simchain.NewWallet(c, registry, test.RandSeed())
	require.NoError(t, err)
	recipientWallet, err := simchain.NewWallet(
		c, registry, test.RandSeed(),
	)
	require.NoError(t, err)

	senderPH, err := senderWallet.PuzzleHash(0, false)
	require.NoError(t, err)
	recipientPH, err := recipientWallet.PuzzleHash(0, false)
	require.NoError(t, err)

	assembler := cbsend.NewAssembler(&cbsend.Config{
		Registry:         registry,
		Node:             c,
		Wallet:           senderWallet,
		WalletID:         simchain.DefaultWalletID,
		GenesisChallenge: testGenesis,
	})
	ledger := newTestLedger(t, assembler, assembler.KeyRing())

	c.Mint(senderPH, 100000)

	sender, err := assembler.KeyRing().Identity(ctx, senderPH)
	require.NoError(t, err)
	terms := puzzle.Terms{
		Mode:      puzzle.ModeDirect,
		Timelock:  3600,
		Sender:    sender,
		Recipient: puzzle.Identity{PuzzleHash: recipientPH},
	}

	funded, err := assembler.Fund(ctx, cbsend.FundRequest{
		Terms:  terms,
		Amount: 40000,
		Fee:    10,
	})
	require.NoError(t, err)
	escrowed := funded.Escrowed[0]
	id := escrowed.Coin.ID()

	rec, err := ledger.RecordNewCoin(ctx, escrowed)
	require.NoError(t, err)

	// Until the bundle confirms there is nothing to reconcile against.
	unspent, err := ledger.ReconcileUnspent(ctx)
	require.NoError(t, err)
	require.Equal(t, []*CoinRecord{rec}, unspent)

	require.NoError(t, c.PushTx(ctx, funded.Bundle))
	tip := c.Tip()

	reconciled, err := ledger.Reconcile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, tip.Height, reconciled.ConfirmedHeight)
	require.Equal(t, tip.Timestamp, reconciled.Timestamp)
	require.Equal(t, puzzle.KindDirect, reconciled.Kind)
	require.Equal(t, senderPH, reconciled.Sender)
	require.Equal(t, recipientPH, reconciled.Recipient)
	require.EqualValues(t, 3600, reconciled.Timelock)
	require.Equal(t, escrowed.DerivationIndex, reconciled.DerivationIndex)
	require.Equal(t, escrowed.Hardened, reconciled.Hardened)
	require.False(t, reconciled.Spent)

	// Reconciling again changes nothing.
	again, err := ledger.Reconcile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, reconciled, again)

	// A plain payment is not an escrow output and is left alone.
	sent, err := assembler.Send(ctx, recipientPH, 1000, 0)
	require.NoError(t, err)
	require.NoError(t, c.PushTx(ctx, sent.Bundle))

	var plain coin.Coin
	for _, s := range sent.Bundle.Spends {
		additions, err := registry.Additions(s)
		require.NoError(t, err)
		for _, a := range additions {
			if a.PuzzleHash == recipientPH {
				plain = a
			}
		}
	}
	require.NotZero(t, plain.Amount)

	_, err = ledger.Reconcile(ctx, plain.ID())
	require.ErrorIs(t, err, puzzle.ErrInvalidEscrowCoin)

	bogus := &CoinRecord{
		Coin:      plain,
		Kind:      puzzle.KindDirect,
		Sender:    senderPH,
		Recipient: recipientPH,
		Timelock:  1,
	}
	require.NoError(t, ledger.upsert(ctx, []*CoinRecord{bogus}))

	unspent, err = ledger.ReconcileUnspent(ctx)
	require.NoError(t, err)
	require.Len(t, unspent, 2)
	require.Equal(t, bogus, unspent[0])
	require.Equal(t, reconciled, unspent[1])

	// Once clawed back, the escrow drops out of the unspent set.
	clawed, err := assembler.Clawback(ctx, cbsend.ClawbackRequest{
		CoinID: id,
	})
	require.NoError(t, err)
	require.NoError(t, c.PushTx(ctx, clawed.Bundle))

	unspent, err = ledger.ReconcileUnspent(ctx)
	require.NoError(t, err)
	require.Equal(t, []*CoinRecord{bogus}, unspent)

	spent, err := ledger.FetchRecord(ctx, id)
	require.NoError(t, err)
	require.True(t, spent.Spent)
	require.Equal(t, c.Tip().Height, spent.SpentHeight)
}

// TestReconcileKeepsDerivation checks that both reconcile paths keep the key
// location recorded at funding time when the ledger cannot find the key.
func TestReconcileKeepsDerivation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := puzzle.NewRegistry()
	c := simchain.New(simchain.Config{
		Registry:         registry,
		GenesisChallenge: testGenesis,
	})

	w, err := simchain.NewWallet(c, registry, test.RandSeed())
	require.NoError(t, err)
	senderPH, err := w.PuzzleHash(0, false)
	require.NoError(t, err)

	assembler := cbsend.NewAssembler(&cbsend.Config{
		Registry:         registry,
		Node:             c,
		Wallet:           w,
		WalletID:         simchain.DefaultWalletID,
		GenesisChallenge: testGenesis,
	})

	// Without a key finder the chain is the only source of truth.
	ledger := newTestLedger(t, assembler, nil)

	c.Mint(senderPH, 50000)
	sender, err := assembler.KeyRing().Identity(ctx, senderPH)
	require.NoError(t, err)

	funded, err := assembler.Fund(ctx, cbsend.FundRequest{
		Terms: puzzle.Terms{
			Mode:      puzzle.ModeDirect,
			Timelock:  3600,
			Sender:    sender,
			Recipient: puzzle.Identity{PuzzleHash: test.RandHash()},
		},
		Amount: 20000,
	})
	require.NoError(t, err)
	require.NoError(t, c.PushTx(ctx, funded.Bundle))

	escrowed := funded.Escrowed[0]
	escrowed.DerivationIndex = 7
	escrowed.Hardened = true
	id := escrowed.Coin.ID()

	_, err = ledger.RecordNewCoin(ctx, escrowed)
	require.NoError(t, err)

	single, err := ledger.Reconcile(ctx, id)
	require.NoError(t, err)
	require.NotZero(t, single.ConfirmedHeight)
	require.EqualValues(t, 7, single.DerivationIndex)
	require.True(t, single.Hardened)

	unspent, err := ledger.ReconcileUnspent(ctx)
	require.NoError(t, err)
	require.Equal(t, []*CoinRecord{single}, unspent)

	// A coin reconciled without a prior record has no key location.
	require.NoError(t, ledger.DeleteRecord(ctx, id))
	fresh, err := ledger.Reconcile(ctx, id)
	require.NoError(t, err)
	require.Zero(t, fresh.DerivationIndex)
	require.False(t, fresh.Hardened)
}
