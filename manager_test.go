package clawback

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/lightninglabs/clawback/address"
	"github.com/lightninglabs/clawback/cbdb"
	"github.com/lightninglabs/clawback/cbsend"
	"github.com/lightninglabs/clawback/chain"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/internal/simchain"
	"github.com/lightninglabs/clawback/internal/test"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const testTimelock = 3600

type testParty struct {
	wallet  *simchain.Wallet
	manager *Manager
	ph      program.Hash
}

type managerHarness struct {
	t        *testing.T
	ctx      context.Context
	registry *puzzle.Registry
	chain    *simchain.Chain
	clock    *clock.TestClock

	sender    *testParty
	recipient *testParty
}

func newManagerHarness(t *testing.T) *managerHarness {
	registry := puzzle.NewRegistry()
	h := &managerHarness{
		t:        t,
		ctx:      context.Background(),
		registry: registry,
		chain: simchain.New(simchain.Config{
			Registry:         registry,
			GenesisChallenge: address.SimNet.GenesisChallenge[:],
		}),
		clock: clock.NewTestClock(time.Unix(
			simchain.DefaultStartTime, 0,
		)),
	}
	h.sender = h.newParty()
	h.recipient = h.newParty()

	return h
}

func (h *managerHarness) newParty() *testParty {
	w, err := simchain.NewWallet(h.chain, h.registry, test.RandSeed())
	require.NoError(h.t, err)

	ph, err := w.PuzzleHash(0, false)
	require.NoError(h.t, err)

	db := cbdb.NewTestDB(h.t)

	return &testParty{
		wallet: w,
		manager: NewManager(&ManagerConfig{
			Registry: h.registry,
			Node:     h.chain,
			Wallet:   w,
			WalletID: simchain.DefaultWalletID,
			Params:   &address.SimNet,
			Store:    cbdb.NewBatchedCoinStore(db.BaseDB),
			Clock:    h.clock,
		}),
		ph: ph,
	}
}

func (h *managerHarness) show(p *testParty) []*EscrowStatus {
	h.t.Helper()

	statuses, err := p.manager.Show(h.ctx, ShowFilter{})
	require.NoError(h.t, err)

	return statuses
}

func amounts(statuses []*EscrowStatus) []uint64 {
	return fn.Map(statuses, func(s *EscrowStatus) uint64 {
		return s.Record.Coin.Amount
	})
}

// TestManagerRoutedLifecycle drives a validator escrow through funding,
// routing and clawback, checking the ledger after every step.
func TestManagerRoutedLifecycle(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)
	h.chain.Mint(h.sender.ph, 200000)
	m := h.sender.manager

	created, err := m.Create(h.ctx, CreateRequest{
		Mode:      puzzle.ModeValidator,
		Sender:    fn.Some(h.sender.ph),
		Recipient: h.recipient.ph,
		Timelock:  testTimelock,
		Amount:    100000,
		Fee:       10,
	})
	require.NoError(t, err)
	require.NoError(t, m.Publish(h.ctx, created))
	escrowID := created.Escrowed[0].Coin.ID()

	// The funding confirmed with the push, so the escrow is reconciled
	// to the tip block.
	tip := h.chain.Tip()
	h.clock.SetTime(time.Unix(int64(tip.Timestamp)+600, 0))

	statuses := h.show(h.sender)
	require.Len(t, statuses, 1)
	status := statuses[0]
	require.Equal(t, escrowID, status.Record.ID())
	require.Equal(t, tip.Height, status.Record.ConfirmedHeight)
	require.Equal(t, puzzle.KindValidator, status.Record.Kind)
	require.Equal(t, (testTimelock-600)*time.Second, status.TimeRemaining)
	require.Equal(t, address.Bech32HRPSimnet, status.Address.HRP)

	routed, err := m.Route(h.ctx, RouteRequest{
		CoinID: escrowID,
		Target: h.recipient.ph,
		Amount: 50000,
		Fee:    10,
	})
	require.NoError(t, err)
	require.NoError(t, m.Publish(h.ctx, routed))

	require.ElementsMatch(
		t, []uint64{49990, 50000}, amounts(h.show(h.sender)),
	)

	spent, err := m.Ledger().FetchRecord(h.ctx, escrowID)
	require.NoError(t, err)
	require.True(t, spent.Spent)
	require.NotZero(t, spent.SpentHeight)

	var dispatcher cbsend.EscrowedCoin
	for _, e := range routed.Escrowed {
		if e.Kind == puzzle.KindDispatcher {
			dispatcher = e
		}
	}
	require.EqualValues(t, 50000, dispatcher.Coin.Amount)

	// Listing by recipient includes the routed coin.
	recipientView, err := m.Show(h.ctx, ShowFilter{
		Recipient: fn.Some(h.recipient.ph),
	})
	require.NoError(t, err)
	viewed := fn.Map(recipientView, func(s *EscrowStatus) coin.Coin {
		require.Equal(t, h.recipient.ph, s.Record.Recipient)
		return s.Record.Coin
	})
	require.Contains(t, viewed, dispatcher.Coin)

	nobody, err := m.Show(h.ctx, ShowFilter{
		Recipient: fn.Some(test.RandHash()),
	})
	require.NoError(t, err)
	require.Empty(t, nobody)

	clawed, err := m.Claw(h.ctx, cbsend.ClawbackRequest{
		CoinID: dispatcher.Coin.ID(),
	})
	require.NoError(t, err)
	require.NoError(t, m.Publish(h.ctx, clawed))

	statuses = h.show(h.sender)
	require.ElementsMatch(t, []uint64{49990, 50000}, amounts(statuses))
	for _, s := range statuses {
		require.Equal(t, puzzle.KindValidator, s.Record.Kind)
	}

	// A claim of the clawed back coin is refused.
	h.chain.FarmBlock(testTimelock * time.Second)
	late, err := h.recipient.manager.Claim(h.ctx, cbsend.ClaimRequest{
		CoinID: dispatcher.Coin.ID(),
	})
	require.NoError(t, err)

	var rejected *chain.LedgerRejectedError
	err = h.recipient.manager.Publish(h.ctx, late)
	require.ErrorAs(t, err, &rejected)
	require.Contains(t, rejected.Reason, chain.ReasonDoubleSpend)

	// Listing spent coins shows the whole history of the recipient.
	history, err := m.Show(h.ctx, ShowFilter{
		Recipient:    fn.Some(h.recipient.ph),
		IncludeSpent: true,
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(history), 2)
}

// TestManagerResubmitClaim exports a claim refused for its timelock and
// pushes the same bundle once the timelock has passed.
func TestManagerResubmitClaim(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)
	h.chain.Mint(h.sender.ph, 10000)

	created, err := h.sender.manager.Create(h.ctx, CreateRequest{
		Mode:      puzzle.ModeDirect,
		Sender:    fn.Some(h.sender.ph),
		Recipient: h.recipient.ph,
		Timelock:  testTimelock,
		Amount:    7000,
	})
	require.NoError(t, err)
	require.NoError(t, h.sender.manager.Publish(h.ctx, created))
	escrowID := created.Escrowed[0].Coin.ID()

	claim, err := h.recipient.manager.Claim(h.ctx, cbsend.ClaimRequest{
		CoinID: escrowID,
	})
	require.NoError(t, err)

	var rejected *chain.LedgerRejectedError
	err = h.recipient.manager.Publish(h.ctx, claim)
	require.ErrorAs(t, err, &rejected)
	require.Contains(t, rejected.Reason, chain.ReasonSecondsRelativeFailed)
	require.NotEmpty(t, rejected.Hint)

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, claim))

	imported, err := Import(&buf)
	require.NoError(t, err)

	wantID, err := claim.Bundle.ID()
	require.NoError(t, err)
	gotID, err := imported.ID()
	require.NoError(t, err)
	require.Equal(t, wantID, gotID)

	h.chain.FarmBlock(testTimelock * time.Second)
	require.NoError(t, h.recipient.manager.PushBundle(h.ctx, imported))

	balance, err := h.recipient.wallet.Balance(h.ctx)
	require.NoError(t, err)
	require.EqualValues(t, 7000, balance)

	// The sender's ledger notices the spend on the next listing.
	require.Empty(t, h.show(h.sender))

	rec, err := h.sender.manager.Ledger().FetchRecord(h.ctx, escrowID)
	require.NoError(t, err)
	require.True(t, rec.Spent)

	require.NoError(t, h.sender.manager.Purge(h.ctx, escrowID))
	_, err = h.sender.manager.Ledger().FetchRecord(h.ctx, escrowID)
	require.ErrorIs(t, err, cbdb.ErrCoinRecordNotFound)
}

func TestManagerAddresses(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)
	m := h.sender.manager

	req := CreateRequest{
		Mode:      puzzle.ModeDirect,
		Sender:    fn.Some(h.sender.ph),
		Recipient: h.recipient.ph,
		Timelock:  testTimelock,
	}
	addr, err := m.EscrowAddress(h.ctx, req)
	require.NoError(t, err)

	again, err := m.EscrowAddress(h.ctx, req)
	require.NoError(t, err)
	require.Equal(t, addr, again)

	req.Timelock++
	other, err := m.EscrowAddress(h.ctx, req)
	require.NoError(t, err)
	require.NotEqual(t, addr.PuzzleHash, other.PuzzleHash)

	// A fresh wallet address can be used as sender.
	req.Sender = fn.None[program.Hash]()
	_, err = m.EscrowAddress(h.ctx, req)
	require.NoError(t, err)

	next, err := m.NextAddress(h.ctx)
	require.NoError(t, err)
	decoded, err := address.DecodeForNet(next.String(), &address.SimNet)
	require.NoError(t, err)
	require.Equal(t, next.PuzzleHash, decoded.PuzzleHash)

	// Plain payments are not escrows and are never recorded.
	h.chain.Mint(h.sender.ph, 500)
	sent, err := m.Send(h.ctx, h.recipient.ph, 400, 0)
	require.NoError(t, err)
	require.NoError(t, m.Publish(h.ctx, sent))
	require.Empty(t, h.show(h.sender))
}

// TestManagerStagedCreate checks that an exported escrow is tracked before
// its bundle is pushed and confirmed by the first reconcile after the push.
func TestManagerStagedCreate(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)
	h.chain.Mint(h.sender.ph, 9000)
	m := h.sender.manager

	created, err := m.Create(h.ctx, CreateRequest{
		Mode:      puzzle.ModeDirect,
		Sender:    fn.Some(h.sender.ph),
		Recipient: h.recipient.ph,
		Timelock:  testTimelock,
		Amount:    8000,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, created))
	require.NoError(t, m.Stage(h.ctx, created))

	// Staging twice is harmless.
	require.NoError(t, m.Stage(h.ctx, created))

	statuses := h.show(h.sender)
	require.Len(t, statuses, 1)
	require.Zero(t, statuses[0].Record.ConfirmedHeight)
	require.Equal(t, testTimelock*time.Second, statuses[0].TimeRemaining)

	bundle, err := Import(&buf)
	require.NoError(t, err)
	require.NoError(t, m.PushBundle(h.ctx, bundle))

	statuses = h.show(h.sender)
	require.Len(t, statuses, 1)
	require.Equal(t, h.chain.Tip().Height, statuses[0].Record.ConfirmedHeight)
	require.Equal(t, uint64(8000), statuses[0].Record.Coin.Amount)
}

// TestManagerRouteToOtherTarget routes to a target that is not the funding
// recipient. Records written from the route result must match what the
// chain yields on reconcile, so the change coin keeps its recipient.
func TestManagerRouteToOtherTarget(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)
	h.chain.Mint(h.sender.ph, 100000)
	m := h.sender.manager

	created, err := m.Create(h.ctx, CreateRequest{
		Mode:      puzzle.ModeValidator,
		Sender:    fn.Some(h.sender.ph),
		Recipient: h.recipient.ph,
		Timelock:  testTimelock,
		Amount:    80000,
	})
	require.NoError(t, err)
	require.NoError(t, m.Publish(h.ctx, created))
	require.Len(t, h.show(h.sender), 1)

	target := test.RandHash()
	routed, err := m.Route(h.ctx, RouteRequest{
		CoinID: created.Escrowed[0].Coin.ID(),
		Target: target,
		Amount: 30000,
		Fee:    20,
	})
	require.NoError(t, err)
	require.NoError(t, m.Publish(h.ctx, routed))
	require.Len(t, routed.Escrowed, 2)

	var change coin.Coin
	for _, e := range routed.Escrowed {
		id := e.Coin.ID()

		recorded, err := m.Ledger().FetchRecord(h.ctx, id)
		require.NoError(t, err)
		reconciled, err := m.Ledger().Reconcile(h.ctx, id)
		require.NoError(t, err)

		require.Equal(t, recorded.Kind, reconciled.Kind)
		require.Equal(t, recorded.Sender, reconciled.Sender)
		require.Equal(t, recorded.Recipient, reconciled.Recipient)
		require.Equal(t, recorded.Timelock, reconciled.Timelock)
		require.Equal(t, recorded.Coin, reconciled.Coin)
		require.Equal(
			t, recorded.DerivationIndex, reconciled.DerivationIndex,
		)
		require.Equal(t, recorded.Hardened, reconciled.Hardened)

		switch reconciled.Kind {
		case puzzle.KindDispatcher:
			require.Equal(t, target, reconciled.Recipient)
			require.EqualValues(t, 30000, reconciled.Coin.Amount)

		case puzzle.KindValidator:
			require.Equal(t, h.recipient.ph, reconciled.Recipient)
			change = reconciled.Coin
		}
	}
	require.EqualValues(t, 49980, change.Amount)

	// The funding recipient still sees the change after a reconcile.
	statuses, err := m.Show(h.ctx, ShowFilter{
		Recipient: fn.Some(h.recipient.ph),
	})
	require.NoError(t, err)
	require.Contains(t, fn.Map(statuses, func(s *EscrowStatus) coin.Coin {
		return s.Record.Coin
	}), change)
}
