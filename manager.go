package clawback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lightninglabs/clawback/address"
	"github.com/lightninglabs/clawback/cbdb"
	"github.com/lightninglabs/clawback/cbsend"
	"github.com/lightninglabs/clawback/chain"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ManagerConfig holds the collaborators of a Manager.
type ManagerConfig struct {
	// Registry builds and runs every puzzle.
	Registry *puzzle.Registry

	// Node is the ledger service.
	Node chain.Node

	// Wallet is the wallet service.
	Wallet chain.Wallet

	// WalletID is the wallet coins are selected from.
	WalletID uint32

	// Params are the parameters of the active network.
	Params *address.ChainParams

	// Store persists the coin records.
	Store cbdb.BatchedCoinStore

	// Clock is the time source of time remaining computations.
	Clock clock.Clock
}

// Manager drives escrows through their life: it assembles the bundles of
// every transition, submits them and keeps the coin ledger in step.
type Manager struct {
	cfg *ManagerConfig

	assembler *cbsend.Assembler
	ledger    *cbdb.CoinLedger
}

// NewManager creates a manager from its collaborators.
func NewManager(cfg *ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	assembler := cbsend.NewAssembler(&cbsend.Config{
		Registry:         cfg.Registry,
		Node:             cfg.Node,
		Wallet:           cfg.Wallet,
		WalletID:         cfg.WalletID,
		GenesisChallenge: cfg.Params.GenesisChallenge[:],
	})

	return &Manager{
		cfg:       cfg,
		assembler: assembler,
		ledger: cbdb.NewCoinLedger(
			cfg.Store, assembler, assembler.KeyRing(),
		),
	}
}

// Ledger returns the coin ledger of the manager.
func (m *Manager) Ledger() *cbdb.CoinLedger {
	return m.ledger
}

// CreateRequest describes a new escrow.
type CreateRequest struct {
	Mode puzzle.Mode

	// Sender is the wallet puzzle hash the escrow can be clawed back to.
	// A fresh wallet address is used if unset.
	Sender fn.Option[program.Hash]

	// Recipient is the puzzle hash the escrow can be claimed by. It may
	// be left unset for validator escrows, which are routed later.
	Recipient program.Hash

	Timelock uint64
	Amount   uint64
	Fee      uint64
}

// sender returns the identity of the wallet key behind ph, or of a fresh
// wallet address.
func (m *Manager) sender(ctx context.Context,
	ph fn.Option[program.Hash]) (puzzle.Identity, error) {

	senderHash := ph.UnwrapOr(program.Hash{})
	if ph.IsNone() {
		next, err := m.cfg.Wallet.NextAddress(ctx, m.cfg.WalletID)
		if err != nil {
			return puzzle.Identity{}, fmt.Errorf("unable to get "+
				"sender address: %w", err)
		}
		senderHash = next
	}

	return m.assembler.KeyRing().Identity(ctx, senderHash)
}

// terms builds the terms of a new escrow.
func (m *Manager) terms(ctx context.Context,
	req CreateRequest) (puzzle.Terms, error) {

	sender, err := m.sender(ctx, req.Sender)
	if err != nil {
		return puzzle.Terms{}, err
	}

	t := puzzle.Terms{
		Mode:      req.Mode,
		Timelock:  req.Timelock,
		Sender:    sender,
		Recipient: puzzle.Identity{PuzzleHash: req.Recipient},
	}
	if err := t.Validate(); err != nil {
		return t, err
	}

	return t, nil
}

// Create assembles the funding of a new escrow.
func (m *Manager) Create(ctx context.Context,
	req CreateRequest) (*cbsend.Result, error) {

	t, err := m.terms(ctx, req)
	if err != nil {
		return nil, err
	}

	return m.assembler.Fund(ctx, cbsend.FundRequest{
		Terms:  t,
		Amount: req.Amount,
		Fee:    req.Fee,
	})
}

// EscrowAddress returns the address an escrow with the given terms is
// funded at.
func (m *Manager) EscrowAddress(ctx context.Context,
	req CreateRequest) (*address.Address, error) {

	t, err := m.terms(ctx, req)
	if err != nil {
		return nil, err
	}

	ph, err := m.cfg.Registry.OuterPuzzleHash(t)
	if err != nil {
		return nil, err
	}

	return address.New(ph, m.cfg.Params), nil
}

// NextAddress returns a fresh receive address of the wallet.
func (m *Manager) NextAddress(ctx context.Context) (*address.Address, error) {
	ph, err := m.cfg.Wallet.NextAddress(ctx, m.cfg.WalletID)
	if err != nil {
		return nil, err
	}

	return address.New(ph, m.cfg.Params), nil
}

// Send assembles a plain payment from the wallet.
func (m *Manager) Send(ctx context.Context, dest program.Hash, amount,
	fee uint64) (*cbsend.Result, error) {

	return m.assembler.Send(ctx, dest, amount, fee)
}

// RouteRequest moves part of a validator escrow towards a recipient.
type RouteRequest struct {
	// CoinID is any coin of the validator escrow to route from.
	CoinID coin.ID

	Target program.Hash
	Amount uint64
	Fee    uint64
}

// Route assembles the routing of a validator escrow.
func (m *Manager) Route(ctx context.Context,
	req RouteRequest) (*cbsend.Result, error) {

	escrow, err := m.assembler.LookupEscrow(ctx, req.CoinID)
	if err != nil {
		return nil, err
	}
	if escrow.Info.Kind != puzzle.KindValidator {
		return nil, fmt.Errorf("%w: coin %v is a %v escrow",
			puzzle.ErrUnsupportedMode, req.CoinID, escrow.Info.Kind)
	}

	t := escrow.Info.Terms()
	t.Sender, err = m.assembler.KeyRing().Identity(ctx, escrow.Info.Sender)
	if err != nil {
		return nil, err
	}

	return m.assembler.Route(ctx, cbsend.RouteRequest{
		Terms:  t,
		Target: req.Target,
		Amount: req.Amount,
		Fee:    req.Fee,
	})
}

// Claw assembles the clawback of an escrowed coin.
func (m *Manager) Claw(ctx context.Context,
	req cbsend.ClawbackRequest) (*cbsend.Result, error) {

	return m.assembler.Clawback(ctx, req)
}

// Claim assembles the claim of an escrowed coin.
func (m *Manager) Claim(ctx context.Context,
	req cbsend.ClaimRequest) (*cbsend.Result, error) {

	return m.assembler.Claim(ctx, req)
}

// Publish submits the bundle of a result and records the escrow coins it
// creates. Escrow coins it releases are marked spent once the ledger
// reports them spent.
func (m *Manager) Publish(ctx context.Context, result *cbsend.Result) error {
	if err := m.cfg.Node.PushTx(ctx, result.Bundle); err != nil {
		return err
	}

	id, err := result.Bundle.ID()
	if err != nil {
		return err
	}
	log.Infof("Pushed bundle %v spending %d coins", id,
		len(result.Bundle.Spends))

	if err := m.Stage(ctx, result); err != nil {
		return err
	}

	for _, released := range result.Released {
		if err := m.markIfSpent(ctx, released.ID()); err != nil {
			return err
		}
	}

	return nil
}

// Stage records the escrow coins a result creates without pushing its
// bundle. The records stay unconfirmed until the bundle is pushed and a
// reconcile finds the coins on chain.
func (m *Manager) Stage(ctx context.Context, result *cbsend.Result) error {
	for _, escrowed := range result.Escrowed {
		_, err := m.ledger.RecordNewCoin(ctx, escrowed)

		var dupErr *cbdb.ErrSqlUniqueConstraintViolation
		switch {
		case errors.As(err, &dupErr):
			log.Debugf("Escrow coin %v already recorded",
				escrowed.Coin.ID())

		case err != nil:
			return err
		}
	}

	return nil
}

// markIfSpent marks a coin spent if the ledger has confirmed its spend.
func (m *Manager) markIfSpent(ctx context.Context, id coin.ID) error {
	record, err := m.cfg.Node.CoinRecordByID(ctx, id)
	switch {
	case errors.Is(err, chain.ErrCoinNotFound):
		return nil

	case err != nil:
		return err
	}
	if !record.Spent || record.SpentHeight == 0 {
		return nil
	}

	err = m.ledger.MarkSpent(ctx, id, record.SpentHeight)
	if errors.Is(err, cbdb.ErrCoinRecordNotFound) {
		return nil
	}

	return err
}

// PushBundle submits a previously exported bundle. This is how a claim
// assembled before its timelock elapsed is resubmitted.
func (m *Manager) PushBundle(ctx context.Context,
	bundle *coin.SpendBundle) error {

	if err := m.cfg.Node.PushTx(ctx, bundle); err != nil {
		return err
	}

	for _, removed := range bundle.Removals() {
		if err := m.markIfSpent(ctx, removed.ID()); err != nil {
			return err
		}
	}

	return nil
}

// Export writes the TLV encoding of a result's bundle to w.
func Export(w io.Writer, result *cbsend.Result) error {
	return result.Bundle.Encode(w)
}

// Import reads a bundle written by Export.
func Import(r io.Reader) (*coin.SpendBundle, error) {
	var bundle coin.SpendBundle
	if err := bundle.Decode(r); err != nil {
		return nil, fmt.Errorf("unable to decode bundle: %w", err)
	}

	return &bundle, nil
}

// EscrowStatus is an escrowed coin as shown to the user.
type EscrowStatus struct {
	Record *cbdb.CoinRecord

	// Address is the escrow address of the coin.
	Address *address.Address

	// TimeRemaining is how long until the coin can be claimed.
	TimeRemaining time.Duration
}

// ShowFilter narrows down the escrows Show lists.
type ShowFilter struct {
	// Recipient limits the listing to coins claimable by a puzzle hash.
	Recipient fn.Option[program.Hash]

	// IncludeSpent also lists spent coins. It needs a recipient.
	IncludeSpent bool
}

// Show reconciles the unspent escrows with the chain and lists them, oldest
// first.
func (m *Manager) Show(ctx context.Context,
	filter ShowFilter) ([]*EscrowStatus, error) {

	records, err := m.ledger.ReconcileUnspent(ctx)
	if err != nil {
		return nil, err
	}

	if filter.IncludeSpent {
		recipient, err := filter.Recipient.UnwrapOrErr(
			errors.New("listing spent coins needs a recipient"),
		)
		if err != nil {
			return nil, err
		}

		records, err = m.ledger.ListByRecipient(ctx, recipient)
		if err != nil {
			return nil, err
		}
	}

	now := m.cfg.Clock.Now()

	var statuses []*EscrowStatus
	for _, rec := range records {
		keep := true
		filter.Recipient.WhenSome(func(ph program.Hash) {
			keep = rec.Recipient == ph
		})
		if !keep {
			continue
		}

		statuses = append(statuses, &EscrowStatus{
			Record:        rec,
			Address:       address.New(rec.Coin.PuzzleHash, m.cfg.Params),
			TimeRemaining: rec.TimeRemaining(now),
		})
	}

	return statuses, nil
}

// Purge removes the record of a coin from the ledger.
func (m *Manager) Purge(ctx context.Context, id coin.ID) error {
	if err := m.ledger.DeleteRecord(ctx, id); err != nil {
		return err
	}

	log.Infof("Purged record of coin %v", id)

	return nil
}
