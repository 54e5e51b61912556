package cbdb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lightninglabs/clawback/cbdb/sqlc"
	"github.com/lightninglabs/clawback/cbsend"
	"github.com/lightninglabs/clawback/chain"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/keys"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrCoinRecordNotFound is returned when the ledger has no row for a
	// coin id.
	ErrCoinRecordNotFound = errors.New("cbdb: coin record not found")

	// ErrInvalidSpentHeight is returned when a coin is marked spent at
	// height zero, which would break the spent flag invariant.
	ErrInvalidSpentHeight = errors.New("cbdb: spent height must be " +
		"non-zero")
)

// defaultReconcileWorkers bounds the number of coins resolved against the
// chain at once.
const defaultReconcileWorkers = 8

type (
	// NewCoinRecord is a type alias for the params to insert a coin.
	NewCoinRecord = sqlc.InsertCoinRecordParams

	// CoinRecordUpsert is a type alias for the params to upsert a coin.
	CoinRecordUpsert = sqlc.UpsertCoinRecordParams

	// CoinRow is a type alias for a raw coin_records row.
	CoinRow = sqlc.CoinRecord

	// SpentCoin is a type alias for the params to mark a coin spent.
	SpentCoin = sqlc.MarkCoinSpentParams
)

// CoinStore is the storage backend of the CoinLedger.
type CoinStore interface {
	// InsertCoinRecord inserts a new coin row.
	InsertCoinRecord(ctx context.Context, arg NewCoinRecord) error

	// UpsertCoinRecord inserts a coin row or overwrites the chain derived
	// columns of an existing one.
	UpsertCoinRecord(ctx context.Context, arg CoinRecordUpsert) error

	// FetchCoinRecord fetches the row of a single coin.
	FetchCoinRecord(ctx context.Context, coinID []byte) (CoinRow, error)

	// ListUnspentCoinRecords lists all unspent rows, oldest first.
	ListUnspentCoinRecords(ctx context.Context) ([]CoinRow, error)

	// ListCoinRecordsByRecipient lists every row paying a recipient.
	ListCoinRecordsByRecipient(ctx context.Context,
		recipient []byte) ([]CoinRow, error)

	// MarkCoinSpent sets the spent height of a row.
	MarkCoinSpent(ctx context.Context, arg SpentCoin) (int64, error)

	// DeleteCoinRecord removes a row.
	DeleteCoinRecord(ctx context.Context, coinID []byte) (int64, error)
}

// CoinStoreTxOptions defines the set of db txn options the CoinStore
// understands.
type CoinStoreTxOptions struct {
	// readOnly governs if a read only transaction is needed or not.
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
//
// NOTE: This implements the TxOptions interface.
func (c *CoinStoreTxOptions) ReadOnly() bool {
	return c.readOnly
}

// NewCoinStoreReadTx creates a new read transaction option set.
func NewCoinStoreReadTx() CoinStoreTxOptions {
	return CoinStoreTxOptions{
		readOnly: true,
	}
}

// BatchedCoinStore is a version of the CoinStore that's capable of batched
// database operations.
type BatchedCoinStore interface {
	CoinStore

	BatchedTx[CoinStore]
}

// NewBatchedCoinStore wraps an open database in a BatchedCoinStore.
func NewBatchedCoinStore(db *BaseDB) BatchedCoinStore {
	return NewTransactionExecutor(db, func(tx *sql.Tx) CoinStore {
		return db.WithTx(tx)
	})
}

// EscrowResolver recovers the escrow metadata of a coin from chain data.
type EscrowResolver interface {
	// LookupEscrow walks back to the parent spend of a coin.
	LookupEscrow(ctx context.Context, id coin.ID) (*cbsend.Escrow, error)
}

// KeyFinder locates a wallet key by the puzzle hash of its standard puzzle.
type KeyFinder interface {
	// Find returns the matching key, or None.
	Find(ctx context.Context,
		puzzleHash program.Hash) (fn.Option[keys.KeyMatch], error)
}

// CoinRecord is the local metadata of an escrowed coin.
type CoinRecord struct {
	// Coin is the escrowed coin itself.
	Coin coin.Coin

	// Kind is the escrow puzzle locking the coin.
	Kind puzzle.Kind

	Sender    program.Hash
	Recipient program.Hash
	Timelock  uint64

	// ConfirmedHeight is zero until the ledger has confirmed the coin.
	ConfirmedHeight uint32

	// SpentHeight is zero while the coin is unspent.
	SpentHeight uint32
	Spent       bool

	// DerivationIndex and Hardened locate the sender key, when this
	// wallet holds it.
	DerivationIndex uint32
	Hardened        bool

	// Timestamp is the timestamp of the confirming block.
	Timestamp uint64
}

// ID returns the coin id of the record.
func (c *CoinRecord) ID() coin.ID {
	return c.Coin.ID()
}

// TimeRemaining returns how long until the timelock of the coin elapses. A
// coin that is not confirmed yet reports its full timelock.
func (c *CoinRecord) TimeRemaining(now time.Time) time.Duration {
	if c.ConfirmedHeight == 0 {
		return time.Duration(c.Timelock) * time.Second
	}

	unlock := c.Timestamp + c.Timelock
	nowUnix := uint64(now.Unix())
	if nowUnix >= unlock {
		return 0
	}

	return time.Duration(unlock-nowUnix) * time.Second
}

// coinRecordFromRow maps a database row to a CoinRecord.
func coinRecordFromRow(row CoinRow) (*CoinRecord, error) {
	var rec CoinRecord

	hashes := []struct {
		dst  *program.Hash
		src  []byte
		name string
	}{
		{&rec.Coin.ParentID, row.ParentID, "parent_id"},
		{&rec.Coin.PuzzleHash, row.PuzzleHash, "puzzle_hash"},
		{&rec.Sender, row.Sender, "sender"},
		{&rec.Recipient, row.Recipient, "recipient"},
	}
	for _, h := range hashes {
		if len(h.src) != program.HashSize {
			return nil, fmt.Errorf("invalid %s length %d", h.name,
				len(h.src))
		}
		copy(h.dst[:], h.src)
	}

	rec.Coin.Amount = uint64(row.Amount)
	rec.Kind = puzzle.Kind(row.Kind)
	rec.Timelock = uint64(row.Timelock)
	rec.ConfirmedHeight = uint32(row.ConfirmedHeight)
	rec.SpentHeight = uint32(row.SpentHeight)
	rec.Spent = row.Spent
	rec.DerivationIndex = uint32(row.DerivationIndex)
	rec.Hardened = row.Hardened
	rec.Timestamp = uint64(row.BlockTimestamp)

	if id := rec.ID(); !bytes.Equal(id[:], row.CoinID) {
		return nil, fmt.Errorf("stored coin id %x does not match "+
			"coin %v", row.CoinID, id)
	}

	return &rec, nil
}

// upsertParams maps a CoinRecord to the params of an upsert.
func upsertParams(rec *CoinRecord) CoinRecordUpsert {
	id := rec.ID()

	return CoinRecordUpsert{
		CoinID:          id[:],
		ParentID:        rec.Coin.ParentID[:],
		PuzzleHash:      rec.Coin.PuzzleHash[:],
		Amount:          int64(rec.Coin.Amount),
		Kind:            int16(rec.Kind),
		Sender:          rec.Sender[:],
		Recipient:       rec.Recipient[:],
		Timelock:        int64(rec.Timelock),
		ConfirmedHeight: int64(rec.ConfirmedHeight),
		SpentHeight:     int64(rec.SpentHeight),
		Spent:           rec.SpentHeight != 0,
		DerivationIndex: int64(rec.DerivationIndex),
		Hardened:        rec.Hardened,
		BlockTimestamp:  int64(rec.Timestamp),
	}
}

// CoinLedger is the persisted table of escrowed coins this wallet knows
// about.
type CoinLedger struct {
	db BatchedCoinStore

	resolver EscrowResolver
	keys     KeyFinder
}

// NewCoinLedger creates a new CoinLedger over an open store. resolver and
// keys are only needed for reconciliation.
func NewCoinLedger(db BatchedCoinStore, resolver EscrowResolver,
	keys KeyFinder) *CoinLedger {

	return &CoinLedger{
		db:       db,
		resolver: resolver,
		keys:     keys,
	}
}

// RecordNewCoin inserts a freshly created escrow coin. The height fields
// stay zero until the coin is reconciled against the chain.
func (l *CoinLedger) RecordNewCoin(ctx context.Context,
	escrowed cbsend.EscrowedCoin) (*CoinRecord, error) {

	rec := &CoinRecord{
		Coin:            escrowed.Coin,
		Kind:            escrowed.Kind,
		Sender:          escrowed.Sender,
		Recipient:       escrowed.Recipient,
		Timelock:        escrowed.Timelock,
		DerivationIndex: escrowed.DerivationIndex,
		Hardened:        escrowed.Hardened,
	}

	params := NewCoinRecord(upsertParams(rec))

	var writeTxOpts CoinStoreTxOptions
	err := l.db.ExecTx(ctx, &writeTxOpts, func(db CoinStore) error {
		return db.InsertCoinRecord(ctx, params)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to insert coin %v: %w", rec.ID(),
			MapSQLError(err))
	}

	log.Debugf("Recorded new %v escrow coin %v", rec.Kind, rec.ID())

	return rec, nil
}

// resolve derives the canonical record of a coin from chain data.
func (l *CoinLedger) resolve(ctx context.Context,
	id coin.ID) (*CoinRecord, error) {

	if l.resolver == nil {
		return nil, fmt.Errorf("coin ledger has no escrow resolver")
	}

	escrow, err := l.resolver.LookupEscrow(ctx, id)
	if err != nil {
		return nil, err
	}

	info := escrow.Info
	rec := &CoinRecord{
		Coin:            escrow.Record.Coin,
		Kind:            info.Kind,
		Sender:          info.Sender,
		Recipient:       info.Recipient,
		Timelock:        info.Timelock,
		ConfirmedHeight: escrow.Record.ConfirmedHeight,
		SpentHeight:     escrow.Record.SpentHeight,
		Spent:           escrow.Record.Spent,
		Timestamp:       escrow.Record.Timestamp,
	}

	if l.keys != nil {
		match, err := l.keys.Find(ctx, info.Sender)
		if err != nil {
			return nil, fmt.Errorf("unable to find sender key: %w",
				err)
		}
		match.WhenSome(func(m keys.KeyMatch) {
			rec.DerivationIndex = m.Index
			rec.Hardened = m.Hardened
		})
	}

	return rec, nil
}

// keepDerivation carries the recorded key location over to a record
// resolved from the chain when the key scan found nothing. The chain knows
// nothing about where our key lives.
func keepDerivation(fresh, recorded *CoinRecord) {
	if fresh.DerivationIndex == 0 && !fresh.Hardened {
		fresh.DerivationIndex = recorded.DerivationIndex
		fresh.Hardened = recorded.Hardened
	}
}

// Reconcile re-derives the record of a coin from the chain and upserts it.
// Calling it repeatedly is harmless. Coins that were not created by an
// escrow spend fail with puzzle.ErrInvalidEscrowCoin and are not written.
func (l *CoinLedger) Reconcile(ctx context.Context,
	id coin.ID) (*CoinRecord, error) {

	rec, err := l.resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("unable to reconcile coin %v: %w", id,
			err)
	}

	recorded, err := l.FetchRecord(ctx, id)
	switch {
	case errors.Is(err, ErrCoinRecordNotFound):

	case err != nil:
		return nil, err

	default:
		keepDerivation(rec, recorded)
	}

	if err := l.upsert(ctx, []*CoinRecord{rec}); err != nil {
		return nil, err
	}

	return l.FetchRecord(ctx, id)
}

// upsert writes a batch of records in one transaction.
func (l *CoinLedger) upsert(ctx context.Context, recs []*CoinRecord) error {
	var writeTxOpts CoinStoreTxOptions
	err := l.db.ExecTx(ctx, &writeTxOpts, func(db CoinStore) error {
		for _, rec := range recs {
			err := db.UpsertCoinRecord(ctx, upsertParams(rec))
			if err != nil {
				return fmt.Errorf("unable to upsert coin "+
					"%v: %w", rec.ID(), err)
			}
		}

		return nil
	})

	return MapSQLError(err)
}

// ReconcileUnspent reconciles every unspent record against the chain and
// returns the records that are still unspent afterwards. Records of coins
// the chain has not confirmed yet are left untouched, and coins that turn
// out not to be escrow outputs are skipped.
func (l *CoinLedger) ReconcileUnspent(ctx context.Context) ([]*CoinRecord,
	error) {

	unspent, err := l.ListUnspent(ctx)
	if err != nil {
		return nil, err
	}

	resolved := make([]*CoinRecord, len(unspent))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultReconcileWorkers)
	for i, rec := range unspent {
		i, id := i, rec.ID()

		g.Go(func() error {
			fresh, err := l.resolve(gctx, id)
			switch {
			case errors.Is(err, puzzle.ErrInvalidEscrowCoin):
				log.Warnf("Skipping coin %v: %v", id, err)
				return nil

			case errors.Is(err, chain.ErrCoinNotFound):
				log.Debugf("Coin %v not confirmed yet", id)
				return nil

			case err != nil:
				return fmt.Errorf("unable to reconcile coin "+
					"%v: %w", id, err)
			}

			keepDerivation(fresh, unspent[i])
			resolved[i] = fresh

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var updates []*CoinRecord
	for _, rec := range resolved {
		if rec != nil {
			updates = append(updates, rec)
		}
	}
	if err := l.upsert(ctx, updates); err != nil {
		return nil, err
	}

	return l.ListUnspent(ctx)
}

// FetchRecord returns the record of a coin, or ErrCoinRecordNotFound.
func (l *CoinLedger) FetchRecord(ctx context.Context,
	id coin.ID) (*CoinRecord, error) {

	var (
		rec     *CoinRecord
		readOpt = NewCoinStoreReadTx()
	)
	err := l.db.ExecTx(ctx, &readOpt, func(db CoinStore) error {
		row, err := db.FetchCoinRecord(ctx, id[:])
		if err != nil {
			return err
		}

		rec, err = coinRecordFromRow(row)
		return err
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %v", ErrCoinRecordNotFound, id)

	case err != nil:
		return nil, fmt.Errorf("unable to fetch coin %v: %w", id,
			MapSQLError(err))
	}

	return rec, nil
}

// listRecords runs a listing query in a read transaction.
func (l *CoinLedger) listRecords(ctx context.Context,
	query func(CoinStore) ([]CoinRow, error)) ([]*CoinRecord, error) {

	var (
		recs    []*CoinRecord
		readOpt = NewCoinStoreReadTx()
	)
	err := l.db.ExecTx(ctx, &readOpt, func(db CoinStore) error {
		rows, err := query(db)
		if err != nil {
			return err
		}

		recs = make([]*CoinRecord, 0, len(rows))
		for _, row := range rows {
			rec, err := coinRecordFromRow(row)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list coins: %w",
			MapSQLError(err))
	}

	return recs, nil
}

// ListUnspent returns every record with a zero spent height, ordered by
// confirmed height, oldest first.
func (l *CoinLedger) ListUnspent(ctx context.Context) ([]*CoinRecord, error) {
	return l.listRecords(ctx, func(db CoinStore) ([]CoinRow, error) {
		return db.ListUnspentCoinRecords(ctx)
	})
}

// ListByRecipient returns every record paying recipient.
func (l *CoinLedger) ListByRecipient(ctx context.Context,
	recipient program.Hash) ([]*CoinRecord, error) {

	return l.listRecords(ctx, func(db CoinStore) ([]CoinRow, error) {
		return db.ListCoinRecordsByRecipient(ctx, recipient[:])
	})
}

// MarkSpent records that a coin was spent at height.
func (l *CoinLedger) MarkSpent(ctx context.Context, id coin.ID,
	height uint32) error {

	if height == 0 {
		return ErrInvalidSpentHeight
	}

	var writeTxOpts CoinStoreTxOptions
	err := l.db.ExecTx(ctx, &writeTxOpts, func(db CoinStore) error {
		n, err := db.MarkCoinSpent(ctx, SpentCoin{
			SpentHeight: int64(height),
			CoinID:      id[:],
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %v", ErrCoinRecordNotFound, id)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to mark coin spent: %w",
			MapSQLError(err))
	}

	return nil
}

// DeleteRecord purges the record of a coin.
func (l *CoinLedger) DeleteRecord(ctx context.Context, id coin.ID) error {
	var writeTxOpts CoinStoreTxOptions
	err := l.db.ExecTx(ctx, &writeTxOpts, func(db CoinStore) error {
		n, err := db.DeleteCoinRecord(ctx, id[:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %v", ErrCoinRecordNotFound, id)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to delete coin: %w", MapSQLError(err))
	}

	log.Infof("Purged coin record %v", id)

	return nil
}
