package simchain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lightninglabs/clawback/chain"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/condition"
	"github.com/lightninglabs/clawback/keys"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
)

const (
	// DefaultBlockInterval is the time between two blocks produced by
	// PushTx.
	DefaultBlockInterval = 20 * time.Second

	// DefaultStartTime is the timestamp of the genesis block.
	DefaultStartTime = 1_700_000_000
)

// Config configures a simulated chain.
type Config struct {
	// Registry runs every spend.
	Registry *puzzle.Registry

	// GenesisChallenge is the additional data of AGG_SIG_ME messages.
	GenesisChallenge []byte

	// StartTime is the genesis timestamp.
	StartTime uint64

	// BlockInterval is the time each new block adds.
	BlockInterval time.Duration
}

// Chain is an in-memory ledger. Every accepted bundle is confirmed in a block
// of its own.
type Chain struct {
	cfg Config

	mu     sync.Mutex
	blocks []coin.BlockRecord
	coins  map[coin.ID]*coin.Record
	spends map[coin.ID]*coin.Spend
}

// A compile-time assertion to ensure Chain satisfies chain.Node.
var _ chain.Node = (*Chain)(nil)

// New creates a chain holding only a genesis block.
func New(cfg Config) *Chain {
	if cfg.StartTime == 0 {
		cfg.StartTime = DefaultStartTime
	}
	if cfg.BlockInterval == 0 {
		cfg.BlockInterval = DefaultBlockInterval
	}

	c := &Chain{
		cfg:    cfg,
		coins:  make(map[coin.ID]*coin.Record),
		spends: make(map[coin.ID]*coin.Spend),
	}
	c.appendBlock(cfg.StartTime)

	return c
}

func (c *Chain) appendBlock(timestamp uint64) *coin.BlockRecord {
	height := uint32(len(c.blocks))
	var heightBytes [4]byte
	heightBytes[0] = byte(height >> 24)
	heightBytes[1] = byte(height >> 16)
	heightBytes[2] = byte(height >> 8)
	heightBytes[3] = byte(height)

	c.blocks = append(c.blocks, coin.BlockRecord{
		Height:     height,
		HeaderHash: program.Sha256([]byte("simblock"), heightBytes[:]),
		Timestamp:  timestamp,
	})

	return &c.blocks[len(c.blocks)-1]
}

func (c *Chain) tip() coin.BlockRecord {
	return c.blocks[len(c.blocks)-1]
}

// Tip returns the current tip block.
func (c *Chain) Tip() coin.BlockRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tip()
}

// FarmBlock adds an empty block elapsed after the tip.
func (c *Chain) FarmBlock(elapsed time.Duration) coin.BlockRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.appendBlock(c.tip().Timestamp + uint64(elapsed/time.Second))

	return *b
}

// Mint creates a coinbase coin paying puzzleHash in a new block.
func (c *Chain) Mint(puzzleHash program.Hash, amount uint64) coin.Coin {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.appendBlock(
		c.tip().Timestamp + uint64(c.cfg.BlockInterval/time.Second),
	)

	var parent program.Hash
	copy(parent[:], b.HeaderHash[:])
	parent[0] ^= byte(len(c.coins))
	minted := coin.Coin{
		ParentID:   parent,
		PuzzleHash: puzzleHash,
		Amount:     amount,
	}
	c.coins[minted.ID()] = &coin.Record{
		Coin:            minted,
		ConfirmedHeight: b.Height,
		Coinbase:        true,
		Timestamp:       b.Timestamp,
	}

	return minted
}

// CoinRecordByID returns the record of a coin.
func (c *Chain) CoinRecordByID(_ context.Context,
	id coin.ID) (*coin.Record, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.coins[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", chain.ErrCoinNotFound, id)
	}
	cp := *r

	return &cp, nil
}

// CoinRecordsByPuzzleHash returns the coins locked by puzzleHash ordered by
// confirmation height.
func (c *Chain) CoinRecordsByPuzzleHash(_ context.Context,
	puzzleHash program.Hash, includeSpent bool) ([]*coin.Record, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*coin.Record
	for _, r := range c.coins {
		if r.Coin.PuzzleHash != puzzleHash {
			continue
		}
		if r.Spent && !includeSpent {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sortRecords(out)

	return out, nil
}

func sortRecords(records []*coin.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].ConfirmedHeight != records[j].ConfirmedHeight {
			return records[i].ConfirmedHeight <
				records[j].ConfirmedHeight
		}
		a, b := records[i].Coin.ID(), records[j].Coin.ID()
		return string(a[:]) < string(b[:])
	})
}

// PuzzleAndSolution returns the spend of a coin spent at height.
func (c *Chain) PuzzleAndSolution(_ context.Context, id coin.ID,
	height uint32) (*coin.Spend, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.coins[id]
	if !ok || !r.Spent || r.SpentHeight != height {
		return nil, fmt.Errorf("%w: no spend of %v at height %d",
			chain.ErrCoinNotFound, id, height)
	}

	return c.spends[id], nil
}

// BlockRecordByHeight returns the block at height.
func (c *Chain) BlockRecordByHeight(_ context.Context,
	height uint32) (*coin.BlockRecord, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if int(height) >= len(c.blocks) {
		return nil, fmt.Errorf("%w: height %d", chain.ErrBlockNotFound,
			height)
	}
	b := c.blocks[height]

	return &b, nil
}

// PushTx validates a bundle against the ledger rules and confirms it in a new
// block.
func (c *Chain) PushTx(_ context.Context, bundle *coin.SpendBundle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.tip().Timestamp + uint64(c.cfg.BlockInterval/time.Second)

	additions, err := c.validate(bundle, now)
	if err != nil {
		log.Debugf("Rejected bundle: %v", err)
		return err
	}

	b := c.appendBlock(now)
	for _, s := range bundle.Spends {
		r := c.coins[s.Coin.ID()]
		r.Spent = true
		r.SpentHeight = b.Height
		c.spends[s.Coin.ID()] = s
	}
	for _, a := range additions {
		c.coins[a.ID()] = &coin.Record{
			Coin:            a,
			ConfirmedHeight: b.Height,
			Timestamp:       b.Timestamp,
		}
	}

	log.Debugf("Confirmed bundle with %d spends at height %d",
		len(bundle.Spends), b.Height)

	return nil
}

func reject(format string, args ...any) error {
	return chain.NewLedgerRejectedError(fmt.Sprintf(format, args...))
}

// validate checks a bundle as if it were included at time now and returns
// the coins it creates.
func (c *Chain) validate(bundle *coin.SpendBundle,
	now uint64) ([]coin.Coin, error) {

	if len(bundle.Spends) == 0 {
		return nil, reject("INVALID_SPEND_BUNDLE: no spends")
	}

	var (
		additions     []coin.Coin
		pairs         []keys.PubKeyMessage
		announcements = make(map[program.Hash]struct{})
		asserted      []program.Hash
		removed       = make(map[coin.ID]struct{})
		totalIn       uint64
		totalOut      uint64
		reserved      uint64
	)

	for _, s := range bundle.Spends {
		id := s.Coin.ID()
		if _, ok := removed[id]; ok {
			return nil, reject("DOUBLE_SPEND: %v twice in bundle", id)
		}
		removed[id] = struct{}{}

		record, ok := c.coins[id]
		switch {
		case !ok:
			return nil, reject("UNKNOWN_UNSPENT: %v", id)
		case record.Spent:
			return nil, reject("%s: %v", chain.ReasonDoubleSpend, id)
		}

		if s.PuzzleReveal.TreeHash() != s.Coin.PuzzleHash {
			return nil, reject("WRONG_PUZZLE_HASH: %v", id)
		}

		conds, err := c.cfg.Registry.Run(s.PuzzleReveal, s.Solution)
		if err != nil {
			return nil, reject("GENERATOR_RUNTIME_ERROR: %v", err)
		}

		totalIn += s.Coin.Amount
		for _, cond := range conds {
			switch cc := cond.(type) {
			case condition.CreateCoin:
				additions = append(additions, coin.Coin{
					ParentID:   id,
					PuzzleHash: cc.PuzzleHash,
					Amount:     cc.Amount,
				})
				totalOut += cc.Amount

			case condition.ReserveFee:
				reserved += cc.Amount

			case condition.CreateCoinAnnouncement:
				announcements[condition.AnnouncementID(
					id, cc.Message,
				)] = struct{}{}

			case condition.AssertCoinAnnouncement:
				asserted = append(asserted, cc.ID)

			case condition.AssertMyAmount:
				if cc.Amount != s.Coin.Amount {
					return nil, reject("ASSERT_MY_AMOUNT_"+
						"FAILED: %v", id)
				}

			case condition.AssertSecondsRelative:
				if now < record.Timestamp+cc.Seconds {
					return nil, reject("%s: %v needs %d "+
						"more seconds",
						chain.ReasonSecondsRelativeFailed,
						id, record.Timestamp+cc.Seconds-now)
				}

			case condition.AggSigMe:
				pairs = append(pairs, keys.PubKeyMessage{
					PubKey: cc.PubKey,
					Message: keys.AggSigMeMessage(
						cc.Message, id,
						c.cfg.GenesisChallenge,
					),
				})

			case condition.Remark:
			}
		}
	}

	for _, id := range asserted {
		if _, ok := announcements[id]; !ok {
			return nil, reject("ASSERT_ANNOUNCE_CONSUMED_FAILED: %v",
				id)
		}
	}

	seen := make(map[coin.ID]struct{}, len(additions))
	for _, a := range additions {
		if _, ok := seen[a.ID()]; ok {
			return nil, reject("DUPLICATE_OUTPUT: %v", a.ID())
		}
		seen[a.ID()] = struct{}{}
	}

	if totalOut > totalIn {
		return nil, reject("MINTING_COIN: out %d > in %d", totalOut,
			totalIn)
	}
	if totalIn-totalOut < reserved {
		return nil, reject("RESERVE_FEE_CONDITION_FAILED: fee %d < %d",
			totalIn-totalOut, reserved)
	}

	err := keys.AggregateVerify(pairs, bundle.AggregatedSignature)
	if err != nil {
		return nil, reject("BAD_AGGREGATE_SIGNATURE: %v", err)
	}

	return additions, nil
}
