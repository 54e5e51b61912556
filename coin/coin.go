package coin

import (
	"fmt"

	"github.com/lightninglabs/clawback/program"
)

// ID uniquely identifies a coin.
type ID = program.Hash

// Coin is an unspent output of the ledger.
type Coin struct {
	// ParentID is the id of the coin whose spend created this coin.
	ParentID ID

	// PuzzleHash is the tree hash of the locking script.
	PuzzleHash program.Hash

	// Amount is the value held by the coin.
	Amount uint64
}

// ID returns sha256(parent || puzzle_hash || amount), with the amount in
// minimal integer encoding.
func (c Coin) ID() ID {
	return program.Sha256(
		c.ParentID[:], c.PuzzleHash[:], program.IntBytes(c.Amount),
	)
}

// String returns a short human readable form of the coin.
func (c Coin) String() string {
	return fmt.Sprintf("coin(id=%v, ph=%v, amt=%d)", c.ID(), c.PuzzleHash,
		c.Amount)
}

// Record is the ledger's view of a coin and its lifecycle.
type Record struct {
	Coin Coin

	// ConfirmedHeight is the height of the block that created the coin.
	ConfirmedHeight uint32

	// SpentHeight is the height of the block that spent the coin, or zero
	// if the coin is unspent.
	SpentHeight uint32

	// Spent is true once the coin has been consumed.
	Spent bool

	// Coinbase is set for farming rewards.
	Coinbase bool

	// Timestamp is the timestamp of the confirming block.
	Timestamp uint64
}

// BlockRecord carries the parts of a block header the ledger exposes.
type BlockRecord struct {
	Height     uint32
	HeaderHash program.Hash
	Timestamp  uint64
}

// SumAmounts returns the total value of the given coins.
func SumAmounts(coins []Coin) uint64 {
	var total uint64
	for _, c := range coins {
		total += c.Amount
	}

	return total
}
