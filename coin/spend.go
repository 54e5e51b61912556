package coin

import (
	"github.com/lightninglabs/clawback/program"
)

// Spend reveals the locking script of a coin together with the solution used
// to unlock it.
type Spend struct {
	Coin         Coin
	PuzzleReveal *program.Program
	Solution     *program.Program
}

// NewSpend creates a spend, checking nothing. The ledger validates that the
// reveal hashes to the coin's puzzle hash.
func NewSpend(c Coin, puzzle, solution *program.Program) *Spend {
	return &Spend{
		Coin:         c,
		PuzzleReveal: puzzle,
		Solution:     solution,
	}
}

// SpendBundle is a set of spends that must be accepted atomically, together
// with the aggregate of every signature they require.
type SpendBundle struct {
	Spends              []*Spend
	AggregatedSignature []byte
}

// Removals returns the coins consumed by the bundle.
func (b *SpendBundle) Removals() []Coin {
	coins := make([]Coin, len(b.Spends))
	for i, s := range b.Spends {
		coins[i] = s.Coin
	}

	return coins
}

// Aggregate merges several bundles into one. Signatures are concatenated in
// bundle order, matching the order of the merged spends.
func Aggregate(bundles ...*SpendBundle) *SpendBundle {
	out := &SpendBundle{}
	for _, b := range bundles {
		out.Spends = append(out.Spends, b.Spends...)
		out.AggregatedSignature = append(
			out.AggregatedSignature, b.AggregatedSignature...,
		)
	}

	return out
}

// ID returns the hash of the encoded bundle.
func (b *SpendBundle) ID() (program.Hash, error) {
	raw, err := b.Bytes()
	if err != nil {
		return program.Hash{}, err
	}

	return program.Sha256(raw), nil
}
