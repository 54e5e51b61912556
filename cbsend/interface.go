package cbsend

import (
	"errors"
	"fmt"

	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
)

var (
	// ErrInsufficientFunds is returned when the selected coins cannot
	// cover the amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoMatchingKey is returned when no wallet key up to the current
	// derivation index controls an input.
	ErrNoMatchingKey = errors.New("no matching wallet key")
)

// SendState is the stage an assembly is in.
type SendState uint8

const (
	// SendStateSelectInputs picks the coins to spend.
	SendStateSelectInputs SendState = iota

	// SendStateBuildConditions builds every spend's puzzle and solution.
	SendStateBuildConditions

	// SendStateSign resolves keys, signs and verifies the aggregate.
	SendStateSign

	// SendStateDone is reached once a verified bundle exists.
	SendStateDone
)

// String returns a human-readable version of SendState.
func (s SendState) String() string {
	switch s {
	case SendStateSelectInputs:
		return "SendStateSelectInputs"

	case SendStateBuildConditions:
		return "SendStateBuildConditions"

	case SendStateSign:
		return "SendStateSign"

	case SendStateDone:
		return "SendStateDone"

	default:
		return fmt.Sprintf("<unknown_state(%d)>", s)
	}
}

// EscrowedCoin is a coin a bundle locks under an escrow puzzle, with the
// metadata the coin ledger stores for it.
type EscrowedCoin struct {
	Coin      coin.Coin
	Kind      puzzle.Kind
	Sender    program.Hash
	Recipient program.Hash
	Timelock  uint64

	// DerivationIndex and Hardened locate the sender key, if the wallet
	// holds it.
	DerivationIndex uint32
	Hardened        bool
}

// Result is a signed bundle and the escrow coins it moves.
type Result struct {
	Bundle *coin.SpendBundle

	// Escrowed are new coins locked under escrow puzzles.
	Escrowed []EscrowedCoin

	// Released are the escrow coins the bundle spends.
	Released []coin.Coin
}

// FundRequest locks Amount under the escrow puzzle of Terms.
type FundRequest struct {
	Terms  puzzle.Terms
	Amount uint64
	Fee    uint64
}

// RouteRequest moves Amount of a validator escrow towards Target.
type RouteRequest struct {
	Terms  puzzle.Terms
	Target program.Hash
	Amount uint64
	Fee    uint64
}

// ClawbackRequest returns an escrowed coin to its sender.
type ClawbackRequest struct {
	CoinID coin.ID
	Fee    uint64

	// ReturnTo overrides the destination of a direct escrow clawback. It
	// defaults to the sender puzzle hash.
	ReturnTo program.Hash
}

// ClaimRequest releases an escrowed coin to its recipient.
type ClaimRequest struct {
	CoinID coin.ID
	Fee    uint64

	// ClaimTo overrides the destination of a direct escrow claim. It
	// defaults to the recipient puzzle hash.
	ClaimTo program.Hash
}
