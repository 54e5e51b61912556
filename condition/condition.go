package condition

import (
	"errors"
	"fmt"

	"github.com/lightninglabs/clawback/program"
)

// Opcode identifies a condition kind on the ledger.
type Opcode uint8

const (
	OpRemark                 Opcode = 1
	OpAggSigMe               Opcode = 50
	OpCreateCoin             Opcode = 51
	OpReserveFee             Opcode = 52
	OpCreateCoinAnnouncement Opcode = 60
	OpAssertCoinAnnouncement Opcode = 61
	OpAssertMyAmount         Opcode = 73
	OpAssertSecondsRelative  Opcode = 80
)

// String returns the ledger name of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpRemark:
		return "REMARK"
	case OpAggSigMe:
		return "AGG_SIG_ME"
	case OpCreateCoin:
		return "CREATE_COIN"
	case OpReserveFee:
		return "RESERVE_FEE"
	case OpCreateCoinAnnouncement:
		return "CREATE_COIN_ANNOUNCEMENT"
	case OpAssertCoinAnnouncement:
		return "ASSERT_COIN_ANNOUNCEMENT"
	case OpAssertMyAmount:
		return "ASSERT_MY_AMOUNT"
	case OpAssertSecondsRelative:
		return "ASSERT_SECONDS_RELATIVE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(o))
	}
}

var (
	// ErrUnknownCondition is returned when parsing an opcode this package
	// does not model.
	ErrUnknownCondition = errors.New("condition: unknown opcode")

	// ErrMalformedCondition is returned when a condition has the wrong
	// arguments for its opcode.
	ErrMalformedCondition = errors.New("condition: malformed condition")
)

// Condition is one output of running a script. The set of implementations is
// closed; callers type switch over it.
type Condition interface {
	// Opcode returns the opcode of the condition.
	Opcode() Opcode

	// Program returns the list encoding (opcode arg ...).
	Program() *program.Program

	isCondition()
}

// CreateCoin creates a new coin with the given puzzle hash and amount as a
// child of the spent coin.
type CreateCoin struct {
	PuzzleHash program.Hash
	Amount     uint64
	Memos      [][]byte
}

// ReserveFee asserts that the bundle leaves at least Amount as fee.
type ReserveFee struct {
	Amount uint64
}

// CreateCoinAnnouncement announces Message, bound to the spent coin.
type CreateCoinAnnouncement struct {
	Message []byte
}

// AssertCoinAnnouncement requires an announcement with the given id to be
// created in the same bundle.
type AssertCoinAnnouncement struct {
	ID program.Hash
}

// Remark carries arbitrary data. The ledger ignores it.
type Remark struct {
	Data []byte
}

// AggSigMe requires a signature by PubKey over Message bound to the spent
// coin and the network.
type AggSigMe struct {
	PubKey  []byte
	Message []byte
}

// AssertMyAmount requires the spent coin to hold exactly Amount.
type AssertMyAmount struct {
	Amount uint64
}

// AssertSecondsRelative requires Seconds to have elapsed since the spent coin
// was created.
type AssertSecondsRelative struct {
	Seconds uint64
}

func (CreateCoin) Opcode() Opcode             { return OpCreateCoin }
func (ReserveFee) Opcode() Opcode             { return OpReserveFee }
func (CreateCoinAnnouncement) Opcode() Opcode { return OpCreateCoinAnnouncement }
func (AssertCoinAnnouncement) Opcode() Opcode { return OpAssertCoinAnnouncement }
func (Remark) Opcode() Opcode                 { return OpRemark }
func (AggSigMe) Opcode() Opcode               { return OpAggSigMe }
func (AssertMyAmount) Opcode() Opcode         { return OpAssertMyAmount }
func (AssertSecondsRelative) Opcode() Opcode  { return OpAssertSecondsRelative }

func (CreateCoin) isCondition()             {}
func (ReserveFee) isCondition()             {}
func (CreateCoinAnnouncement) isCondition() {}
func (AssertCoinAnnouncement) isCondition() {}
func (Remark) isCondition()                 {}
func (AggSigMe) isCondition()               {}
func (AssertMyAmount) isCondition()         {}
func (AssertSecondsRelative) isCondition()  {}

func opAtom(o Opcode) *program.Program {
	return program.Uint(uint64(o))
}

// Program returns (51 puzzle_hash amount [memos]).
func (c CreateCoin) Program() *program.Program {
	items := []*program.Program{
		opAtom(OpCreateCoin), program.Bytes32(c.PuzzleHash),
		program.Uint(c.Amount),
	}
	if len(c.Memos) > 0 {
		memos := make([]*program.Program, len(c.Memos))
		for i, m := range c.Memos {
			memos[i] = program.Atom(m)
		}
		items = append(items, program.List(memos...))
	}

	return program.List(items...)
}

func (c ReserveFee) Program() *program.Program {
	return program.List(opAtom(OpReserveFee), program.Uint(c.Amount))
}

func (c CreateCoinAnnouncement) Program() *program.Program {
	return program.List(
		opAtom(OpCreateCoinAnnouncement), program.Atom(c.Message),
	)
}

func (c AssertCoinAnnouncement) Program() *program.Program {
	return program.List(
		opAtom(OpAssertCoinAnnouncement), program.Bytes32(c.ID),
	)
}

func (c Remark) Program() *program.Program {
	return program.List(opAtom(OpRemark), program.Atom(c.Data))
}

func (c AggSigMe) Program() *program.Program {
	return program.List(
		opAtom(OpAggSigMe), program.Atom(c.PubKey),
		program.Atom(c.Message),
	)
}

func (c AssertMyAmount) Program() *program.Program {
	return program.List(opAtom(OpAssertMyAmount), program.Uint(c.Amount))
}

func (c AssertSecondsRelative) Program() *program.Program {
	return program.List(
		opAtom(OpAssertSecondsRelative), program.Uint(c.Seconds),
	)
}

// AnnouncementID returns the id under which a coin announcement of message by
// coinID can be asserted.
func AnnouncementID(coinID program.Hash, message []byte) program.Hash {
	return program.Sha256(coinID[:], message)
}
