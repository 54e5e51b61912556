package puzzle

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/clawback/condition"
	"github.com/lightninglabs/clawback/program"
)

var (
	// ErrInvalidEscrowCoin is returned when on-chain data does not carry
	// the escrow metadata. Such a coin was not created by this protocol.
	ErrInvalidEscrowCoin = errors.New("not a valid clawback coin")

	// ErrMissingPubKey is returned when a construction needs the public
	// key behind an identity but only its puzzle hash is known.
	ErrMissingPubKey = errors.New("puzzle: identity has no public key")

	// ErrUnsupportedMode is returned for operations the escrow mode does
	// not offer.
	ErrUnsupportedMode = errors.New("puzzle: operation not supported " +
		"by escrow mode")
)

// Mode selects the outer escrow construction.
type Mode uint8

const (
	// ModeDirect embeds both parties' inner puzzle hashes in the outer
	// puzzle. The sender may spend at any time, the recipient after the
	// timelock.
	ModeDirect Mode = 1

	// ModeValidator wraps the sender's inner puzzle in a validator that
	// only pays towards per recipient dispatchers. Routed coins are then
	// clawed back or claimed through the dispatcher's two leaves.
	ModeValidator Mode = 2
)

// String returns the name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeValidator:
		return "validator"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "direct":
		return ModeDirect, nil
	case "validator":
		return ModeValidator, nil
	default:
		return 0, fmt.Errorf("unknown escrow mode %q", s)
	}
}

// Kind classifies an escrowed coin by the puzzle that locks it.
type Kind uint8

const (
	// KindDirect is a coin locked by a ModeDirect outer puzzle.
	KindDirect Kind = 1

	// KindValidator is a coin locked by a ModeValidator outer puzzle.
	KindValidator Kind = 2

	// KindDispatcher is a routed coin locked by a dispatcher.
	KindDispatcher Kind = 3
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindValidator:
		return "validator"
	case KindDispatcher:
		return "dispatcher"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Identity is one escrow party. PuzzleHash is always set; PubKey is set for
// wallet backed identities, in which case PuzzleHash is the hash of the
// standard puzzle for that key. Puzzle may carry an inner puzzle revealed on
// chain when the key itself is unknown.
type Identity struct {
	PuzzleHash program.Hash
	PubKey     *btcec.PublicKey
	Puzzle     *program.Program
}

// Terms are the parameters every party needs to agree on to derive the same
// escrow puzzle.
type Terms struct {
	Mode      Mode
	Timelock  uint64
	Sender    Identity
	Recipient Identity
}

// Validate checks that the terms are complete for their mode.
func (t Terms) Validate() error {
	switch t.Mode {
	case ModeDirect:
		return nil

	case ModeValidator:
		if t.Sender.PubKey == nil && t.Sender.Puzzle == nil {
			return fmt.Errorf("%w: validator escrow needs the "+
				"sender key", ErrMissingPubKey)
		}
		return nil

	default:
		return fmt.Errorf("unknown escrow mode %d", t.Mode)
	}
}

// EscrowRemark is the metadata attached to every escrow creating spend so
// the terms can be recovered from chain data alone.
type EscrowRemark struct {
	Sender    program.Hash
	Recipient program.Hash
	Timelock  uint64
}

// NewEscrowRemark returns the remark for the given terms.
func NewEscrowRemark(t Terms) EscrowRemark {
	return EscrowRemark{
		Sender:    t.Sender.PuzzleHash,
		Recipient: t.Recipient.PuzzleHash,
		Timelock:  t.Timelock,
	}
}

// Condition encodes the remark as sender || recipient || timelock.
func (e EscrowRemark) Condition() condition.Remark {
	data := make([]byte, 0, 2*program.HashSize+9)
	data = append(data, e.Sender[:]...)
	data = append(data, e.Recipient[:]...)
	data = append(data, program.IntBytes(e.Timelock)...)

	return condition.Remark{Data: data}
}

// ParseEscrowRemark decodes remark data.
func ParseEscrowRemark(data []byte) (EscrowRemark, error) {
	var e EscrowRemark
	if len(data) < 2*program.HashSize {
		return e, fmt.Errorf("%w: remark too short", ErrInvalidEscrowCoin)
	}

	copy(e.Sender[:], data[:program.HashSize])
	copy(e.Recipient[:], data[program.HashSize:2*program.HashSize])

	timelock, err := program.UintFromBytes(data[2*program.HashSize:])
	if err != nil {
		return e, fmt.Errorf("%w: bad timelock: %v", ErrInvalidEscrowCoin,
			err)
	}
	e.Timelock = timelock

	return e, nil
}

// EscrowInfo is what can be learned about an escrowed coin from the spend
// that created it.
type EscrowInfo struct {
	Kind      Kind
	Sender    program.Hash
	Recipient program.Hash
	Timelock  uint64

	// SenderPuzzle is the sender's inner puzzle when the parent spend
	// revealed it.
	SenderPuzzle *program.Program
}

// Mode returns the escrow mode the coin belongs to.
func (e *EscrowInfo) Mode() Mode {
	if e.Kind == KindDirect {
		return ModeDirect
	}

	return ModeValidator
}

// Terms returns the terms the coin was locked under. Keys are not part of
// the chain data; callers fill them in where the wallet holds them.
func (e *EscrowInfo) Terms() Terms {
	return Terms{
		Mode:     e.Mode(),
		Timelock: e.Timelock,
		Sender: Identity{
			PuzzleHash: e.Sender,
			Puzzle:     e.SenderPuzzle,
		},
		Recipient: Identity{PuzzleHash: e.Recipient},
	}
}
