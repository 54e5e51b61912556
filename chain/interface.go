package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/program"
)

var (
	// ErrCoinNotFound is returned when the ledger has no record of a coin.
	ErrCoinNotFound = errors.New("coin not found")

	// ErrBlockNotFound is returned for heights beyond the chain tip.
	ErrBlockNotFound = errors.New("block not found")

	// ErrNoCoins is returned when the wallet has nothing to select from.
	ErrNoCoins = errors.New("no spendable coins")
)

const (
	// ReasonSecondsRelativeFailed is the rejection reason for a spend
	// made before its relative timelock expired.
	ReasonSecondsRelativeFailed = "ASSERT_SECONDS_RELATIVE_FAILED"

	// ReasonDoubleSpend is the rejection reason for spending a coin that
	// is already spent.
	ReasonDoubleSpend = "DOUBLE_SPEND"

	timelockHint = "the timelock has not elapsed yet; resubmit the same " +
		"bundle once it has"
)

// LedgerRejectedError is returned when the ledger refuses a bundle.
type LedgerRejectedError struct {
	// Reason is the ledger's rejection reason, verbatim.
	Reason string

	// Hint is a human readable explanation for known reasons.
	Hint string
}

// NewLedgerRejectedError wraps a rejection reason, attaching a hint when the
// reason is recognised.
func NewLedgerRejectedError(reason string) *LedgerRejectedError {
	e := &LedgerRejectedError{Reason: reason}
	if strings.Contains(reason, ReasonSecondsRelativeFailed) {
		e.Hint = timelockHint
	}

	return e
}

// Error implements the error interface.
func (e *LedgerRejectedError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("ledger rejected bundle: %s", e.Reason)
	}

	return fmt.Sprintf("ledger rejected bundle: %s (%s)", e.Reason, e.Hint)
}

// Node is the ledger collaborator: it validates bundles and serves
// historical coin and block data.
type Node interface {
	// CoinRecordByID returns the record of a coin, or ErrCoinNotFound.
	CoinRecordByID(ctx context.Context, id coin.ID) (*coin.Record, error)

	// CoinRecordsByPuzzleHash returns all coins locked by a puzzle hash.
	CoinRecordsByPuzzleHash(ctx context.Context, puzzleHash program.Hash,
		includeSpent bool) ([]*coin.Record, error)

	// PuzzleAndSolution returns the spend of a coin that was spent at the
	// given height.
	PuzzleAndSolution(ctx context.Context, id coin.ID,
		height uint32) (*coin.Spend, error)

	// BlockRecordByHeight returns the block at height.
	BlockRecordByHeight(ctx context.Context,
		height uint32) (*coin.BlockRecord, error)

	// PushTx submits a bundle. A refusal is reported as a
	// *LedgerRejectedError.
	PushTx(ctx context.Context, bundle *coin.SpendBundle) error
}

// Wallet is the wallet collaborator: a key and coin oracle.
type Wallet interface {
	// SelectCoins returns wallet coins covering at least amount.
	SelectCoins(ctx context.Context, amount uint64,
		walletID uint32) ([]coin.Coin, error)

	// SpendableCoins returns wallet coins worth at least minAmount each.
	SpendableCoins(ctx context.Context, walletID uint32,
		minAmount uint64) ([]coin.Coin, error)

	// LoggedInFingerprint returns the fingerprint of the active key.
	LoggedInFingerprint(ctx context.Context) (uint32, error)

	// PrivateKeyMaterial returns the master secret for a fingerprint.
	PrivateKeyMaterial(ctx context.Context,
		fingerprint uint32) ([]byte, error)

	// CurrentDerivationIndex returns the highest derivation index the
	// wallet has handed out.
	CurrentDerivationIndex(ctx context.Context) (uint32, error)

	// NextAddress returns a fresh receive puzzle hash.
	NextAddress(ctx context.Context, walletID uint32) (program.Hash, error)
}
