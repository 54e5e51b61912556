package puzzle

import (
	"fmt"

	"github.com/lightninglabs/clawback/condition"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Payment is a single (destination, amount) output.
type Payment struct {
	PuzzleHash program.Hash
	Amount     uint64
}

// StandardSolution returns the standard puzzle solution that outputs conds.
func StandardSolution(conds []condition.Condition) *program.Program {
	return program.List(
		program.Nil, program.Quote(condition.EncodeList(conds)),
		program.Nil,
	)
}

// FundingRequest describes the conditions of the origin coin of a funding
// spend.
type FundingRequest struct {
	// Primaries are the payments to make, usually to an escrow puzzle.
	Primaries []Payment

	// Change returns the remainder to the origin puzzle.
	Change fn.Option[Payment]

	// Fee is the fee reserved by the bundle.
	Fee uint64

	// Announcement is announced by the origin coin. The other inputs of
	// the bundle assert it.
	Announcement []byte

	// Remark carries the escrow terms.
	Remark fn.Option[EscrowRemark]
}

// FundingConditions returns the conditions of the origin coin in a funding
// spend.
func FundingConditions(req FundingRequest) []condition.Condition {
	var conds []condition.Condition
	for _, p := range req.Primaries {
		conds = append(conds, condition.CreateCoin{
			PuzzleHash: p.PuzzleHash,
			Amount:     p.Amount,
		})
	}

	conds = append(conds, condition.ReserveFee{Amount: req.Fee})
	req.Remark.WhenSome(func(e EscrowRemark) {
		conds = append(conds, e.Condition())
	})
	if len(req.Announcement) > 0 {
		conds = append(conds, condition.CreateCoinAnnouncement{
			Message: req.Announcement,
		})
	}
	req.Change.WhenSome(func(p Payment) {
		if p.Amount == 0 {
			return
		}
		conds = append(conds, condition.CreateCoin{
			PuzzleHash: p.PuzzleHash,
			Amount:     p.Amount,
		})
	})

	return conds
}

// SolutionForFunding returns the standard solution of the origin coin of a
// funding spend.
func SolutionForFunding(req FundingRequest) *program.Program {
	return StandardSolution(FundingConditions(req))
}

// SolutionForAssertion returns the solution of a co-spent input that only
// asserts the origin's announcement.
func SolutionForAssertion(announcementID program.Hash) *program.Program {
	return StandardSolution([]condition.Condition{
		condition.AssertCoinAnnouncement{ID: announcementID},
	})
}

// RoutingRequest describes how one validator coin is split.
type RoutingRequest struct {
	// Coin amount of the spent outer coin.
	CoinAmount uint64

	// Targets receive dispatcher coins.
	Targets []Payment

	// Change goes back to the outer puzzle.
	Change uint64

	// Fee is absorbed from this coin.
	Fee uint64
}

// SolutionForRouting returns the validator solution that splits one outer
// coin into dispatcher coins, change and fee.
func (r *Registry) SolutionForRouting(t Terms,
	req RoutingRequest) (*program.Program, error) {

	if t.Mode != ModeValidator {
		return nil, fmt.Errorf("%w: routing from %v escrow",
			ErrUnsupportedMode, t.Mode)
	}

	total := req.Change + req.Fee
	for _, p := range req.Targets {
		total += p.Amount
	}
	if total != req.CoinAmount {
		return nil, fmt.Errorf("routing does not conserve value: "+
			"outputs %d, coin %d", total, req.CoinAmount)
	}

	outerHash, err := r.OuterPuzzleHash(t)
	if err != nil {
		return nil, err
	}

	var (
		conds   []condition.Condition
		targets []*program.Program
	)
	for _, p := range req.Targets {
		dispatcher, err := r.DispatcherScript(t, p.PuzzleHash)
		if err != nil {
			return nil, err
		}

		conds = append(conds, condition.CreateCoin{
			PuzzleHash: dispatcher.TreeHash(),
			Amount:     p.Amount,
		})
		targets = append(targets, program.Bytes32(p.PuzzleHash))
	}
	if req.Change > 0 {
		conds = append(conds, condition.CreateCoin{
			PuzzleHash: outerHash,
			Amount:     req.Change,
		})
	}
	if req.Fee > 0 {
		conds = append(conds, condition.ReserveFee{Amount: req.Fee})
	}

	// The remark keeps the escrow's own terms. Dispatcher targets are
	// recovered from the targets list of the solution.
	conds = append(
		conds, NewEscrowRemark(t).Condition(),
		condition.AssertMyAmount{Amount: req.CoinAmount},
	)

	return program.List(
		program.List(targets...), StandardSolution(conds),
	), nil
}

// SolutionForClawback returns the solution that sends the whole coin back to
// the sender. For a routed coin the destination is always the outer puzzle;
// for a direct escrow it is returnTo. Extra conditions, such as fee
// announcement assertions, are appended.
func (r *Registry) SolutionForClawback(t Terms, kind Kind,
	target program.Hash, amount uint64, returnTo program.Hash,
	extra []condition.Condition) (*program.Program, error) {

	switch kind {
	case KindDirect:
		inner, err := r.senderInner(t)
		if err != nil {
			return nil, err
		}

		conds := append([]condition.Condition{
			condition.CreateCoin{PuzzleHash: returnTo, Amount: amount},
		}, extra...)

		return program.List(inner, StandardSolution(conds)), nil

	case KindDispatcher:
		tree, claw, _, err := r.LeafTree(t, target)
		if err != nil {
			return nil, err
		}
		proof, err := tree.Proof(claw.TreeHash())
		if err != nil {
			return nil, err
		}

		outerHash, err := r.OuterPuzzleHash(t)
		if err != nil {
			return nil, err
		}

		remark := NewEscrowRemark(t)
		remark.Recipient = target
		conds := append([]condition.Condition{
			condition.CreateCoin{PuzzleHash: outerHash, Amount: amount},
			remark.Condition(),
		}, extra...)

		leafSolution := program.List(StandardSolution(conds))

		return program.List(claw, proof.Program(), leafSolution), nil

	default:
		return nil, fmt.Errorf("%w: clawback of %v coin",
			ErrUnsupportedMode, kind)
	}
}

// SolutionForClaim returns the solution that releases the coin to its
// recipient. Routed coins always pay the dispatcher's target. A direct
// escrow is spent by the recipient's key to claimTo. assertions are coin
// announcement ids the spend must see, used to bind a fee spend.
func (r *Registry) SolutionForClaim(t Terms, kind Kind, target program.Hash,
	amount uint64, claimTo program.Hash,
	assertions []program.Hash) (*program.Program, error) {

	switch kind {
	case KindDirect:
		if t.Recipient.PubKey == nil {
			return nil, fmt.Errorf("%w: recipient", ErrMissingPubKey)
		}
		inner := r.StandardPuzzle(t.Recipient.PubKey)
		if inner.TreeHash() != t.Recipient.PuzzleHash {
			return nil, fmt.Errorf("recipient key does not match "+
				"recipient puzzle hash %v", t.Recipient.PuzzleHash)
		}

		conds := []condition.Condition{
			condition.CreateCoin{PuzzleHash: claimTo, Amount: amount},
		}
		for _, id := range assertions {
			conds = append(conds, condition.AssertCoinAnnouncement{
				ID: id,
			})
		}

		return program.List(inner, StandardSolution(conds)), nil

	case KindDispatcher:
		tree, _, claim, err := r.LeafTree(t, target)
		if err != nil {
			return nil, err
		}
		proof, err := tree.Proof(claim.TreeHash())
		if err != nil {
			return nil, err
		}

		leafArgs := []*program.Program{program.Uint(amount)}
		for _, id := range assertions {
			leafArgs = append(leafArgs, program.Bytes32(id))
		}

		return program.List(
			claim, proof.Program(), program.List(leafArgs...),
		), nil

	default:
		return nil, fmt.Errorf("%w: claim of %v coin",
			ErrUnsupportedMode, kind)
	}
}
