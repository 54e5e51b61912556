package puzzle

import (
	"fmt"

	"github.com/lightninglabs/clawback/condition"
	"github.com/lightninglabs/clawback/merkle"
	"github.com/lightninglabs/clawback/program"
)

func badSolution(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadSolution, fmt.Sprintf(format, args...))
}

func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSpendRejected, fmt.Sprintf(format, args...))
}

// solutionArgs splits a solution into exactly n leading list items. Extra
// trailing items are allowed.
func solutionArgs(solution *program.Program, n int) ([]*program.Program,
	error) {

	items, err := solution.AsList()
	if err != nil {
		return nil, badSolution("%v", err)
	}
	if len(items) < n {
		return nil, badSolution("want %d items, got %d", n, len(items))
	}

	return items, nil
}

// evalStandard: args (synthetic_pk), solution (() delegated_puzzle
// delegated_solution). Only quoted delegated puzzles are supported; their
// quoted body is the list of conditions to output.
func evalStandard(_ *Registry, _ *program.Program, args []*program.Program,
	solution *program.Program, _ int) ([]condition.Condition, error) {

	pk, err := args[0].AtomBytes()
	if err != nil {
		return nil, rejected("bad curried key: %v", err)
	}

	items, err := solutionArgs(solution, 2)
	if err != nil {
		return nil, err
	}
	if !items[0].IsNil() {
		return nil, rejected("hidden puzzle path is disabled")
	}

	delegated := items[1]
	body, ok := program.Unquote(delegated)
	if !ok {
		return nil, rejected("delegated puzzle must be quoted")
	}

	conds, err := condition.ParseList(body)
	if err != nil {
		return nil, err
	}

	digest := delegated.TreeHash()
	sig := condition.AggSigMe{PubKey: pk, Message: digest[:]}

	return append([]condition.Condition{sig}, conds...), nil
}

// evalOneOfN: args (timelock sender_hash recipient_hash), solution
// (inner_puzzle inner_solution). The sender may spend at any time, the
// recipient only once the timelock has passed.
func evalOneOfN(r *Registry, _ *program.Program, args []*program.Program,
	solution *program.Program, depth int) ([]condition.Condition, error) {

	timelock, err := args[0].AsUint()
	if err != nil {
		return nil, rejected("bad timelock: %v", err)
	}
	sender, err := args[1].AsHash()
	if err != nil {
		return nil, rejected("bad sender: %v", err)
	}
	recipient, err := args[2].AsHash()
	if err != nil {
		return nil, rejected("bad recipient: %v", err)
	}

	items, err := solutionArgs(solution, 2)
	if err != nil {
		return nil, err
	}
	inner, innerSolution := items[0], items[1]

	innerHash := inner.TreeHash()
	if innerHash != sender && innerHash != recipient {
		return nil, rejected("inner puzzle %v is neither party",
			innerHash)
	}

	conds, err := r.run(inner, innerSolution, depth)
	if err != nil {
		return nil, err
	}

	// A sender equal to the recipient keeps the unrestricted path.
	if innerHash == recipient && innerHash != sender {
		conds = append(conds, condition.AssertSecondsRelative{
			Seconds: timelock,
		})
	}

	return conds, nil
}

// evalValidator: args (timelock sender_inner_puzzle), solution (targets
// inner_solution). Every coin the sender creates must either pay back to
// this puzzle or to the dispatcher of one of the listed targets.
func evalValidator(r *Registry, self *program.Program,
	args []*program.Program, solution *program.Program,
	depth int) ([]condition.Condition, error) {

	timelock, err := args[0].AsUint()
	if err != nil {
		return nil, rejected("bad timelock: %v", err)
	}
	senderInner := args[1]

	items, err := solutionArgs(solution, 2)
	if err != nil {
		return nil, err
	}
	targetItems, err := items[0].AsList()
	if err != nil {
		return nil, badSolution("targets: %v", err)
	}

	selfHash := self.TreeHash()
	allowed := map[program.Hash]struct{}{selfHash: {}}
	for _, item := range targetItems {
		target, err := item.AsHash()
		if err != nil {
			return nil, badSolution("target: %v", err)
		}

		dispatcher, err := r.dispatcherFor(
			timelock, senderInner, selfHash, target,
		)
		if err != nil {
			return nil, err
		}
		allowed[dispatcher.TreeHash()] = struct{}{}
	}

	conds, err := r.run(senderInner, items[1], depth)
	if err != nil {
		return nil, err
	}

	for _, cc := range condition.Created(conds) {
		if _, ok := allowed[cc.PuzzleHash]; !ok {
			return nil, rejected("coin to %v is not an escrow "+
				"destination", cc.PuzzleHash)
		}
	}

	return conds, nil
}

// evalDispatcher: args (root), solution (leaf_puzzle proof leaf_solution).
func evalDispatcher(r *Registry, _ *program.Program, args []*program.Program,
	solution *program.Program, depth int) ([]condition.Condition, error) {

	root, err := args[0].AsHash()
	if err != nil {
		return nil, rejected("bad root: %v", err)
	}

	items, err := solutionArgs(solution, 3)
	if err != nil {
		return nil, err
	}

	proof, err := merkle.ProofFromProgram(items[1])
	if err != nil {
		return nil, badSolution("%v", err)
	}

	leaf := items[0]
	if !merkle.Verify(root, leaf.TreeHash(), proof) {
		return nil, rejected("leaf %v not in tree %v", leaf.TreeHash(),
			root)
	}

	return r.run(leaf, items[2], depth)
}

// evalClawbackLeaf: args (return_hash sender_inner_puzzle), solution
// (inner_solution). The sender signs, and every created coin must go back to
// the return puzzle hash.
func evalClawbackLeaf(r *Registry, _ *program.Program,
	args []*program.Program, solution *program.Program,
	depth int) ([]condition.Condition, error) {

	returnHash, err := args[0].AsHash()
	if err != nil {
		return nil, rejected("bad return hash: %v", err)
	}

	items, err := solutionArgs(solution, 1)
	if err != nil {
		return nil, err
	}

	conds, err := r.run(args[1], items[0], depth)
	if err != nil {
		return nil, err
	}

	for _, cc := range condition.Created(conds) {
		if cc.PuzzleHash != returnHash {
			return nil, rejected("clawback must pay %v, not %v",
				returnHash, cc.PuzzleHash)
		}
	}

	return conds, nil
}

// evalClaimLeaf: args (timelock target), solution (amount announcement_id
// ...). No signature is required: the output is fully determined by the
// curried target and the coin's own amount.
func evalClaimLeaf(_ *Registry, _ *program.Program, args []*program.Program,
	solution *program.Program, _ int) ([]condition.Condition, error) {

	timelock, err := args[0].AsUint()
	if err != nil {
		return nil, rejected("bad timelock: %v", err)
	}
	target, err := args[1].AsHash()
	if err != nil {
		return nil, rejected("bad target: %v", err)
	}

	items, err := solutionArgs(solution, 1)
	if err != nil {
		return nil, err
	}
	amount, err := items[0].AsUint()
	if err != nil {
		return nil, badSolution("amount: %v", err)
	}

	conds := []condition.Condition{
		condition.CreateCoin{PuzzleHash: target, Amount: amount},
		condition.AssertSecondsRelative{Seconds: timelock},
		condition.AssertMyAmount{Amount: amount},
	}
	for _, item := range items[1:] {
		id, err := item.AsHash()
		if err != nil {
			return nil, badSolution("announcement: %v", err)
		}
		conds = append(conds, condition.AssertCoinAnnouncement{ID: id})
	}

	return conds, nil
}
