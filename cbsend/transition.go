package cbsend

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/clawback/chain"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/condition"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Escrow is an escrowed coin together with what the chain says about it.
type Escrow struct {
	// Record is the ledger's view of the coin.
	Record *coin.Record

	// Parent is the spend that created the coin.
	Parent *coin.Spend

	// Info is the metadata recovered from the parent spend.
	Info *puzzle.EscrowInfo
}

// LookupEscrow walks back to the parent spend of a coin and recovers its
// escrow terms. Coins not created by an escrow spend fail with
// puzzle.ErrInvalidEscrowCoin.
func (a *Assembler) LookupEscrow(ctx context.Context,
	id coin.ID) (*Escrow, error) {

	record, parent, err := chain.ParentSpend(ctx, a.cfg.Node, id)
	if err != nil {
		return nil, err
	}

	info, err := a.cfg.Registry.ExtractTerms(
		parent, record.Coin, fn.None[*btcec.PublicKey](),
	)
	if errors.Is(err, puzzle.ErrInvalidEscrowCoin) {
		// A validator escrow funded from a wallet coin is only
		// recognisable with the sender key.
		senderKey, keyErr := a.remarkSenderKey(ctx, parent)
		if keyErr != nil {
			return nil, keyErr
		}
		if senderKey.IsSome() {
			info, err = a.cfg.Registry.ExtractTerms(
				parent, record.Coin, senderKey,
			)
		}
	}
	if err != nil {
		return nil, err
	}

	return &Escrow{
		Record: record,
		Parent: parent,
		Info:   info,
	}, nil
}

// remarkSenderKey returns the wallet key of the sender named by the remark
// of a spend.
func (a *Assembler) remarkSenderKey(ctx context.Context,
	spend *coin.Spend) (fn.Option[*btcec.PublicKey], error) {

	none := fn.None[*btcec.PublicKey]()

	conds, err := a.cfg.Registry.Conditions(spend)
	if err != nil {
		return none, nil
	}
	data, ok := condition.FindRemark(conds)
	if !ok {
		return none, nil
	}
	remark, err := puzzle.ParseEscrowRemark(data)
	if err != nil {
		return none, nil
	}

	return a.keyRing.PubKey(ctx, remark.Sender)
}

// terms rebuilds the terms of an escrow, adding the keys the wallet holds.
func (a *Assembler) terms(ctx context.Context,
	info *puzzle.EscrowInfo) (puzzle.Terms, error) {

	t := info.Terms()

	senderKey, err := a.keyRing.PubKey(ctx, info.Sender)
	if err != nil {
		return t, err
	}
	senderKey.WhenSome(func(pk *btcec.PublicKey) {
		t.Sender.PubKey = pk
	})

	if info.Kind == puzzle.KindDirect {
		recipientKey, err := a.keyRing.PubKey(ctx, info.Recipient)
		if err != nil {
			return t, err
		}
		recipientKey.WhenSome(func(pk *btcec.PublicKey) {
			t.Recipient.PubKey = pk
		})
	}

	return t, nil
}

// feeSpend spends a wallet coin to pay fee. The fee spend announces the id
// of the coin it pays for and the returned announcement id must be asserted
// by that coin's spend, so neither can be confirmed alone.
func (a *Assembler) feeSpend(ctx context.Context, fee uint64,
	bound coin.Coin) (fn.Option[*coin.Spend], []program.Hash, error) {

	none := fn.None[*coin.Spend]()
	if fee == 0 {
		return none, nil, nil
	}

	coins, err := a.cfg.Wallet.SpendableCoins(ctx, a.cfg.WalletID, fee)
	if err != nil {
		return none, nil, fmt.Errorf("unable to list fee coins: %w", err)
	}
	if len(coins) == 0 {
		return none, nil, fmt.Errorf("%w: no coin covers fee %d",
			ErrInsufficientFunds, fee)
	}
	feeCoin := coins[0]
	if feeCoin.Amount < fee {
		return none, nil, fmt.Errorf("%w: fee coin %v holds %d, "+
			"fee is %d", ErrInsufficientFunds, feeCoin.ID(),
			feeCoin.Amount, fee)
	}

	puzzles, err := a.walletPuzzles(ctx, []coin.Coin{feeCoin})
	if err != nil {
		return none, nil, err
	}

	boundID := bound.ID()
	message := boundID[:]

	var conds []condition.Condition
	if change := feeCoin.Amount - fee; change > 0 {
		conds = append(conds, condition.CreateCoin{
			PuzzleHash: feeCoin.PuzzleHash,
			Amount:     change,
		})
	}
	conds = append(
		conds, condition.ReserveFee{Amount: fee},
		condition.CreateCoinAnnouncement{Message: message},
	)

	spend := coin.NewSpend(
		feeCoin, puzzles[feeCoin.PuzzleHash],
		puzzle.StandardSolution(conds),
	)

	return fn.Some(spend), []program.Hash{
		condition.AnnouncementID(feeCoin.ID(), message),
	}, nil
}

// Clawback returns an escrowed coin to its sender. A routed coin goes back
// to the escrow's outer puzzle; a direct escrow pays the sender, or
// ReturnTo if set.
func (a *Assembler) Clawback(ctx context.Context,
	req ClawbackRequest) (*Result, error) {

	const op = "clawback"

	logState(op, SendStateSelectInputs)

	escrow, err := a.LookupEscrow(ctx, req.CoinID)
	if err != nil {
		return nil, err
	}
	info := escrow.Info
	escrowCoin := escrow.Record.Coin

	if info.Kind == puzzle.KindValidator {
		return nil, fmt.Errorf("%w: coin %v is not routed, route it "+
			"before clawing it back", puzzle.ErrUnsupportedMode,
			req.CoinID)
	}

	logState(op, SendStateBuildConditions)

	t, err := a.terms(ctx, info)
	if err != nil {
		return nil, err
	}

	returnTo := info.Sender
	if req.ReturnTo != (program.Hash{}) {
		returnTo = req.ReturnTo
	}

	feeSpend, assertions, err := a.feeSpend(ctx, req.Fee, escrowCoin)
	if err != nil {
		return nil, err
	}
	extra := fn.Map(assertions, func(id program.Hash) condition.Condition {
		return condition.AssertCoinAnnouncement{ID: id}
	})

	solution, err := a.cfg.Registry.SolutionForClawback(
		t, info.Kind, info.Recipient, escrowCoin.Amount, returnTo, extra,
	)
	if err != nil {
		return nil, err
	}

	return a.finish(
		ctx, op, escrow, t, solution, feeSpend,
		info.Kind == puzzle.KindDispatcher,
	)
}

// Claim releases an escrowed coin to its recipient once the timelock has
// passed. A routed coin always pays the target it was routed to and needs no
// signature; a direct escrow is signed by the recipient and pays the
// recipient, or ClaimTo if set.
func (a *Assembler) Claim(ctx context.Context,
	req ClaimRequest) (*Result, error) {

	const op = "claim"

	logState(op, SendStateSelectInputs)

	escrow, err := a.LookupEscrow(ctx, req.CoinID)
	if err != nil {
		return nil, err
	}
	info := escrow.Info
	escrowCoin := escrow.Record.Coin

	if info.Kind == puzzle.KindValidator {
		return nil, fmt.Errorf("%w: coin %v is not routed, route it "+
			"before claiming it", puzzle.ErrUnsupportedMode,
			req.CoinID)
	}

	logState(op, SendStateBuildConditions)

	t, err := a.terms(ctx, info)
	if err != nil {
		return nil, err
	}

	claimTo := info.Recipient
	if req.ClaimTo != (program.Hash{}) {
		claimTo = req.ClaimTo
	}

	feeSpend, assertions, err := a.feeSpend(ctx, req.Fee, escrowCoin)
	if err != nil {
		return nil, err
	}

	solution, err := a.cfg.Registry.SolutionForClaim(
		t, info.Kind, info.Recipient, escrowCoin.Amount, claimTo,
		assertions,
	)
	if err != nil {
		return nil, err
	}

	return a.finish(ctx, op, escrow, t, solution, feeSpend, false)
}

// finish signs the spend of an escrow coin together with its optional fee
// spend. When returnsToEscrow is set, the coins the spend creates are new
// escrow coins.
func (a *Assembler) finish(ctx context.Context, op string, escrow *Escrow,
	t puzzle.Terms, solution *program.Program,
	feeSpend fn.Option[*coin.Spend], returnsToEscrow bool) (*Result, error) {

	escrowCoin := escrow.Record.Coin

	reveal, err := a.escrowPuzzle(t, escrow)
	if err != nil {
		return nil, err
	}
	spend := coin.NewSpend(escrowCoin, reveal, solution)

	spends := []*coin.Spend{spend}
	feeSpend.WhenSome(func(s *coin.Spend) {
		spends = append(spends, s)
	})

	result := &Result{Released: []coin.Coin{escrowCoin}}
	if returnsToEscrow {
		additions, err := a.cfg.Registry.Additions(spend)
		if err != nil {
			return nil, err
		}

		remark := puzzle.EscrowRemark{
			Sender:    escrow.Info.Sender,
			Recipient: escrow.Info.Recipient,
			Timelock:  escrow.Info.Timelock,
		}
		for _, added := range additions {
			escrowed, err := a.escrowedCoin(
				ctx, added.ParentID, added.PuzzleHash,
				added.Amount, puzzle.KindValidator, remark,
			)
			if err != nil {
				return nil, err
			}
			result.Escrowed = append(result.Escrowed, escrowed)
		}
	}

	logState(op, SendStateSign)

	result.Bundle, err = a.signer.SignSpends(ctx, spends)
	if err != nil {
		return nil, err
	}

	logState(op, SendStateDone)

	log.Infof("Assembled %s of escrow coin %v (%d)", op, escrowCoin.ID(),
		escrowCoin.Amount)

	return result, nil
}

// escrowPuzzle rebuilds the puzzle locking an escrow coin from its terms.
func (a *Assembler) escrowPuzzle(t puzzle.Terms,
	escrow *Escrow) (*program.Program, error) {

	var (
		reveal *program.Program
		err    error
	)
	switch escrow.Info.Kind {
	case puzzle.KindDispatcher:
		reveal, err = a.cfg.Registry.DispatcherScript(
			t, escrow.Info.Recipient,
		)

	default:
		reveal, err = a.cfg.Registry.OuterScript(t)
	}
	if err != nil {
		return nil, err
	}

	if reveal.TreeHash() != escrow.Record.Coin.PuzzleHash {
		return nil, fmt.Errorf("%w: rebuilt puzzle %v does not lock "+
			"coin %v", puzzle.ErrInvalidEscrowCoin,
			reveal.TreeHash(), escrow.Record.Coin.ID())
	}

	return reveal, nil
}
