package cbsend

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightninglabs/clawback/chain"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/condition"
	"github.com/lightninglabs/clawback/keys"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Config holds the collaborators of an Assembler.
type Config struct {
	// Registry builds and runs every puzzle.
	Registry *puzzle.Registry

	// Node serves coin and spend lookups.
	Node chain.Node

	// Wallet selects coins and holds the keys.
	Wallet chain.Wallet

	// WalletID is the wallet coins are selected from.
	WalletID uint32

	// GenesisChallenge is the network's AGG_SIG_ME additional data.
	GenesisChallenge []byte
}

// Assembler builds signed bundles for every escrow transition. It holds no
// state of its own: every call reads what it needs from the collaborators.
type Assembler struct {
	cfg *Config

	keyRing *KeyRing
	signer  *Signer
}

// NewAssembler creates a new assembler.
func NewAssembler(cfg *Config) *Assembler {
	keyRing := NewKeyRing(cfg.Wallet, cfg.Registry)

	return &Assembler{
		cfg:     cfg,
		keyRing: keyRing,
		signer: NewSigner(
			keyRing, cfg.Registry, cfg.GenesisChallenge,
		),
	}
}

// KeyRing returns the key ring the assembler signs with.
func (a *Assembler) KeyRing() *KeyRing {
	return a.keyRing
}

func logState(op string, state SendState) {
	log.Debugf("%s: entering %v", op, state)
}

// Fund locks an amount under the escrow puzzle of the request's terms.
func (a *Assembler) Fund(ctx context.Context,
	req FundRequest) (*Result, error) {

	outerHash, err := a.cfg.Registry.OuterPuzzleHash(req.Terms)
	if err != nil {
		return nil, fmt.Errorf("unable to derive escrow puzzle: %w", err)
	}

	result, err := a.pay(
		ctx, "fund", outerHash, req.Amount, req.Fee,
		fn.Some(puzzle.NewEscrowRemark(req.Terms)),
	)
	if err != nil {
		return nil, err
	}

	kind := puzzle.KindDirect
	if req.Terms.Mode == puzzle.ModeValidator {
		kind = puzzle.KindValidator
	}

	escrowed, err := a.escrowedCoin(
		ctx, result.Bundle.Spends[0].Coin.ID(), outerHash, req.Amount,
		kind, puzzle.NewEscrowRemark(req.Terms),
	)
	if err != nil {
		return nil, err
	}
	result.Escrowed = []EscrowedCoin{escrowed}

	return result, nil
}

// Send pays a plain destination from wallet coins.
func (a *Assembler) Send(ctx context.Context, dest program.Hash, amount,
	fee uint64) (*Result, error) {

	return a.pay(
		ctx, "send", dest, amount, fee, fn.None[puzzle.EscrowRemark](),
	)
}

// pay assembles a payment of amount to dest from wallet coins. The last
// selected coin is the origin: it creates the payment and the change and
// announces a message every other input asserts.
func (a *Assembler) pay(ctx context.Context, op string, dest program.Hash,
	amount, fee uint64,
	remark fn.Option[puzzle.EscrowRemark]) (*Result, error) {

	logState(op, SendStateSelectInputs)

	need := amount + fee
	coins, err := a.cfg.Wallet.SelectCoins(ctx, need, a.cfg.WalletID)
	switch {
	case errors.Is(err, chain.ErrNoCoins):
		return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)

	case err != nil:
		return nil, fmt.Errorf("unable to select coins: %w", err)
	}

	total := coin.SumAmounts(coins)
	if len(coins) == 0 || total < need {
		return nil, fmt.Errorf("%w: selected %d, need %d",
			ErrInsufficientFunds, total, need)
	}

	logState(op, SendStateBuildConditions)

	origin := coins[len(coins)-1]
	payment := coin.Coin{
		ParentID:   origin.ID(),
		PuzzleHash: dest,
		Amount:     amount,
	}
	message := announcementMessage(coins, payment)

	puzzles, err := a.walletPuzzles(ctx, coins)
	if err != nil {
		return nil, err
	}

	originSolution := puzzle.SolutionForFunding(puzzle.FundingRequest{
		Primaries: []puzzle.Payment{{
			PuzzleHash: dest,
			Amount:     amount,
		}},
		Change: fn.Some(puzzle.Payment{
			PuzzleHash: origin.PuzzleHash,
			Amount:     total - need,
		}),
		Fee:          fee,
		Announcement: message,
		Remark:       remark,
	})
	assertion := puzzle.SolutionForAssertion(
		condition.AnnouncementID(origin.ID(), message),
	)

	spends := []*coin.Spend{
		coin.NewSpend(origin, puzzles[origin.PuzzleHash], originSolution),
	}
	for _, c := range coins[:len(coins)-1] {
		spends = append(spends, coin.NewSpend(
			c, puzzles[c.PuzzleHash], assertion,
		))
	}

	logState(op, SendStateSign)

	bundle, err := a.signer.SignSpends(ctx, spends)
	if err != nil {
		return nil, err
	}

	logState(op, SendStateDone)

	log.Infof("Assembled %s of %d (fee %d) to %v from %d coins", op,
		amount, fee, dest, len(coins))

	return &Result{Bundle: bundle}, nil
}

// announcementMessage commits to every input and the created payment.
func announcementMessage(inputs []coin.Coin, payment coin.Coin) []byte {
	parts := make([][]byte, 0, len(inputs)+1)
	for _, c := range inputs {
		id := c.ID()
		parts = append(parts, id[:])
	}
	id := payment.ID()
	parts = append(parts, id[:])

	msg := program.Sha256(parts...)

	return msg[:]
}

// walletPuzzles returns the standard puzzle behind every coin's puzzle hash.
func (a *Assembler) walletPuzzles(ctx context.Context,
	coins []coin.Coin) (map[program.Hash]*program.Program, error) {

	puzzles := make(map[program.Hash]*program.Program)
	for _, c := range coins {
		if _, ok := puzzles[c.PuzzleHash]; ok {
			continue
		}

		match, err := a.keyRing.Resolve(ctx, c.PuzzleHash)
		if err != nil {
			return nil, err
		}
		puzzles[c.PuzzleHash] = a.cfg.Registry.StandardPuzzle(
			match.Key.PubKey(),
		)
	}

	return puzzles, nil
}

// escrowedCoin describes a new escrow coin, locating the sender key when
// the wallet holds it.
func (a *Assembler) escrowedCoin(ctx context.Context, parentID coin.ID,
	puzzleHash program.Hash, amount uint64, kind puzzle.Kind,
	remark puzzle.EscrowRemark) (EscrowedCoin, error) {

	escrowed := EscrowedCoin{
		Coin: coin.Coin{
			ParentID:   parentID,
			PuzzleHash: puzzleHash,
			Amount:     amount,
		},
		Kind:      kind,
		Sender:    remark.Sender,
		Recipient: remark.Recipient,
		Timelock:  remark.Timelock,
	}

	match, err := a.keyRing.Find(ctx, remark.Sender)
	if err != nil {
		return escrowed, err
	}
	match.WhenSome(func(m keys.KeyMatch) {
		escrowed.DerivationIndex = m.Index
		escrowed.Hardened = m.Hardened
	})

	return escrowed, nil
}

// Route splits validator escrow coins, sending amount to the dispatcher of
// target. Coins are consumed largest first; each absorbs outstanding fee
// before contributing to the amount, and the remainder of the last coin is
// returned to the escrow as change.
func (a *Assembler) Route(ctx context.Context,
	req RouteRequest) (*Result, error) {

	const op = "route"

	if req.Terms.Mode != puzzle.ModeValidator {
		return nil, fmt.Errorf("%w: routing from %v escrow",
			puzzle.ErrUnsupportedMode, req.Terms.Mode)
	}

	logState(op, SendStateSelectInputs)

	outer, err := a.cfg.Registry.OuterScript(req.Terms)
	if err != nil {
		return nil, fmt.Errorf("unable to derive escrow puzzle: %w", err)
	}
	outerHash := outer.TreeHash()

	records, err := a.cfg.Node.CoinRecordsByPuzzleHash(
		ctx, outerHash, false,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to list escrow coins: %w", err)
	}
	coins := fn.Map(records, func(r *coin.Record) coin.Coin {
		return r.Coin
	})

	allocs, err := AllocateRouting(coins, req.Amount, req.Fee)
	if err != nil {
		return nil, err
	}

	logState(op, SendStateBuildConditions)

	remark := puzzle.NewEscrowRemark(req.Terms)
	routedRemark := remark
	routedRemark.Recipient = req.Target

	var (
		spends []*coin.Spend
		result Result
	)
	for _, alloc := range allocs {
		var targets []puzzle.Payment
		if alloc.Routed > 0 {
			targets = append(targets, puzzle.Payment{
				PuzzleHash: req.Target,
				Amount:     alloc.Routed,
			})
		}

		solution, err := a.cfg.Registry.SolutionForRouting(
			req.Terms, puzzle.RoutingRequest{
				CoinAmount: alloc.Coin.Amount,
				Targets:    targets,
				Change:     alloc.Change,
				Fee:        alloc.Fee,
			},
		)
		if err != nil {
			return nil, err
		}

		spend := coin.NewSpend(alloc.Coin, outer, solution)
		spends = append(spends, spend)
		result.Released = append(result.Released, alloc.Coin)

		additions, err := a.cfg.Registry.Additions(spend)
		if err != nil {
			return nil, err
		}
		for _, added := range additions {
			kind, r := puzzle.KindDispatcher, routedRemark
			if added.PuzzleHash == outerHash {
				kind, r = puzzle.KindValidator, remark
			}

			escrowed, err := a.escrowedCoin(
				ctx, added.ParentID, added.PuzzleHash,
				added.Amount, kind, r,
			)
			if err != nil {
				return nil, err
			}
			result.Escrowed = append(result.Escrowed, escrowed)
		}

		log.Debugf("Routing coin %v: routed=%d change=%d fee=%d",
			alloc.Coin.ID(), alloc.Routed, alloc.Change, alloc.Fee)
	}

	logState(op, SendStateSign)

	result.Bundle, err = a.signer.SignSpends(ctx, spends)
	if err != nil {
		return nil, err
	}

	logState(op, SendStateDone)

	return &result, nil
}
