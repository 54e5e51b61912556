package puzzle

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/condition"
	"github.com/lightninglabs/clawback/keys"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Conditions runs a spend and returns its conditions.
func (r *Registry) Conditions(s *coin.Spend) ([]condition.Condition, error) {
	if s.PuzzleReveal.TreeHash() != s.Coin.PuzzleHash {
		return nil, fmt.Errorf("%w: reveal does not match coin puzzle "+
			"hash", ErrSpendRejected)
	}

	return r.Run(s.PuzzleReveal, s.Solution)
}

// Additions returns the coins created by a spend.
func (r *Registry) Additions(s *coin.Spend) ([]coin.Coin, error) {
	conds, err := r.Conditions(s)
	if err != nil {
		return nil, err
	}

	parentID := s.Coin.ID()

	return fn.Map(condition.Created(conds), func(cc condition.CreateCoin) coin.Coin {
		return coin.Coin{
			ParentID:   parentID,
			PuzzleHash: cc.PuzzleHash,
			Amount:     cc.Amount,
		}
	}), nil
}

// RequiredSignatures returns the (public key, message) pairs a spend needs
// signatures for, in condition order.
func (r *Registry) RequiredSignatures(s *coin.Spend,
	additionalData []byte) ([]keys.PubKeyMessage, error) {

	conds, err := r.Conditions(s)
	if err != nil {
		return nil, err
	}

	var pairs []keys.PubKeyMessage
	for _, c := range conds {
		sig, ok := c.(condition.AggSigMe)
		if !ok {
			continue
		}

		pairs = append(pairs, keys.PubKeyMessage{
			PubKey: sig.PubKey,
			Message: keys.AggSigMeMessage(
				sig.Message, s.Coin.ID(), additionalData,
			),
		})
	}

	return pairs, nil
}

// SigningPuzzleHash returns the inner puzzle hash of the wallet key that must
// sign a spend. Claim leaf spends need no key and return None.
func (r *Registry) SigningPuzzleHash(s *coin.Spend) (fn.Option[program.Hash],
	error) {

	none := fn.None[program.Hash]()

	t, args, err := r.Identify(s.PuzzleReveal)
	if err != nil {
		return none, err
	}

	switch t {
	case r.Standard:
		return fn.Some(s.Coin.PuzzleHash), nil

	case r.OneOfN:
		inner, err := s.Solution.At("f")
		if err != nil {
			return none, fmt.Errorf("%w: %v", ErrBadSolution, err)
		}
		return fn.Some(inner.TreeHash()), nil

	case r.Validator:
		return fn.Some(args[1].TreeHash()), nil

	case r.Dispatcher:
		leaf, err := s.Solution.At("f")
		if err != nil {
			return none, fmt.Errorf("%w: %v", ErrBadSolution, err)
		}

		leafTemplate, leafArgs, err := r.Identify(leaf)
		if err != nil {
			return none, err
		}
		if leafTemplate == r.ClawbackLeaf {
			return fn.Some(leafArgs[1].TreeHash()), nil
		}

		return none, nil

	default:
		return none, fmt.Errorf("%w: %s spends are not signed by the "+
			"wallet", ErrUnknownPuzzle, t.Name)
	}
}

// ExtractTerms recovers the escrow metadata of child from the spend of its
// parent. The remark is preferred; a validator parent without a remark is
// decoded from its curried arguments. senderKey is consulted to classify a
// validator escrow funded from a plain wallet coin, as its outer puzzle can
// only be rebuilt from the sender's key.
func (r *Registry) ExtractTerms(parent *coin.Spend, child coin.Coin,
	senderKey fn.Option[*btcec.PublicKey]) (*EscrowInfo, error) {

	if child.ParentID != parent.Coin.ID() {
		return nil, fmt.Errorf("%w: %v is not the parent of %v",
			ErrInvalidEscrowCoin, parent.Coin.ID(), child.ID())
	}

	conds, err := r.Conditions(parent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEscrowCoin, err)
	}

	parentTemplate, parentArgs, err := r.Identify(parent.PuzzleReveal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEscrowCoin, err)
	}

	data, ok := condition.FindRemark(conds)
	if !ok {
		if parentTemplate != r.Validator {
			return nil, fmt.Errorf("%w: no remark in parent spend",
				ErrInvalidEscrowCoin)
		}

		return r.termsFromValidator(parent, parentArgs, child)
	}

	remark, err := ParseEscrowRemark(data)
	if err != nil {
		return nil, err
	}
	info := &EscrowInfo{
		Sender:    remark.Sender,
		Recipient: remark.Recipient,
		Timelock:  remark.Timelock,
	}

	kind, recipient, err := r.classify(
		parent, parentTemplate, parentArgs, child, remark, senderKey,
	)
	if err != nil {
		return nil, err
	}
	info.Kind = kind
	info.Recipient = recipient
	info.SenderPuzzle = r.revealedSender(parent, parentTemplate, parentArgs)

	return info, nil
}

// classify works out which escrow puzzle locks child. It also returns the
// recipient of the coin: the routing target for a dispatcher coin, the
// remark's recipient otherwise.
func (r *Registry) classify(parent *coin.Spend, parentTemplate *Template,
	parentArgs []*program.Program, child coin.Coin, remark EscrowRemark,
	senderKey fn.Option[*btcec.PublicKey]) (Kind, program.Hash, error) {

	direct, _ := r.OuterPuzzleHash(Terms{
		Mode:      ModeDirect,
		Timelock:  remark.Timelock,
		Sender:    Identity{PuzzleHash: remark.Sender},
		Recipient: Identity{PuzzleHash: remark.Recipient},
	})
	if direct == child.PuzzleHash {
		return KindDirect, remark.Recipient, nil
	}

	switch parentTemplate {
	case r.Validator:
		if child.PuzzleHash == parent.Coin.PuzzleHash {
			return KindValidator, remark.Recipient, nil
		}

		target, ok, err := r.routedTarget(parent, parentArgs, child)
		if err != nil {
			return 0, program.Hash{}, err
		}
		if ok {
			return KindDispatcher, target, nil
		}

	case r.Dispatcher:
		leaf, err := parent.Solution.At("f")
		if err != nil {
			break
		}
		leafTemplate, leafArgs, err := r.Identify(leaf)
		if err != nil || leafTemplate != r.ClawbackLeaf {
			break
		}
		returnHash, err := leafArgs[0].AsHash()
		if err == nil && returnHash == child.PuzzleHash {
			return KindValidator, remark.Recipient, nil
		}
	}

	// A validator escrow funded from a wallet coin can only be
	// recognised by rebuilding it from the sender's key.
	var found bool
	senderKey.WhenSome(func(pk *btcec.PublicKey) {
		outer, err := r.OuterPuzzleHash(Terms{
			Mode:     ModeValidator,
			Timelock: remark.Timelock,
			Sender: Identity{
				PuzzleHash: remark.Sender,
				PubKey:     pk,
			},
		})
		found = err == nil && outer == child.PuzzleHash
	})
	if found {
		return KindValidator, remark.Recipient, nil
	}

	return 0, program.Hash{}, fmt.Errorf("%w: coin %v matches no escrow "+
		"puzzle", ErrInvalidEscrowCoin, child.ID())
}

// routedTarget looks child up among the dispatcher coins of the targets a
// validator spend lists.
func (r *Registry) routedTarget(parent *coin.Spend, args []*program.Program,
	child coin.Coin) (program.Hash, bool, error) {

	timelock, err := args[0].AsUint()
	if err != nil {
		return program.Hash{}, false, fmt.Errorf("%w: %v",
			ErrInvalidEscrowCoin, err)
	}

	targets, err := parent.Solution.At("f")
	if err != nil {
		return program.Hash{}, false, fmt.Errorf("%w: %v",
			ErrInvalidEscrowCoin, err)
	}
	items, err := targets.AsList()
	if err != nil {
		return program.Hash{}, false, fmt.Errorf("%w: %v",
			ErrInvalidEscrowCoin, err)
	}

	for _, item := range items {
		target, err := item.AsHash()
		if err != nil {
			continue
		}

		dispatcher, err := r.dispatcherFor(
			timelock, args[1], parent.Coin.PuzzleHash, target,
		)
		if err != nil {
			return program.Hash{}, false, err
		}
		if dispatcher.TreeHash() == child.PuzzleHash {
			return target, true, nil
		}
	}

	return program.Hash{}, false, nil
}

// termsFromValidator decodes the terms of a coin created by a validator
// spend that carries no remark.
func (r *Registry) termsFromValidator(parent *coin.Spend,
	args []*program.Program, child coin.Coin) (*EscrowInfo, error) {

	timelock, err := args[0].AsUint()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEscrowCoin, err)
	}
	senderInner := args[1]

	info := &EscrowInfo{
		Sender:       senderInner.TreeHash(),
		Timelock:     timelock,
		SenderPuzzle: senderInner,
	}
	if child.PuzzleHash == parent.Coin.PuzzleHash {
		info.Kind = KindValidator
		return info, nil
	}

	target, ok, err := r.routedTarget(parent, args, child)
	if err != nil {
		return nil, err
	}
	if ok {
		info.Kind = KindDispatcher
		info.Recipient = target
		return info, nil
	}

	return nil, fmt.Errorf("%w: coin %v is not an output of the validator",
		ErrInvalidEscrowCoin, child.ID())
}

// revealedSender returns the sender inner puzzle curried into an escrow
// parent, or nil for a wallet parent.
func (r *Registry) revealedSender(parent *coin.Spend, parentTemplate *Template,
	parentArgs []*program.Program) *program.Program {

	switch parentTemplate {
	case r.Validator:
		return parentArgs[1]

	case r.Dispatcher:
		leaf, err := parent.Solution.At("f")
		if err != nil {
			return nil
		}
		leafTemplate, leafArgs, err := r.Identify(leaf)
		if err != nil || leafTemplate != r.ClawbackLeaf {
			return nil
		}
		return leafArgs[1]

	default:
		return nil
	}
}
