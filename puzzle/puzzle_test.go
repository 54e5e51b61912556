package puzzle

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/condition"
	"github.com/lightninglabs/clawback/merkle"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testRegistry = NewRegistry()

func keyFromSeed(t require.TestingT, seed byte) *btcec.PrivateKey {
	var b [32]byte
	b[31] = seed
	b[0] = 1

	sk, _ := btcec.PrivKeyFromBytes(b[:])
	require.NotNil(t, sk)

	return sk
}

func validatorTerms(t require.TestingT, timelock uint64) Terms {
	sender := keyFromSeed(t, 1)
	recipient := keyFromSeed(t, 2)

	return Terms{
		Mode:      ModeValidator,
		Timelock:  timelock,
		Sender:    testRegistry.KeyIdentity(sender.PubKey()),
		Recipient: testRegistry.KeyIdentity(recipient.PubKey()),
	}
}

func genHash() *rapid.Generator[program.Hash] {
	return rapid.Custom(func(t *rapid.T) program.Hash {
		var h program.Hash
		copy(h[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "h"))
		return h
	})
}

// TestOuterScriptDeterminism checks that the escrow address depends on every
// field of the terms and nothing else.
func TestOuterScriptDeterminism(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		terms := Terms{
			Mode:     ModeDirect,
			Timelock: rapid.Uint64().Draw(t, "timelock"),
			Sender: Identity{
				PuzzleHash: genHash().Draw(t, "sender"),
			},
			Recipient: Identity{
				PuzzleHash: genHash().Draw(t, "recipient"),
			},
		}

		h1, err := testRegistry.OuterPuzzleHash(terms)
		require.NoError(t, err)

		// A registry built separately agrees.
		h2, err := NewRegistry().OuterPuzzleHash(terms)
		require.NoError(t, err)
		require.Equal(t, h1, h2)

		changed := terms
		switch rapid.IntRange(0, 2).Draw(t, "field") {
		case 0:
			changed.Timelock++
		case 1:
			changed.Sender.PuzzleHash[0] ^= 1
		case 2:
			changed.Recipient.PuzzleHash[31] ^= 1
		}

		h3, err := testRegistry.OuterPuzzleHash(changed)
		require.NoError(t, err)
		require.NotEqual(t, h1, h3)
	})
}

func TestValidatorOuterScript(t *testing.T) {
	t.Parallel()

	terms := validatorTerms(t, 1209600)

	h1, err := testRegistry.OuterPuzzleHash(terms)
	require.NoError(t, err)

	// The amount is not part of the terms, and the recipient is bound
	// only at routing time.
	other := terms
	other.Recipient = Identity{PuzzleHash: program.Hash{7}}
	h2, err := testRegistry.OuterPuzzleHash(other)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	other.Timelock = 60
	h3, err := testRegistry.OuterPuzzleHash(other)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)

	noKey := terms
	noKey.Sender.PubKey = nil
	_, err = testRegistry.OuterScript(noKey)
	require.ErrorIs(t, err, ErrMissingPubKey)

	// A key that does not hash to the sender puzzle is refused.
	wrongKey := terms
	wrongKey.Sender.PubKey = keyFromSeed(t, 9).PubKey()
	_, err = testRegistry.OuterScript(wrongKey)
	require.Error(t, err)
}

func TestDispatcherTree(t *testing.T) {
	t.Parallel()

	terms := validatorTerms(t, 1209600)
	target := terms.Recipient.PuzzleHash

	tree, claw, claim, err := testRegistry.LeafTree(terms, target)
	require.NoError(t, err)
	require.Equal(
		t, []program.Hash{claw.TreeHash(), claim.TreeHash()},
		tree.Leaves(),
	)

	clawProof, err := testRegistry.MerkleProof(
		terms, target, claw.TreeHash(),
	)
	require.NoError(t, err)
	require.EqualValues(t, 0, clawProof.Index)
	require.True(t, merkle.Verify(tree.Root(), claw.TreeHash(), clawProof))
	require.False(t, merkle.Verify(
		tree.Root(), claim.TreeHash(), clawProof,
	))

	claimProof, err := testRegistry.MerkleProof(
		terms, target, claim.TreeHash(),
	)
	require.NoError(t, err)
	require.EqualValues(t, 1, claimProof.Index)

	dispatcher, err := testRegistry.DispatcherScript(terms, target)
	require.NoError(t, err)

	otherTarget, err := testRegistry.DispatcherScript(terms, program.Hash{1})
	require.NoError(t, err)
	require.NotEqual(t, dispatcher.TreeHash(), otherTarget.TreeHash())

	_, err = testRegistry.ClawbackScript(Terms{Mode: ModeDirect})
	require.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestRunClaimAndClawbackLeaves(t *testing.T) {
	t.Parallel()

	terms := validatorTerms(t, 1209600)
	target := terms.Recipient.PuzzleHash

	dispatcher, err := testRegistry.DispatcherScript(terms, target)
	require.NoError(t, err)
	routed := coin.Coin{
		ParentID:   program.Hash{9},
		PuzzleHash: dispatcher.TreeHash(),
		Amount:     50000,
	}

	// Claim: no signature, fixed outputs.
	feeAnnouncement := program.Sha256([]byte("fee"))
	claimSolution, err := testRegistry.SolutionForClaim(
		terms, KindDispatcher, target, routed.Amount, target,
		[]program.Hash{feeAnnouncement},
	)
	require.NoError(t, err)

	conds, err := testRegistry.Conditions(
		coin.NewSpend(routed, dispatcher, claimSolution),
	)
	require.NoError(t, err)
	require.Equal(t, []condition.Condition{
		condition.CreateCoin{PuzzleHash: target, Amount: 50000},
		condition.AssertSecondsRelative{Seconds: 1209600},
		condition.AssertMyAmount{Amount: 50000},
		condition.AssertCoinAnnouncement{ID: feeAnnouncement},
	}, conds)

	signer, err := testRegistry.SigningPuzzleHash(
		coin.NewSpend(routed, dispatcher, claimSolution),
	)
	require.NoError(t, err)
	require.True(t, signer.IsNone())

	// Clawback: signed by the sender, pays the outer puzzle.
	outerHash, err := testRegistry.OuterPuzzleHash(terms)
	require.NoError(t, err)

	clawSolution, err := testRegistry.SolutionForClawback(
		terms, KindDispatcher, target, routed.Amount, program.Hash{},
		nil,
	)
	require.NoError(t, err)

	clawSpend := coin.NewSpend(routed, dispatcher, clawSolution)
	conds, err = testRegistry.Conditions(clawSpend)
	require.NoError(t, err)

	created := condition.Created(conds)
	require.Len(t, created, 1)
	require.Equal(t, outerHash, created[0].PuzzleHash)

	pairs, err := testRegistry.RequiredSignatures(clawSpend, []byte("net"))
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	signer, err = testRegistry.SigningPuzzleHash(clawSpend)
	require.NoError(t, err)
	require.Equal(t, fn.Some(terms.Sender.PuzzleHash), signer)

	// Swapping in the claim proof for the clawback leaf is rejected.
	_, claw, claim, err := testRegistry.LeafTree(terms, target)
	require.NoError(t, err)
	claimProof, err := testRegistry.MerkleProof(
		terms, target, claim.TreeHash(),
	)
	require.NoError(t, err)
	leafSolution, err := clawSolution.At("rrf")
	require.NoError(t, err)
	forged := program.List(claw, claimProof.Program(), leafSolution)
	_, err = testRegistry.Conditions(
		coin.NewSpend(routed, dispatcher, forged),
	)
	require.ErrorIs(t, err, ErrSpendRejected)
}

func TestValidatorRestrictsDestinations(t *testing.T) {
	t.Parallel()

	terms := validatorTerms(t, 100)
	outer, err := testRegistry.OuterScript(terms)
	require.NoError(t, err)

	escrowed := coin.Coin{
		ParentID:   program.Hash{1},
		PuzzleHash: outer.TreeHash(),
		Amount:     1000,
	}

	solution, err := testRegistry.SolutionForRouting(terms, RoutingRequest{
		CoinAmount: 1000,
		Targets: []Payment{{
			PuzzleHash: terms.Recipient.PuzzleHash, Amount: 600,
		}},
		Change: 390,
		Fee:    10,
	})
	require.NoError(t, err)

	spend := coin.NewSpend(escrowed, outer, solution)
	additions, err := testRegistry.Additions(spend)
	require.NoError(t, err)
	require.Len(t, additions, 2)
	require.Equal(t, outer.TreeHash(), additions[1].PuzzleHash)

	conds, err := testRegistry.Conditions(spend)
	require.NoError(t, err)
	require.EqualValues(
		t, escrowed.Amount,
		condition.TotalCreated(conds)+condition.TotalReservedFee(conds),
	)

	// Paying anywhere else is rejected by the validator.
	inner := testRegistry.StandardPuzzle(terms.Sender.PubKey)
	require.Equal(t, terms.Sender.PuzzleHash, inner.TreeHash())
	bad := program.List(program.Nil, StandardSolution(
		[]condition.Condition{condition.CreateCoin{
			PuzzleHash: terms.Recipient.PuzzleHash, Amount: 1000,
		}},
	))
	_, err = testRegistry.Conditions(coin.NewSpend(escrowed, outer, bad))
	require.ErrorIs(t, err, ErrSpendRejected)

	// Routing must conserve the coin value.
	_, err = testRegistry.SolutionForRouting(terms, RoutingRequest{
		CoinAmount: 1000, Change: 10,
	})
	require.Error(t, err)
}

func TestOneOfNPaths(t *testing.T) {
	t.Parallel()

	sender := keyFromSeed(t, 3)
	recipient := keyFromSeed(t, 4)
	terms := Terms{
		Mode:      ModeDirect,
		Timelock:  3600,
		Sender:    testRegistry.KeyIdentity(sender.PubKey()),
		Recipient: testRegistry.KeyIdentity(recipient.PubKey()),
	}

	outer, err := testRegistry.OuterScript(terms)
	require.NoError(t, err)
	escrowed := coin.Coin{PuzzleHash: outer.TreeHash(), Amount: 5}

	clawSolution, err := testRegistry.SolutionForClawback(
		terms, KindDirect, program.Hash{}, 5, terms.Sender.PuzzleHash,
		nil,
	)
	require.NoError(t, err)
	conds, err := testRegistry.Conditions(
		coin.NewSpend(escrowed, outer, clawSolution),
	)
	require.NoError(t, err)
	for _, c := range conds {
		require.NotEqual(t, condition.OpAssertSecondsRelative, c.Opcode())
	}

	claimSolution, err := testRegistry.SolutionForClaim(
		terms, KindDirect, program.Hash{}, 5, terms.Recipient.PuzzleHash,
		nil,
	)
	require.NoError(t, err)
	claimSpend := coin.NewSpend(escrowed, outer, claimSolution)
	conds, err = testRegistry.Conditions(claimSpend)
	require.NoError(t, err)
	require.Contains(
		t, conds, condition.AssertSecondsRelative{Seconds: 3600},
	)

	signer, err := testRegistry.SigningPuzzleHash(claimSpend)
	require.NoError(t, err)
	require.Equal(t, fn.Some(terms.Recipient.PuzzleHash), signer)

	// A third party cannot spend.
	stranger := testRegistry.StandardPuzzle(keyFromSeed(t, 5).PubKey())
	forged := program.List(stranger, StandardSolution(nil))
	_, err = testRegistry.Conditions(coin.NewSpend(escrowed, outer, forged))
	require.ErrorIs(t, err, ErrSpendRejected)
}

func TestExtractTerms(t *testing.T) {
	t.Parallel()

	terms := validatorTerms(t, 1209600)
	outerHash, err := testRegistry.OuterPuzzleHash(terms)
	require.NoError(t, err)

	// A validator escrow funded from a wallet coin.
	walletPuzzle := testRegistry.StandardPuzzle(terms.Sender.PubKey)
	walletCoin := coin.Coin{
		ParentID:   program.Hash{3},
		PuzzleHash: walletPuzzle.TreeHash(),
		Amount:     100010,
	}
	funding := coin.NewSpend(walletCoin, walletPuzzle, SolutionForFunding(
		FundingRequest{
			Primaries: []Payment{{PuzzleHash: outerHash, Amount: 100000}},
			Fee:       10,
			Remark:    fn.Some(NewEscrowRemark(terms)),
		},
	))
	escrowed := coin.Coin{
		ParentID:   walletCoin.ID(),
		PuzzleHash: outerHash,
		Amount:     100000,
	}

	info, err := testRegistry.ExtractTerms(
		funding, escrowed, fn.Some(terms.Sender.PubKey),
	)
	require.NoError(t, err)
	require.Equal(t, &EscrowInfo{
		Kind:      KindValidator,
		Sender:    terms.Sender.PuzzleHash,
		Recipient: terms.Recipient.PuzzleHash,
		Timelock:  1209600,
	}, info)

	// Without the sender key the validator escrow can't be recognised.
	_, err = testRegistry.ExtractTerms(
		funding, escrowed, fn.None[*btcec.PublicKey](),
	)
	require.ErrorIs(t, err, ErrInvalidEscrowCoin)

	// A plain payment carries no remark.
	plain := coin.NewSpend(walletCoin, walletPuzzle, SolutionForFunding(
		FundingRequest{
			Primaries: []Payment{{PuzzleHash: outerHash, Amount: 100000}},
		},
	))
	_, err = testRegistry.ExtractTerms(
		plain, escrowed, fn.Some(terms.Sender.PubKey),
	)
	require.ErrorIs(t, err, ErrInvalidEscrowCoin)

	// Coins routed by the validator are recognised as dispatchers.
	outer, err := testRegistry.OuterScript(terms)
	require.NoError(t, err)
	routeSolution, err := testRegistry.SolutionForRouting(
		terms, RoutingRequest{
			CoinAmount: 100000,
			Targets: []Payment{{
				PuzzleHash: terms.Recipient.PuzzleHash,
				Amount:     50000,
			}},
			Change: 49990,
			Fee:    10,
		},
	)
	require.NoError(t, err)
	routeSpend := coin.NewSpend(escrowed, outer, routeSolution)
	additions, err := testRegistry.Additions(routeSpend)
	require.NoError(t, err)
	require.Len(t, additions, 2)

	info, err = testRegistry.ExtractTerms(
		routeSpend, additions[0], fn.None[*btcec.PublicKey](),
	)
	require.NoError(t, err)
	require.Equal(t, KindDispatcher, info.Kind)
	require.Equal(t, terms.Recipient.PuzzleHash, info.Recipient)

	// The recipient can rebuild the dispatcher without the sender key.
	require.NotNil(t, info.SenderPuzzle)
	dispatcher, err := testRegistry.DispatcherScript(
		info.Terms(), info.Recipient,
	)
	require.NoError(t, err)
	require.Equal(t, additions[0].PuzzleHash, dispatcher.TreeHash())

	info, err = testRegistry.ExtractTerms(
		routeSpend, additions[1], fn.None[*btcec.PublicKey](),
	)
	require.NoError(t, err)
	require.Equal(t, KindValidator, info.Kind)
	require.EqualValues(t, 1209600, info.Timelock)
}

func TestEscrowRemark(t *testing.T) {
	t.Parallel()

	remark := EscrowRemark{
		Sender:    program.Hash{1},
		Recipient: program.Hash{2},
		Timelock:  1209600,
	}
	c := remark.Condition()
	require.Len(t, c.Data, 67)

	parsed, err := ParseEscrowRemark(c.Data)
	require.NoError(t, err)
	require.Equal(t, remark, parsed)

	_, err = ParseEscrowRemark(c.Data[:40])
	require.ErrorIs(t, err, ErrInvalidEscrowCoin)
}

// TestExtractTermsRoutedElsewhere routes a validator coin to a target other
// than the escrow's recipient and checks that the dispatcher coin carries the
// target while the change keeps the escrow's recipient.
func TestExtractTermsRoutedElsewhere(t *testing.T) {
	t.Parallel()

	terms := validatorTerms(t, 3600)
	outer, err := testRegistry.OuterScript(terms)
	require.NoError(t, err)

	escrowed := coin.Coin{
		ParentID:   program.Hash{7},
		PuzzleHash: outer.TreeHash(),
		Amount:     1000,
	}
	target := program.Hash{0xaa, 0xbb}

	solution, err := testRegistry.SolutionForRouting(terms, RoutingRequest{
		CoinAmount: 1000,
		Targets:    []Payment{{PuzzleHash: target, Amount: 400}},
		Change:     590,
		Fee:        10,
	})
	require.NoError(t, err)

	spend := coin.NewSpend(escrowed, outer, solution)
	additions, err := testRegistry.Additions(spend)
	require.NoError(t, err)
	require.Len(t, additions, 2)

	routed, err := testRegistry.ExtractTerms(
		spend, additions[0], fn.None[*btcec.PublicKey](),
	)
	require.NoError(t, err)
	require.Equal(t, KindDispatcher, routed.Kind)
	require.Equal(t, target, routed.Recipient)
	require.Equal(t, terms.Sender.PuzzleHash, routed.Sender)

	change, err := testRegistry.ExtractTerms(
		spend, additions[1], fn.None[*btcec.PublicKey](),
	)
	require.NoError(t, err)
	require.Equal(t, KindValidator, change.Kind)
	require.Equal(t, terms.Recipient.PuzzleHash, change.Recipient)
	require.EqualValues(t, 3600, change.Timelock)
}
