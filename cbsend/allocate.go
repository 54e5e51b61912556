package cbsend

import (
	"fmt"
	"sort"

	"github.com/lightninglabs/clawback/coin"
)

// Allocation is the split of one escrow coin in a routing spend.
type Allocation struct {
	// Coin is the consumed escrow coin.
	Coin coin.Coin

	// Routed goes to the dispatcher of the target.
	Routed uint64

	// Change goes back to the escrow's outer puzzle.
	Change uint64

	// Fee is absorbed by this coin.
	Fee uint64
}

// AllocateRouting splits amount plus fee over coins, largest first. Each coin
// absorbs as much of the outstanding fee as it can before it contributes to
// the amount, and whatever is left of the last coin becomes change. Every
// allocation conserves its coin: Routed + Change + Fee == Coin.Amount.
func AllocateRouting(coins []coin.Coin, amount,
	fee uint64) ([]Allocation, error) {

	if amount == 0 {
		return nil, fmt.Errorf("routing amount must be positive")
	}

	sorted := make([]coin.Coin, len(coins))
	copy(sorted, coins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount > sorted[j].Amount
	})

	var allocs []Allocation
	feeLeft, amountLeft := fee, amount
	for _, c := range sorted {
		if feeLeft == 0 && amountLeft == 0 {
			break
		}

		alloc := Allocation{Coin: c}
		value := c.Amount

		alloc.Fee = min(value, feeLeft)
		feeLeft -= alloc.Fee
		value -= alloc.Fee

		alloc.Routed = min(value, amountLeft)
		amountLeft -= alloc.Routed
		value -= alloc.Routed

		alloc.Change = value
		allocs = append(allocs, alloc)
	}

	if feeLeft > 0 || amountLeft > 0 {
		return nil, fmt.Errorf("%w: escrow holds %d, need %d",
			ErrInsufficientFunds, coin.SumAmounts(coins), amount+fee)
	}

	return allocs, nil
}
