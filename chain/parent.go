package chain

import (
	"context"
	"fmt"

	"github.com/lightninglabs/clawback/coin"
)

// ParentSpend returns the record of a coin together with the spend that
// created it.
func ParentSpend(ctx context.Context, node Node,
	id coin.ID) (*coin.Record, *coin.Spend, error) {

	record, err := node.CoinRecordByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to fetch coin %v: %w", id,
			err)
	}

	parentID := record.Coin.ParentID
	parent, err := node.CoinRecordByID(ctx, parentID)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to fetch parent %v: %w",
			parentID, err)
	}
	if !parent.Spent {
		return nil, nil, fmt.Errorf("%w: parent %v is unspent",
			ErrCoinNotFound, parentID)
	}

	spend, err := node.PuzzleAndSolution(ctx, parentID, parent.SpentHeight)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to fetch parent spend: %w",
			err)
	}

	return record, spend, nil
}
