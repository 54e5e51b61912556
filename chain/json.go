package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/program"
)

// hexBytes is a byte slice carried as 0x prefixed hex.
type hexBytes []byte

// MarshalJSON implements json.Marshaler.
func (b hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(b))
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	*b = raw

	return nil
}

// hexHash is a 32 byte hash carried as 0x prefixed hex.
type hexHash program.Hash

// MarshalJSON implements json.Marshaler.
func (h hexHash) MarshalJSON() ([]byte, error) {
	return hexBytes(h[:]).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *hexHash) UnmarshalJSON(data []byte) error {
	var b hexBytes
	if err := b.UnmarshalJSON(data); err != nil {
		return err
	}
	if len(b) != program.HashSize {
		return fmt.Errorf("invalid hash length %d", len(b))
	}
	copy(h[:], b)

	return nil
}

type jsonCoin struct {
	ParentCoinInfo hexHash `json:"parent_coin_info"`
	PuzzleHash     hexHash `json:"puzzle_hash"`
	Amount         uint64  `json:"amount"`
}

func newJSONCoin(c coin.Coin) jsonCoin {
	return jsonCoin{
		ParentCoinInfo: hexHash(c.ParentID),
		PuzzleHash:     hexHash(c.PuzzleHash),
		Amount:         c.Amount,
	}
}

func (j jsonCoin) coin() coin.Coin {
	return coin.Coin{
		ParentID:   coin.ID(j.ParentCoinInfo),
		PuzzleHash: program.Hash(j.PuzzleHash),
		Amount:     j.Amount,
	}
}

type jsonCoinRecord struct {
	Coin                jsonCoin `json:"coin"`
	ConfirmedBlockIndex uint32   `json:"confirmed_block_index"`
	SpentBlockIndex     uint32   `json:"spent_block_index"`
	Spent               bool     `json:"spent"`
	Coinbase            bool     `json:"coinbase"`
	Timestamp           uint64   `json:"timestamp"`
}

func newJSONCoinRecord(r *coin.Record) jsonCoinRecord {
	return jsonCoinRecord{
		Coin:                newJSONCoin(r.Coin),
		ConfirmedBlockIndex: r.ConfirmedHeight,
		SpentBlockIndex:     r.SpentHeight,
		Spent:               r.Spent,
		Coinbase:            r.Coinbase,
		Timestamp:           r.Timestamp,
	}
}

func (j jsonCoinRecord) record() *coin.Record {
	return &coin.Record{
		Coin:            j.Coin.coin(),
		ConfirmedHeight: j.ConfirmedBlockIndex,
		SpentHeight:     j.SpentBlockIndex,
		Spent:           j.Spent || j.SpentBlockIndex != 0,
		Coinbase:        j.Coinbase,
		Timestamp:       j.Timestamp,
	}
}

type jsonCoinSpend struct {
	Coin         jsonCoin `json:"coin"`
	PuzzleReveal hexBytes `json:"puzzle_reveal"`
	Solution     hexBytes `json:"solution"`
}

func newJSONCoinSpend(s *coin.Spend) jsonCoinSpend {
	return jsonCoinSpend{
		Coin:         newJSONCoin(s.Coin),
		PuzzleReveal: s.PuzzleReveal.Bytes(),
		Solution:     s.Solution.Bytes(),
	}
}

func (j jsonCoinSpend) spend() (*coin.Spend, error) {
	reveal, err := program.FromBytes(j.PuzzleReveal)
	if err != nil {
		return nil, fmt.Errorf("invalid puzzle reveal: %w", err)
	}
	solution, err := program.FromBytes(j.Solution)
	if err != nil {
		return nil, fmt.Errorf("invalid solution: %w", err)
	}

	return coin.NewSpend(j.Coin.coin(), reveal, solution), nil
}

type jsonSpendBundle struct {
	CoinSpends          []jsonCoinSpend `json:"coin_spends"`
	AggregatedSignature hexBytes        `json:"aggregated_signature"`
}

func newJSONSpendBundle(b *coin.SpendBundle) jsonSpendBundle {
	spends := make([]jsonCoinSpend, 0, len(b.Spends))
	for _, s := range b.Spends {
		spends = append(spends, newJSONCoinSpend(s))
	}

	return jsonSpendBundle{
		CoinSpends:          spends,
		AggregatedSignature: b.AggregatedSignature,
	}
}

func (j jsonSpendBundle) bundle() (*coin.SpendBundle, error) {
	b := &coin.SpendBundle{
		AggregatedSignature: j.AggregatedSignature,
	}
	for _, js := range j.CoinSpends {
		s, err := js.spend()
		if err != nil {
			return nil, err
		}
		b.Spends = append(b.Spends, s)
	}

	return b, nil
}

type jsonBlockRecord struct {
	Height     uint32  `json:"height"`
	HeaderHash hexHash `json:"header_hash"`

	// Timestamp is null for blocks that carry no transactions.
	Timestamp *uint64 `json:"timestamp"`
}

func (j jsonBlockRecord) blockRecord() *coin.BlockRecord {
	b := &coin.BlockRecord{
		Height:     j.Height,
		HeaderHash: program.Hash(j.HeaderHash),
	}
	if j.Timestamp != nil {
		b.Timestamp = *j.Timestamp
	}

	return b
}
