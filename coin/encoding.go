package coin

import (
	"bytes"
	"fmt"
	"io"

	"github.com/lightninglabs/clawback/program"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	spendParentType   tlv.Type = 0
	spendPuzzleHash   tlv.Type = 2
	spendAmountType   tlv.Type = 4
	spendPuzzleType   tlv.Type = 6
	spendSolutionType tlv.Type = 8

	bundleSpendsType    tlv.Type = 0
	bundleSignatureType tlv.Type = 2
)

// Encode writes the spend as a TLV stream.
func (s *Spend) Encode(w io.Writer) error {
	parent := [32]byte(s.Coin.ParentID)
	puzzleHash := [32]byte(s.Coin.PuzzleHash)
	amount := s.Coin.Amount
	puzzle := s.PuzzleReveal.Bytes()
	solution := s.Solution.Bytes()

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(spendParentType, &parent),
		tlv.MakePrimitiveRecord(spendPuzzleHash, &puzzleHash),
		tlv.MakePrimitiveRecord(spendAmountType, &amount),
		tlv.MakePrimitiveRecord(spendPuzzleType, &puzzle),
		tlv.MakePrimitiveRecord(spendSolutionType, &solution),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode reads a spend from a TLV stream.
func (s *Spend) Decode(r io.Reader) error {
	var (
		parent, puzzleHash [32]byte
		amount             uint64
		puzzle, solution   []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(spendParentType, &parent),
		tlv.MakePrimitiveRecord(spendPuzzleHash, &puzzleHash),
		tlv.MakePrimitiveRecord(spendAmountType, &amount),
		tlv.MakePrimitiveRecord(spendPuzzleType, &puzzle),
		tlv.MakePrimitiveRecord(spendSolutionType, &solution),
	)
	if err != nil {
		return err
	}
	if err := stream.Decode(r); err != nil {
		return err
	}

	puzzleProg, err := program.FromBytes(puzzle)
	if err != nil {
		return fmt.Errorf("unable to decode puzzle reveal: %w", err)
	}
	solutionProg, err := program.FromBytes(solution)
	if err != nil {
		return fmt.Errorf("unable to decode solution: %w", err)
	}

	s.Coin = Coin{
		ParentID:   parent,
		PuzzleHash: puzzleHash,
		Amount:     amount,
	}
	s.PuzzleReveal = puzzleProg
	s.Solution = solutionProg

	return nil
}

func spendsEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]*Spend); ok {
		err := tlv.WriteVarInt(w, uint64(len(*t)), buf)
		if err != nil {
			return err
		}

		for _, s := range *t {
			var b bytes.Buffer
			if err := s.Encode(&b); err != nil {
				return err
			}

			raw := b.Bytes()
			if err := tlv.EVarBytes(w, &raw, buf); err != nil {
				return err
			}
		}

		return nil
	}

	return tlv.NewTypeForEncodingErr(val, "*[]*Spend")
}

func spendsDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*[]*Spend); ok {
		lr := io.LimitReader(r, int64(l))

		count, err := tlv.ReadVarInt(lr, buf)
		if err != nil {
			return err
		}

		// Each spend takes at least a length prefix, so a count above
		// the record length is bogus.
		if count > l {
			return fmt.Errorf("invalid spend count %d", count)
		}

		spends := make([]*Spend, 0, count)
		for i := uint64(0); i < count; i++ {
			size, err := tlv.ReadVarInt(lr, buf)
			if err != nil {
				return err
			}
			if size > l {
				return fmt.Errorf("invalid spend size %d", size)
			}

			raw := make([]byte, size)
			if _, err := io.ReadFull(lr, raw); err != nil {
				return err
			}

			var s Spend
			if err := s.Decode(bytes.NewReader(raw)); err != nil {
				return fmt.Errorf("spend %d: %w", i, err)
			}
			spends = append(spends, &s)
		}
		*t = spends

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "*[]*Spend", l, l)
}

func spendsSize(spends *[]*Spend) func() uint64 {
	return func() uint64 {
		var (
			b   bytes.Buffer
			buf [8]byte
		)
		if err := spendsEncoder(&b, spends, &buf); err != nil {
			panic(err)
		}

		return uint64(b.Len())
	}
}

func (b *SpendBundle) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakeDynamicRecord(
			bundleSpendsType, &b.Spends, spendsSize(&b.Spends),
			spendsEncoder, spendsDecoder,
		),
		tlv.MakePrimitiveRecord(
			bundleSignatureType, &b.AggregatedSignature,
		),
	}
}

// Encode writes the bundle as a TLV stream.
func (b *SpendBundle) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(b.records()...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode reads a bundle from a TLV stream.
func (b *SpendBundle) Decode(r io.Reader) error {
	stream, err := tlv.NewStream(b.records()...)
	if err != nil {
		return err
	}

	return stream.Decode(r)
}

// Bytes returns the TLV encoding of the bundle.
func (b *SpendBundle) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeSpendBundle parses a TLV encoded bundle.
func DecodeSpendBundle(raw []byte) (*SpendBundle, error) {
	var b SpendBundle
	if err := b.Decode(bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	return &b, nil
}
