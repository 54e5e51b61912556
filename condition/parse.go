package condition

import (
	"fmt"

	"github.com/lightninglabs/clawback/program"
)

// Parse decodes a single condition from its list encoding.
func Parse(p *program.Program) (Condition, error) {
	items, err := p.AsList()
	if err != nil || len(items) == 0 {
		return nil, fmt.Errorf("%w: not a list", ErrMalformedCondition)
	}

	rawOp, err := items[0].AsUint()
	if err != nil || rawOp > 0xff {
		return nil, fmt.Errorf("%w: bad opcode", ErrMalformedCondition)
	}
	op := Opcode(rawOp)
	args := items[1:]

	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%w: %v needs %d args, got %d",
				ErrMalformedCondition, op, n, len(args))
		}
		return nil
	}

	switch op {
	case OpCreateCoin:
		if err := need(2); err != nil {
			return nil, err
		}
		ph, err := args[0].AsHash()
		if err != nil {
			return nil, malformed(op, err)
		}
		amt, err := args[1].AsUint()
		if err != nil {
			return nil, malformed(op, err)
		}

		c := CreateCoin{PuzzleHash: ph, Amount: amt}
		if len(args) > 2 && args[2].IsPair() {
			memos, err := args[2].AsList()
			if err != nil {
				return nil, malformed(op, err)
			}
			for _, m := range memos {
				b, err := m.AtomBytes()
				if err != nil {
					return nil, malformed(op, err)
				}
				c.Memos = append(c.Memos, b)
			}
		}

		return c, nil

	case OpReserveFee:
		amt, err := uintArg(op, args)
		if err != nil {
			return nil, err
		}
		return ReserveFee{Amount: amt}, nil

	case OpAssertMyAmount:
		amt, err := uintArg(op, args)
		if err != nil {
			return nil, err
		}
		return AssertMyAmount{Amount: amt}, nil

	case OpAssertSecondsRelative:
		secs, err := uintArg(op, args)
		if err != nil {
			return nil, err
		}
		return AssertSecondsRelative{Seconds: secs}, nil

	case OpCreateCoinAnnouncement:
		msg, err := atomArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		return CreateCoinAnnouncement{Message: msg}, nil

	case OpAssertCoinAnnouncement:
		if err := need(1); err != nil {
			return nil, err
		}
		id, err := args[0].AsHash()
		if err != nil {
			return nil, malformed(op, err)
		}
		return AssertCoinAnnouncement{ID: id}, nil

	case OpRemark:
		// A bare REMARK is valid and carries no data.
		if len(args) == 0 {
			return Remark{}, nil
		}
		data, err := atomArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		return Remark{Data: data}, nil

	case OpAggSigMe:
		if err := need(2); err != nil {
			return nil, err
		}
		pk, err := atomArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		msg, err := atomArg(op, args, 1)
		if err != nil {
			return nil, err
		}
		return AggSigMe{PubKey: pk, Message: msg}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCondition, rawOp)
	}
}

func malformed(op Opcode, err error) error {
	return fmt.Errorf("%w: %v: %v", ErrMalformedCondition, op, err)
}

func uintArg(op Opcode, args []*program.Program) (uint64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%w: %v missing argument",
			ErrMalformedCondition, op)
	}

	v, err := args[0].AsUint()
	if err != nil {
		return 0, malformed(op, err)
	}

	return v, nil
}

func atomArg(op Opcode, args []*program.Program, i int) ([]byte, error) {
	if len(args) <= i {
		return nil, fmt.Errorf("%w: %v missing argument",
			ErrMalformedCondition, op)
	}

	b, err := args[i].AtomBytes()
	if err != nil {
		return nil, malformed(op, err)
	}

	return b, nil
}

// ParseList decodes a list of conditions.
func ParseList(p *program.Program) ([]Condition, error) {
	items, err := p.AsList()
	if err != nil {
		return nil, fmt.Errorf("%w: condition list: %v",
			ErrMalformedCondition, err)
	}

	conds := make([]Condition, 0, len(items))
	for i, item := range items {
		c, err := Parse(item)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		conds = append(conds, c)
	}

	return conds, nil
}

// EncodeList encodes conditions as a list program.
func EncodeList(conds []Condition) *program.Program {
	items := make([]*program.Program, len(conds))
	for i, c := range conds {
		items[i] = c.Program()
	}

	return program.List(items...)
}

// Created returns every CREATE_COIN condition in order.
func Created(conds []Condition) []CreateCoin {
	var out []CreateCoin
	for _, c := range conds {
		if cc, ok := c.(CreateCoin); ok {
			out = append(out, cc)
		}
	}

	return out
}

// TotalCreated sums the amounts of all CREATE_COIN conditions.
func TotalCreated(conds []Condition) uint64 {
	var total uint64
	for _, c := range Created(conds) {
		total += c.Amount
	}

	return total
}

// TotalReservedFee sums the RESERVE_FEE conditions.
func TotalReservedFee(conds []Condition) uint64 {
	var total uint64
	for _, c := range conds {
		if f, ok := c.(ReserveFee); ok {
			total += f.Amount
		}
	}

	return total
}

// FindRemark returns the data of the first REMARK condition.
func FindRemark(conds []Condition) ([]byte, bool) {
	for _, c := range conds {
		if r, ok := c.(Remark); ok {
			return r.Data, true
		}
	}

	return nil, false
}
