package condition

import (
	"testing"

	"github.com/lightninglabs/clawback/program"
	"github.com/stretchr/testify/require"
)

func TestParseEncodedConditions(t *testing.T) {
	t.Parallel()

	ph := program.Sha256([]byte("dest"))
	conds := []Condition{
		CreateCoin{PuzzleHash: ph, Amount: 50000},
		CreateCoin{
			PuzzleHash: ph, Amount: 1,
			Memos: [][]byte{ph[:]},
		},
		ReserveFee{Amount: 10},
		Remark{Data: []byte("hello")},
		CreateCoinAnnouncement{Message: []byte{1, 2, 3}},
		AssertCoinAnnouncement{ID: program.Sha256([]byte("id"))},
		AggSigMe{PubKey: make([]byte, 33), Message: ph[:]},
		AssertMyAmount{Amount: 100000},
		AssertSecondsRelative{Seconds: 1209600},
	}

	parsed, err := ParseList(EncodeList(conds))
	require.NoError(t, err)
	require.Equal(t, conds, parsed)

	require.EqualValues(t, 50001, TotalCreated(parsed))
	require.EqualValues(t, 10, TotalReservedFee(parsed))

	data, ok := FindRemark(parsed)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)
}

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		prog *program.Program
		err  error
	}{{
		name: "unknown opcode",
		prog: program.List(program.Uint(99), program.Uint(1)),
		err:  ErrUnknownCondition,
	}, {
		name: "short puzzle hash",
		prog: program.List(
			program.Uint(51), program.Atom([]byte{1}),
			program.Uint(1),
		),
		err: ErrMalformedCondition,
	}, {
		name: "missing amount",
		prog: program.List(program.Uint(52)),
		err:  ErrMalformedCondition,
	}, {
		name: "not a list",
		prog: program.Uint(51),
		err:  ErrMalformedCondition,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.prog)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestAnnouncementID(t *testing.T) {
	t.Parallel()

	coinID := program.Sha256([]byte("coin"))
	msg := []byte("message")

	id := AnnouncementID(coinID, msg)
	require.Equal(t, program.Sha256(coinID[:], msg), id)
	require.NotEqual(t, id, AnnouncementID(program.Hash{}, msg))
}
