package main

import (
	"fmt"

	"github.com/lightninglabs/clawback/address"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/urfave/cli"
)

const nextName = "next"

var getAddressCommand = cli.Command{
	Name:      "get-address",
	ShortName: "a",
	Usage:     "Print an escrow address or a new wallet address",
	Description: `
	Print the address an escrow with the given terms is funded at. Both
	parties derive the same address from the same terms. With --next a
	fresh receive address of the wallet is printed instead.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  nextName,
			Usage: "print a new wallet address",
		},
		cli.StringFlag{
			Name:  modeName,
			Value: puzzle.ModeDirect.String(),
			Usage: "the escrow mode: direct or validator",
		},
		cli.StringFlag{
			Name:  recipientName,
			Usage: "the address or puzzle hash of the recipient",
		},
		cli.StringFlag{
			Name:  senderName,
			Usage: "the wallet address of the sender",
		},
		cli.Uint64Flag{
			Name:  timelockName,
			Usage: "the timelock in seconds",
		},
	},
	Action: getAddress,
}

type addressResp struct {
	Address    string `json:"address"`
	PuzzleHash string `json:"puzzle_hash"`
}

func newAddressResp(a *address.Address) addressResp {
	return addressResp{
		Address:    a.String(),
		PuzzleHash: a.PuzzleHash.String(),
	}
}

func getAddress(ctx *cli.Context) error {
	s, cleanUp, err := getSession(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	ctxc, cancel := getContext()
	defer cancel()

	if ctx.Bool(nextName) {
		addr, err := s.manager.NextAddress(ctxc)
		if err != nil {
			return fmt.Errorf("unable to get address: %w", err)
		}

		printJSON(newAddressResp(addr))
		return nil
	}

	req, err := escrowRequest(ctx, s)
	if err != nil {
		return err
	}

	addr, err := s.manager.EscrowAddress(ctxc, req)
	if err != nil {
		return fmt.Errorf("unable to derive escrow address: %w", err)
	}

	printJSON(newAddressResp(addr))
	return nil
}
