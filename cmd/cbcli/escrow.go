package main

import (
	"fmt"
	"os"
	"time"

	"github.com/lightninglabs/clawback"
	"github.com/lightninglabs/clawback/address"
	"github.com/lightninglabs/clawback/cbsend"
	"github.com/lightninglabs/clawback/coin"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/urfave/cli"
)

const (
	amountName    = "amount"
	feeName       = "fee"
	timelockName  = "timelock"
	recipientName = "recipient"
	senderName    = "sender"
	modeName      = "mode"
	coinIDName    = "coin_id"
	targetName    = "target"
	outName       = "out"
	inName        = "in"
	forceName     = "force"
	spentName     = "include_spent"
)

var (
	feeFlag = cli.Uint64Flag{
		Name:  feeName,
		Usage: "the fee in mojos, defaults to the configured fee",
	}

	outFlag = cli.StringFlag{
		Name: outName,
		Usage: "write the signed bundle to this file instead of " +
			"pushing it",
		TakesFile: true,
	}

	coinIDFlag = cli.StringFlag{
		Name:  coinIDName,
		Usage: "the id of the escrowed coin",
	}
)

// publish pushes the bundle of a result or writes it to the --out file.
func publish(ctx *cli.Context, s *session, result *cbsend.Result) error {
	ctxc, cancel := getContext()
	defer cancel()

	id, err := result.Bundle.ID()
	if err != nil {
		return err
	}

	if out := ctx.String(outName); out != "" {
		if err := writeBundle(out, result); err != nil {
			return err
		}
		if err := s.manager.Stage(ctxc, result); err != nil {
			return err
		}

		printJSON(bundleResp(id, result, out))
		return nil
	}

	if err := s.manager.Publish(ctxc, result); err != nil {
		return err
	}

	printJSON(bundleResp(id, result, ""))
	return nil
}

// writeBundle exports the bundle of a result to path. The file is closed
// before returning so a failed flush is reported.
func writeBundle(path string, result *cbsend.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create bundle file: %w", err)
	}

	if err := clawback.Export(f, result); err != nil {
		_ = f.Close()
		return fmt.Errorf("unable to write bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("unable to close bundle file: %w", err)
	}

	return nil
}

type coinResp struct {
	CoinID     string `json:"coin_id"`
	PuzzleHash string `json:"puzzle_hash"`
	Amount     uint64 `json:"amount"`
}

func newCoinResp(c coin.Coin) coinResp {
	return coinResp{
		CoinID:     c.ID().String(),
		PuzzleHash: c.PuzzleHash.String(),
		Amount:     c.Amount,
	}
}

type bundleRespJSON struct {
	BundleID string     `json:"bundle_id"`
	File     string     `json:"file,omitempty"`
	Escrowed []coinResp `json:"escrowed,omitempty"`
	Released []coinResp `json:"released,omitempty"`
}

func bundleResp(id program.Hash, result *cbsend.Result,
	file string) bundleRespJSON {

	escrowed := fn.Map(
		result.Escrowed, func(e cbsend.EscrowedCoin) coinResp {
			return newCoinResp(e.Coin)
		},
	)

	return bundleRespJSON{
		BundleID: id.String(),
		File:     file,
		Escrowed: escrowed,
		Released: fn.Map(result.Released, newCoinResp),
	}
}

var createCommand = cli.Command{
	Name:      "create",
	ShortName: "c",
	Usage:     "Lock funds in a new escrow",
	Description: `
	Fund an escrow the sender can claw back at any time and the recipient
	can claim once the timelock has passed. A validator escrow names no
	recipient up front, funds are routed to recipients later.`,
	Flags: []cli.Flag{
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
			Name: senderName,
			Usage: "the wallet address funds are clawed back to, " +
				"a fresh address if unset",
		},
		cli.Uint64Flag{
			Name:  amountName,
			Usage: "the amount in mojos to lock",
		},
		cli.Uint64Flag{
			Name: timelockName,
			Usage: "the seconds the recipient has to wait, " +
				"defaults to the configured timelock",
		},
		feeFlag,
		outFlag,
	},
	Action: createEscrow,
}

// escrowRequest parses the flags shared by create and get-address.
func escrowRequest(ctx *cli.Context, s *session) (clawback.CreateRequest,
	error) {

	var req clawback.CreateRequest

	mode, err := puzzle.ParseMode(ctx.String(modeName))
	if err != nil {
		return req, err
	}
	req.Mode = mode

	net := s.cfg.ActiveNetParams
	if r := ctx.String(recipientName); r != "" {
		req.Recipient, err = parsePuzzleHash(r, net)
		if err != nil {
			return req, err
		}
	} else if mode == puzzle.ModeDirect {
		return req, fmt.Errorf("a direct escrow needs a --%s",
			recipientName)
	}

	if sender := ctx.String(senderName); sender != "" {
		ph, err := parsePuzzleHash(sender, net)
		if err != nil {
			return req, err
		}
		req.Sender = fn.Some(ph)
	}

	req.Timelock = s.cfg.Timelock
	if ctx.IsSet(timelockName) {
		req.Timelock = ctx.Uint64(timelockName)
	}

	return req, nil
}

func createEscrow(ctx *cli.Context) error {
	if !ctx.IsSet(amountName) {
		return cli.ShowCommandHelp(ctx, "create")
	}

	s, cleanUp, err := getSession(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	req, err := escrowRequest(ctx, s)
	if err != nil {
		return err
	}
	req.Amount = ctx.Uint64(amountName)
	req.Fee = s.feeFlag(ctx)

	ctxc, cancel := getContext()
	defer cancel()

	result, err := s.manager.Create(ctxc, req)
	if err != nil {
		return fmt.Errorf("unable to create escrow: %w", err)
	}

	return publish(ctx, s, result)
}

var showCommand = cli.Command{
	Name:      "show",
	ShortName: "s",
	Usage:     "List escrowed coins",
	Description: `
	Reconcile the unspent escrowed coins with the chain and list them,
	oldest first, with the time left until they can be claimed.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name: recipientName,
			Usage: "only list coins claimable by this address or " +
				"puzzle hash",
		},
		cli.BoolFlag{
			Name:  spentName,
			Usage: "also list spent coins, needs --recipient",
		},
	},
	Action: showEscrows,
}

type escrowResp struct {
	coinResp

	Address         string `json:"address"`
	Kind            string `json:"kind"`
	Sender          string `json:"sender"`
	Recipient       string `json:"recipient"`
	Timelock        uint64 `json:"timelock"`
	ConfirmedHeight uint32 `json:"confirmed_height"`
	SpentHeight     uint32 `json:"spent_height"`
	TimeRemaining   string `json:"time_remaining"`
	Claimable       bool   `json:"claimable"`
}

func showEscrows(ctx *cli.Context) error {
	s, cleanUp, err := getSession(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	filter := clawback.ShowFilter{
		IncludeSpent: ctx.Bool(spentName),
	}
	if r := ctx.String(recipientName); r != "" {
		ph, err := parsePuzzleHash(r, s.cfg.ActiveNetParams)
		if err != nil {
			return err
		}
		filter.Recipient = fn.Some(ph)
	}

	ctxc, cancel := getContext()
	defer cancel()

	statuses, err := s.manager.Show(ctxc, filter)
	if err != nil {
		return fmt.Errorf("unable to list escrows: %w", err)
	}

	net := s.cfg.ActiveNetParams
	resp := make([]escrowResp, 0, len(statuses))
	for _, st := range statuses {
		rec := st.Record
		resp = append(resp, escrowResp{
			coinResp:        newCoinResp(rec.Coin),
			Address:         st.Address.String(),
			Kind:            rec.Kind.String(),
			Sender:          address.New(rec.Sender, net).String(),
			Recipient:       address.New(rec.Recipient, net).String(),
			Timelock:        rec.Timelock,
			ConfirmedHeight: rec.ConfirmedHeight,
			SpentHeight:     rec.SpentHeight,
			TimeRemaining:   st.TimeRemaining.Round(time.Second).String(),
			Claimable: rec.ConfirmedHeight != 0 && !rec.Spent &&
				st.TimeRemaining == 0,
		})
	}

	printJSON(resp)
	return nil
}

var clawCommand = cli.Command{
	Name:      "claw",
	ShortName: "cb",
	Usage:     "Return an escrowed coin to its sender",
	Flags: []cli.Flag{
		coinIDFlag,
		cli.StringFlag{
			Name: targetName,
			Usage: "where a direct escrow is returned to, the " +
				"sender by default",
		},
		feeFlag,
		outFlag,
	},
	Action: clawEscrow,
}

func clawEscrow(ctx *cli.Context) error {
	if !ctx.IsSet(coinIDName) {
		return cli.ShowCommandHelp(ctx, "claw")
	}

	s, cleanUp, err := getSession(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	id, err := program.NewHashFromStr(ctx.String(coinIDName))
	if err != nil {
		return fmt.Errorf("invalid coin id: %w", err)
	}
	req := cbsend.ClawbackRequest{
		CoinID: id,
		Fee:    s.feeFlag(ctx),
	}
	if target := ctx.String(targetName); target != "" {
		req.ReturnTo, err = parsePuzzleHash(
			target, s.cfg.ActiveNetParams,
		)
		if err != nil {
			return err
		}
	}

	ctxc, cancel := getContext()
	defer cancel()

	result, err := s.manager.Claw(ctxc, req)
	if err != nil {
		return fmt.Errorf("unable to claw back coin: %w", err)
	}

	return publish(ctx, s, result)
}

var claimCommand = cli.Command{
	Name:      "claim",
	ShortName: "cl",
	Usage:     "Release an escrowed coin to its recipient",
	Description: `
	Claim an escrowed coin once its timelock has passed. A claim refused
	because the timelock has not passed yet can be written to a file with
	--out and pushed later with the push command.`,
	Flags: []cli.Flag{
		coinIDFlag,
		cli.StringFlag{
			Name: targetName,
			Usage: "where a direct escrow is paid to, the " +
				"recipient by default",
		},
		feeFlag,
		outFlag,
	},
	Action: claimEscrow,
}

func claimEscrow(ctx *cli.Context) error {
	if !ctx.IsSet(coinIDName) {
		return cli.ShowCommandHelp(ctx, "claim")
	}

	s, cleanUp, err := getSession(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	id, err := program.NewHashFromStr(ctx.String(coinIDName))
	if err != nil {
		return fmt.Errorf("invalid coin id: %w", err)
	}
	req := cbsend.ClaimRequest{
		CoinID: id,
		Fee:    s.feeFlag(ctx),
	}
	if target := ctx.String(targetName); target != "" {
		req.ClaimTo, err = parsePuzzleHash(
			target, s.cfg.ActiveNetParams,
		)
		if err != nil {
			return err
		}
	}

	ctxc, cancel := getContext()
	defer cancel()

	result, err := s.manager.Claim(ctxc, req)
	if err != nil {
		return fmt.Errorf("unable to claim coin: %w", err)
	}

	return publish(ctx, s, result)
}

var routeCommand = cli.Command{
	Name:      "route",
	ShortName: "r",
	Usage:     "Route part of a validator escrow to a recipient",
	Description: `
	Split the coins of a validator escrow, largest first, sending amount
	to a dispatcher coin only the given recipient can claim. The fee is
	taken from the first coins before the amount.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  coinIDName,
			Usage: "the id of any coin of the validator escrow",
		},
		cli.StringFlag{
			Name:  recipientName,
			Usage: "the address or puzzle hash to route to",
		},
		cli.Uint64Flag{
			Name:  amountName,
			Usage: "the amount in mojos to route",
		},
		feeFlag,
		outFlag,
	},
	Action: routeEscrow,
}

func routeEscrow(ctx *cli.Context) error {
	if !ctx.IsSet(coinIDName) || !ctx.IsSet(recipientName) {
		return cli.ShowCommandHelp(ctx, "route")
	}

	s, cleanUp, err := getSession(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	id, err := program.NewHashFromStr(ctx.String(coinIDName))
	if err != nil {
		return fmt.Errorf("invalid coin id: %w", err)
	}
	target, err := parsePuzzleHash(
		ctx.String(recipientName), s.cfg.ActiveNetParams,
	)
	if err != nil {
		return err
	}

	ctxc, cancel := getContext()
	defer cancel()

	result, err := s.manager.Route(ctxc, clawback.RouteRequest{
		CoinID: id,
		Target: target,
		Amount: ctx.Uint64(amountName),
		Fee:    s.feeFlag(ctx),
	})
	if err != nil {
		return fmt.Errorf("unable to route escrow: %w", err)
	}

	return publish(ctx, s, result)
}

var sendCommand = cli.Command{
	Name:  "send",
	Usage: "Pay an address from the wallet without escrow",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  recipientName,
			Usage: "the address or puzzle hash to pay",
		},
		cli.Uint64Flag{
			Name:  amountName,
			Usage: "the amount in mojos to pay",
		},
		feeFlag,
		outFlag,
	},
	Action: sendPayment,
}

func sendPayment(ctx *cli.Context) error {
	if !ctx.IsSet(recipientName) || !ctx.IsSet(amountName) {
		return cli.ShowCommandHelp(ctx, "send")
	}

	s, cleanUp, err := getSession(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	dest, err := parsePuzzleHash(
		ctx.String(recipientName), s.cfg.ActiveNetParams,
	)
	if err != nil {
		return err
	}

	ctxc, cancel := getContext()
	defer cancel()

	result, err := s.manager.Send(
		ctxc, dest, ctx.Uint64(amountName), s.feeFlag(ctx),
	)
	if err != nil {
		return fmt.Errorf("unable to send: %w", err)
	}

	return publish(ctx, s, result)
}

var pushCommand = cli.Command{
	Name:  "push",
	Usage: "Push a bundle written with --out",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:      inName,
			Usage:     "the bundle file",
			TakesFile: true,
		},
	},
	Action: pushBundle,
}

func pushBundle(ctx *cli.Context) error {
	if !ctx.IsSet(inName) {
		return cli.ShowCommandHelp(ctx, "push")
	}

	s, cleanUp, err := getSession(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	f, err := os.Open(ctx.String(inName))
	if err != nil {
		return err
	}
	defer f.Close()

	bundle, err := clawback.Import(f)
	if err != nil {
		return err
	}

	ctxc, cancel := getContext()
	defer cancel()

	if err := s.manager.PushBundle(ctxc, bundle); err != nil {
		return err
	}

	id, err := bundle.ID()
	if err != nil {
		return err
	}
	printJSON(bundleRespJSON{
		BundleID: id.String(),
		Released: fn.Map(bundle.Removals(), newCoinResp),
	})

	return nil
}

var purgeCommand = cli.Command{
	Name:      "purge",
	ShortName: "p",
	Usage:     "Delete the local record of a coin",
	Description: `
	Remove a coin record from the local store. The chain is not touched.`,
	Flags: []cli.Flag{
		coinIDFlag,
		cli.BoolFlag{
			Name:  forceName,
			Usage: "skip the confirmation prompt",
		},
	},
	Action: purgeRecord,
}

func purgeRecord(ctx *cli.Context) error {
	if !ctx.IsSet(coinIDName) {
		return cli.ShowCommandHelp(ctx, "purge")
	}

	id, err := program.NewHashFromStr(ctx.String(coinIDName))
	if err != nil {
		return fmt.Errorf("invalid coin id: %w", err)
	}

	if !ctx.Bool(forceName) {
		msg := fmt.Sprintf("Delete the record of coin %v? (yes/no): ",
			id)
		if !promptForConfirmation(msg) {
			return fmt.Errorf("purge of coin %v not confirmed, use "+
				"--%s to skip the prompt", id, forceName)
		}
	}

	s, cleanUp, err := getSession(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	ctxc, cancel := getContext()
	defer cancel()

	if err := s.manager.Purge(ctxc, id); err != nil {
		return err
	}

	printJSON(map[string]string{"purged": id.String()})
	return nil
}
