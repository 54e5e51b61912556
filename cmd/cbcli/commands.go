package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lightninglabs/clawback"
	"github.com/lightninglabs/clawback/address"
	"github.com/lightninglabs/clawback/cbcfg"
	"github.com/lightninglabs/clawback/cbdb"
	"github.com/lightninglabs/clawback/chain"
	"github.com/lightninglabs/clawback/program"
	"github.com/lightninglabs/clawback/puzzle"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

// configFlags are the global flags that are handed to the config parser.
// Each maps to the long option of the same name.
var configFlags = []string{
	"clawbackdir", "configfile", "network", "walletid", "debuglevel",
	"databasebackend", "node.host", "wallet.host", "sqlite.dbfile",
}

// NewApp creates a new cbcli app with all the available commands.
func NewApp() cli.App {
	app := cli.NewApp()
	app.Name = "cbcli"
	app.Version = clawback.Version()
	app.Usage = "create, inspect and settle clawback escrows"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "clawbackdir",
			Value:     cbcfg.DefaultClawbackDir,
			Usage:     "The path to clawback's base directory.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "configfile",
			Value:     cbcfg.DefaultConfigFile,
			Usage:     "The path to the config file.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network the node and wallet are on: " +
				"mainnet, testnet10 or simnet.",
		},
		cli.Uint64Flag{
			Name:  "walletid",
			Usage: "The id of the wallet coins are selected from.",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "The logging level of all subsystems.",
		},
		cli.StringFlag{
			Name:  "databasebackend",
			Usage: "The coin record store: sqlite or postgres.",
		},
		cli.StringFlag{
			Name:  "node.host",
			Usage: "The host:port of the full node RPC service.",
		},
		cli.StringFlag{
			Name:  "wallet.host",
			Usage: "The host:port of the wallet RPC service.",
		},
		cli.StringFlag{
			Name:      "sqlite.dbfile",
			Usage:     "The path to the sqlite coin record store.",
			TakesFile: true,
		},
	}

	app.Commands = []cli.Command{
		createCommand,
		showCommand,
		clawCommand,
		claimCommand,
		routeCommand,
		sendCommand,
		pushCommand,
		getAddressCommand,
		purgeCommand,
	}

	return *app
}

// Fatal prints the error and exits.
func Fatal(err error) {
	var rejected *chain.LedgerRejectedError
	if errors.As(err, &rejected) && rejected.Hint != "" {
		_, _ = fmt.Fprintf(os.Stderr, "[cbcli] hint: %s\n",
			rejected.Hint)
	}

	_, _ = fmt.Fprintf(os.Stderr, "[cbcli] %v\n", err)
	os.Exit(1)
}

func getContext() (context.Context, func()) {
	return signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
}

// configArgs turns the global flags the user set into config options.
func configArgs(ctx *cli.Context) []string {
	var args []string
	for _, name := range configFlags {
		if !ctx.GlobalIsSet(name) {
			continue
		}
		args = append(args, fmt.Sprintf(
			"--%s=%s", name, ctx.GlobalString(name),
		))
	}

	return args
}

// session is an opened manager with the config it was built from.
type session struct {
	cfg     *cbcfg.Config
	manager *clawback.Manager
}

// getSession loads the config, starts logging, opens the coin record store
// and connects to the node and wallet.
func getSession(ctx *cli.Context) (*session, func(), error) {
	cfg, err := cbcfg.LoadConfig(configArgs(ctx))
	if err != nil {
		return nil, nil, err
	}

	// Logs go to the log file only, stdout carries the JSON output.
	cfg.LogWriter.DisableStdout()
	clawback.SetupLoggers(cfg.LogWriter)
	if err := cfg.InitLogging(); err != nil {
		return nil, nil, err
	}

	var baseDB *cbdb.BaseDB
	switch cfg.DatabaseBackend {
	case cbcfg.DatabaseBackendSqlite:
		store, err := cbdb.NewSqliteStore(cfg.Sqlite)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open database: "+
				"%w", err)
		}
		baseDB = store.BaseDB

	case cbcfg.DatabaseBackendPostgres:
		store, err := cbdb.NewPostgresStore(cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open database: "+
				"%w", err)
		}
		baseDB = store.BaseDB
	}

	cleanUp := func() {
		_ = baseDB.Close()
		_ = cfg.LogWriter.Close()
	}

	userAgent := clawback.UserAgent("cbcli")
	cfg.Node.UserAgent = userAgent
	cfg.Wallet.UserAgent = userAgent

	node, err := chain.NewNodeClient(cfg.Node)
	if err != nil {
		cleanUp()
		return nil, nil, err
	}
	wallet, err := chain.NewWalletClient(cfg.Wallet)
	if err != nil {
		cleanUp()
		return nil, nil, err
	}

	manager := clawback.NewManager(&clawback.ManagerConfig{
		Registry: puzzle.NewRegistry(),
		Node:     node,
		Wallet:   wallet,
		WalletID: cfg.WalletID,
		Params:   cfg.ActiveNetParams,
		Store:    cbdb.NewBatchedCoinStore(baseDB),
	})

	return &session{cfg: cfg, manager: manager}, cleanUp, nil
}

// feeFlag returns the fee of a command, defaulting to the configured fee.
func (s *session) feeFlag(ctx *cli.Context) uint64 {
	if ctx.IsSet(feeName) {
		return ctx.Uint64(feeName)
	}

	return s.cfg.Fee
}

// parsePuzzleHash accepts an address of the active network or a hex puzzle
// hash.
func parsePuzzleHash(s string, net *address.ChainParams) (program.Hash,
	error) {

	addr, addrErr := address.DecodeForNet(s, net)
	if addrErr == nil {
		return addr.PuzzleHash, nil
	}

	ph, err := program.NewHashFromStr(s)
	if err != nil {
		return program.Hash{}, fmt.Errorf("%q is neither an address "+
			"(%v) nor a puzzle hash", s, addrErr)
	}

	return ph, nil
}

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		Fatal(err)
	}

	fmt.Printf("%s\n", b)
}

// promptForConfirmation continuously prompts the user for the message until
// receiving a response of "yes" or "no" and returns their answer as a bool.
// Without a terminal on stdin nothing can be confirmed.
func promptForConfirmation(msg string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print(msg)

		answer, err := reader.ReadString('\n')
		if err != nil {
			return false
		}

		answer = strings.ToLower(strings.TrimSpace(answer))

		switch {
		case answer == "yes":
			return true
		case answer == "no":
			return false
		default:
			continue
		}
	}
}
