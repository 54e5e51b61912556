package clawback

import (
	"github.com/btcsuite/btclog"
	"github.com/lightninglabs/clawback/build"
	"github.com/lightninglabs/clawback/cbdb"
	"github.com/lightninglabs/clawback/cbsend"
	"github.com/lightninglabs/clawback/chain"
)

// Subsystem defines the logging code for this subsystem.
const Subsystem = "CLAW"

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.RotatingLogWriter) {
	AddSubLogger(root, Subsystem, UseLogger)
	AddSubLogger(root, cbsend.Subsystem, cbsend.UseLogger)
	AddSubLogger(root, cbdb.Subsystem, cbdb.UseLogger)
	AddSubLogger(root, chain.Subsystem, chain.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.RotatingLogWriter, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := root.GenSubLogger(subsystem)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a sub
// system.
func SetSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
