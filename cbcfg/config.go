package cbcfg

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/lightninglabs/clawback/address"
	"github.com/lightninglabs/clawback/build"
	"github.com/lightninglabs/clawback/cbdb"
	"github.com/lightninglabs/clawback/chain"
)

const (
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "clawback.log"
	defaultConfigFileName = "clawback.conf"

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultNetwork = "mainnet"

	// DefaultTimelock is the default claim delay of a new escrow, two
	// weeks in seconds.
	DefaultTimelock = 1209600

	// DefaultWalletID is the id of the standard wallet.
	DefaultWalletID = 1

	defaultNodeHost   = "localhost:8555"
	defaultWalletHost = "localhost:9256"

	// DatabaseBackendSqlite is the name of the SQLite database backend.
	DatabaseBackendSqlite = "sqlite"

	// DatabaseBackendPostgres is the name of the Postgres database backend.
	DatabaseBackendPostgres = "postgres"

	defaultSqliteDatabaseFileName = "clawback.db"
)

var (
	// DefaultClawbackDir is the default directory where clawback keeps its
	// data, logs and configuration.
	DefaultClawbackDir = btcutil.AppDataDir("clawback", false)

	// DefaultConfigFile is the default full path of the config file.
	DefaultConfigFile = filepath.Join(
		DefaultClawbackDir, defaultConfigFileName,
	)

	defaultDataDir = filepath.Join(DefaultClawbackDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultClawbackDir, defaultLogDirname)

	// defaultChiaSSLDir is where the node keeps the certificates its
	// services are reached with.
	defaultChiaSSLDir = filepath.Join(
		"~", ".chia", "mainnet", "config", "ssl",
	)

	defaultNodeCertPath = filepath.Join(
		defaultChiaSSLDir, "full_node", "private_full_node.crt",
	)
	defaultNodeKeyPath = filepath.Join(
		defaultChiaSSLDir, "full_node", "private_full_node.key",
	)
	defaultWalletCertPath = filepath.Join(
		defaultChiaSSLDir, "wallet", "private_wallet.crt",
	)
	defaultWalletKeyPath = filepath.Join(
		defaultChiaSSLDir, "wallet", "private_wallet.key",
	)
	defaultCACertPath = filepath.Join(
		defaultChiaSSLDir, "ca", "private_ca.crt",
	)

	defaultSqliteDatabasePath = filepath.Join(
		defaultDataDir, defaultSqliteDatabaseFileName,
	)
)

// Config is the main config of the clawback tool.
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	ClawbackDir string `long:"clawbackdir" description:"The base directory that contains clawback's data, logs, configuration file, etc."`
	ConfigFile  string `long:"configfile" description:"Path to configuration file"`

	DataDir        string `long:"datadir" description:"The directory to store clawback's data within"`
	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	Network  string `long:"network" description:"The network the node and wallet are on." choice:"mainnet" choice:"testnet10" choice:"simnet"`
	WalletID uint32 `long:"walletid" description:"The id of the wallet coins are selected from."`
	Fee      uint64 `long:"fee" description:"The default fee in mojos of every bundle."`
	Timelock uint64 `long:"timelock" description:"The default claim delay in seconds of new escrows."`

	Node   *chain.RPCConfig `group:"node" namespace:"node"`
	Wallet *chain.RPCConfig `group:"wallet" namespace:"wallet"`

	DatabaseBackend string               `long:"databasebackend" description:"The database backend to use for storing coin records." choice:"sqlite" choice:"postgres"`
	Sqlite          *cbdb.SqliteConfig   `group:"sqlite" namespace:"sqlite"`
	Postgres        *cbdb.PostgresConfig `group:"postgres" namespace:"postgres"`

	// LogWriter is the root logger that all of the subloggers are hooked
	// up to.
	LogWriter *build.RotatingLogWriter

	// ActiveNetParams contains parameters of the target network.
	ActiveNetParams *address.ChainParams

	// networkDir is the path to the directory of the currently active
	// network.
	networkDir string
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		ClawbackDir:    DefaultClawbackDir,
		ConfigFile:     DefaultConfigFile,
		DataDir:        defaultDataDir,
		DebugLevel:     defaultLogLevel,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		Network:        defaultNetwork,
		WalletID:       DefaultWalletID,
		Timelock:       DefaultTimelock,
		Node: &chain.RPCConfig{
			Host:        defaultNodeHost,
			TLSCertPath: defaultNodeCertPath,
			TLSKeyPath:  defaultNodeKeyPath,
			CACertPath:  defaultCACertPath,
			RateLimit:   chain.DefaultRPCRateLimit,
			Timeout:     chain.DefaultRPCTimeout,
		},
		Wallet: &chain.RPCConfig{
			Host:        defaultWalletHost,
			TLSCertPath: defaultWalletCertPath,
			TLSKeyPath:  defaultWalletKeyPath,
			CACertPath:  defaultCACertPath,
			RateLimit:   chain.DefaultRPCRateLimit,
			Timeout:     chain.DefaultRPCTimeout,
		},
		DatabaseBackend: DatabaseBackendSqlite,
		Sqlite: &cbdb.SqliteConfig{
			DatabaseFileName: defaultSqliteDatabasePath,
		},
		Postgres: &cbdb.PostgresConfig{
			Host:               "localhost",
			Port:               5432,
			MaxOpenConnections: 10,
		},
		LogWriter: build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options. args are the command line arguments, without the program
// name.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their clawbackdir, then we should assume they intend to use
	// the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.ClawbackDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	switch {
	// User specified --clawbackdir but no --configfile. Update the config
	// file path to the clawback config directory, but don't require it
	// to exist.
	case configFileDir != DefaultClawbackDir &&
		configFilePath == DefaultConfigFile:

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFileName,
		)

	// User did specify an explicit --configfile, so we check that it does
	// exist under that path to avoid surprises.
	case configFilePath != DefaultConfigFile:
		if !fileExists(configFilePath) {
			return nil, fmt.Errorf("specified config file does "+
				"not exist in %s", configFilePath)
		}
	}

	// Next, load any additional configuration options from the file.
	cfg := preCfg
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(configFilePath)
	if err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.ParseArgs(args); err != nil {
		return nil, err
	}

	return ValidateConfig(cfg)
}

// usageError is an error type that signals a problem with the supplied flags.
type usageError struct {
	err error
}

// Error returns the error string.
//
// NOTE: This is part of the error interface.
func (u *usageError) Error() string {
	return u.err.Error()
}

// Unwrap returns the underlying error.
func (u *usageError) Unwrap() error {
	return u.err
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the provided clawback directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	clawbackDir := CleanAndExpandPath(cfg.ClawbackDir)
	if clawbackDir != DefaultClawbackDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(
				clawbackDir, defaultDataDirname,
			)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(
				clawbackDir, defaultLogDirname,
			)
		}
	}

	funcName := "ValidateConfig"
	mkErr := func(format string, args ...interface{}) error {
		return fmt.Errorf(funcName+": "+format, args...)
	}
	makeDirectory := func(dir string) error {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			// Show a nicer error message if it's because a symlink
			// is linked to a directory that does not exist
			// (probably because it's not mounted).
			var pathErr *os.PathError
			if errors.As(err, &pathErr) && os.IsExist(err) {
				link, lerr := os.Readlink(pathErr.Path)
				if lerr == nil {
					str := "is symlink %s -> %s mounted?"
					err = fmt.Errorf(str, pathErr.Path, link)
				}
			}

			str := "failed to create directory '%s': %v"
			return mkErr(str, dir, err)
		}

		return nil
	}

	// As soon as we're done parsing configuration options, ensure all
	// paths to directories and files are cleaned and expanded before
	// attempting to use them later on.
	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)
	for _, rpcCfg := range []*chain.RPCConfig{cfg.Node, cfg.Wallet} {
		if rpcCfg.Host == "" {
			return nil, &usageError{mkErr("rpc host must be set")}
		}
		rpcCfg.TLSCertPath = CleanAndExpandPath(rpcCfg.TLSCertPath)
		rpcCfg.TLSKeyPath = CleanAndExpandPath(rpcCfg.TLSKeyPath)
		rpcCfg.CACertPath = CleanAndExpandPath(rpcCfg.CACertPath)
	}

	params, err := address.Net(cfg.Network)
	if err != nil {
		return nil, &usageError{mkErr("invalid network: %v", err)}
	}
	cfg.ActiveNetParams = params

	if cfg.Timelock == 0 {
		return nil, &usageError{mkErr("timelock must be positive")}
	}

	// We'll now construct the network directory which will be where we
	// store all the data specific to this network.
	cfg.networkDir = filepath.Join(cfg.DataDir, params.Name)

	switch cfg.DatabaseBackend {
	case DatabaseBackendSqlite:
		// We'll update the database file location if it wasn't set.
		if cfg.Sqlite.DatabaseFileName == defaultSqliteDatabasePath {
			cfg.Sqlite.DatabaseFileName = filepath.Join(
				cfg.networkDir, defaultSqliteDatabaseFileName,
			)
		}
		cfg.Sqlite.DatabaseFileName = CleanAndExpandPath(
			cfg.Sqlite.DatabaseFileName,
		)

	case DatabaseBackendPostgres:

	default:
		return nil, &usageError{mkErr("unknown database backend %q",
			cfg.DatabaseBackend)}
	}

	// Create the data and log directories if they don't already exist.
	dirs := []string{cfg.networkDir, cfg.LogDir}
	if cfg.DatabaseBackend == DatabaseBackendSqlite {
		dirs = append(dirs, filepath.Dir(cfg.Sqlite.DatabaseFileName))
	}
	for _, dir := range dirs {
		if err := makeDirectory(dir); err != nil {
			return nil, err
		}
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network in the same fashion as the data directory.
	cfg.LogDir = filepath.Join(cfg.LogDir, params.Name)

	return &cfg, nil
}

// InitLogging starts the log rotator and applies the debug level.
func (c *Config) InitLogging() error {
	err := c.LogWriter.InitLogRotator(
		filepath.Join(c.LogDir, defaultLogFilename),
		c.MaxLogFileSize, c.MaxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("unable to init log rotator: %w", err)
	}

	// Parse, validate, and set debug log level(s).
	err = build.ParseAndSetDebugLevels(c.DebugLevel, c.LogWriter)
	if err != nil {
		return &usageError{fmt.Errorf("invalid debug level: %w", err)}
	}

	return nil
}

// NetworkDir returns the directory of the active network's data.
func (c *Config) NetworkDir() string {
	return c.networkDir
}

// fileExists reports whether the named file or directory exists.
// This function is taken from https://github.com/btcsuite/btcd
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
