// Package config loads the daemon configuration from command-line flags
// and an optional INI config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/tenebra-net/tenebrad/chaincfg"
	"github.com/tenebra-net/tenebrad/infrastructure/logger"
	"github.com/tenebra-net/tenebrad/version"
)

const (
	defaultConfigFilename = "tenebrad.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "tenebrad.log"
	defaultErrLogFilename = "tenebrad_err.log"
	defaultLogLevel       = "info"
	defaultMaxPoolTxs     = 10000
)

var defaultHomeDir = appDataDir()

func appDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".tenebrad")
}

// Flags defines the configuration options of tenebrad.
//
// See LoadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion   bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir       string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir        string `long:"logdir" description:"Directory to log output"`
	LogLevel      string `short:"d" long:"loglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	Simnet        bool   `long:"simnet" description:"Use the simulation test network"`
	Generate      bool   `long:"generate" description:"Generate and ingest blocks locally (simnet only)"`
	BranchingHrz  uint64 `long:"branchinghorizon" description:"Prune branches forking more than this many blocks below the tip (0 = keep everything)"`
	FossilHrz     uint64 `long:"fossilhorizon" description:"Erase block bodies this many or more blocks below the tip (0 = keep everything)"`
	MaxMempoolTxs int    `long:"maxmempooltxs" description:"Maximum number of transactions kept in the mempool"`
}

// Config carries the parsed configuration together with the derived
// network parameters.
type Config struct {
	*Flags
	NetParams *chaincfg.Params
}

func defaultFlags() *Flags {
	return &Flags{
		ConfigFile:    filepath.Join(defaultHomeDir, defaultConfigFilename),
		DataDir:       filepath.Join(defaultHomeDir, defaultDataDirname),
		LogDir:        filepath.Join(defaultHomeDir, defaultLogDirname),
		LogLevel:      defaultLogLevel,
		MaxMempoolTxs: defaultMaxPoolTxs,
	}
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, error) {
	cfgFlags := defaultFlags()

	// Pre-parse the command line options to see if an alternative config
	// file was specified. The help flag is handled by the final parse
	// below.
	preCfg := *cfgFlags
	preParser := flags.NewParser(&preCfg, flags.IgnoreUnknown)
	if _, err := preParser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, err
		}
	}

	appName := filepath.Base(os.Args[0])
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, version.Version())
		os.Exit(0)
	}

	parser := flags.NewParser(cfgFlags, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); err == nil {
		err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing config file %s", preCfg.ConfigFile)
		}
	}

	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if _, ok := logger.LevelFromString(cfgFlags.LogLevel); !ok {
		return nil, errors.Errorf("the specified log level %q is invalid", cfgFlags.LogLevel)
	}

	netParams := &chaincfg.MainnetParams
	if cfgFlags.Simnet {
		netParams = &chaincfg.SimnetParams
	}
	if cfgFlags.Generate && !cfgFlags.Simnet {
		return nil, errors.New("--generate requires --simnet")
	}

	// Append the network name to data and log dirs so different networks
	// never share a store.
	cfgFlags.DataDir = filepath.Join(cfgFlags.DataDir, netParams.Name)
	cfgFlags.LogDir = filepath.Join(cfgFlags.LogDir, netParams.Name)

	return &Config{Flags: cfgFlags, NetParams: netParams}, nil
}

// LogFile returns the path of the main log file.
func (cfg *Config) LogFile() string {
	return filepath.Join(cfg.LogDir, defaultLogFilename)
}

// ErrLogFile returns the path of the error log file.
func (cfg *Config) ErrLogFile() string {
	return filepath.Join(cfg.LogDir, defaultErrLogFilename)
}
