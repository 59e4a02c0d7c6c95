package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vocdoni/maci-coordinator/db"
	"github.com/vocdoni/maci-coordinator/log"
)

const (
	defaultLogLevel  = "info"
	defaultLogOutput = "stdout"
	defaultDatadir   = ".maci-coordinator" // prefixed with the user's home directory
	defaultDBType    = db.TypePebble
	defaultSnapshot  = "registry"
	defaultOutput    = "."
)

// Version is the build version, set at build time with -ldflags
var Version = "dev"

// Config holds the application configuration
type Config struct {
	Coordinator CoordinatorConfig
	Deploy      DeployConfig
	DB          DBConfig
	Log         LogConfig
	Datadir     string
	Snapshot    string
	Polls       []int
	Output      string
	Monitor     time.Duration
	Workers     int
}

// CoordinatorConfig holds the coordinator key, serialized as macisk.<hex>.
type CoordinatorConfig struct {
	PrivKey string `mapstructure:"privkey"`
}

// DeployConfig holds the deployment details copied into the tally files.
type DeployConfig struct {
	Maci    string `mapstructure:"maci"`
	Tally   string `mapstructure:"tally"`
	Network string `mapstructure:"network"`
	ChainID string `mapstructure:"chainid"`
}

// DBConfig holds the database backend configuration
type DBConfig struct {
	Type string `mapstructure:"type"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from flags, environment variables, and defaults
func loadConfig() (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("datadir", defaultDatadirPath)
	v.SetDefault("db.type", defaultDBType)
	v.SetDefault("snapshot", defaultSnapshot)
	v.SetDefault("output", defaultOutput)

	flag.StringP("coordinator.privkey", "k", "", "coordinator private key, macisk.<hex> (required)")
	flag.StringP("snapshot", "s", defaultSnapshot, "name of the registry snapshot to finalize")
	flag.IntSliceP("polls", "p", []int{}, "poll ids to finalize, comma-separated (default all closed polls)")
	flag.StringP("output", "O", defaultOutput, "directory the tally-<pollID>.json files are written to")
	flag.DurationP("monitor", "m", 0, "keep running and finalize polls as they close, checking at this interval (i.e 30s)")
	flag.IntP("workers", "w", 0, "maximum number of polls finalized at once (0 means no limit)")
	flag.String("deploy.maci", "", "MACI contract address written to the tally files")
	flag.String("deploy.tally", "", "tally contract address written to the tally files")
	flag.String("deploy.network", "", "network name written to the tally files")
	flag.String("deploy.chainid", "", "chain id written to the tally files")
	flag.String("db.type", defaultDBType, fmt.Sprintf("database backend (%s, %s or %s)", db.TypePebble, db.TypeLevelDB, db.TypeInMem))
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for the database")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "maci-coordinator v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: maci-coordinator [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, MACI_COORDINATOR_PRIVKEY or MACI_DB_TYPE\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Finalize every closed poll of the default snapshot\n")
		fmt.Fprintf(os.Stderr, "  maci-coordinator --coordinator.privkey=macisk.123...\n\n")
		fmt.Fprintf(os.Stderr, "  # Finalize polls 0 and 2 and write the tallies to ./results\n")
		fmt.Fprintf(os.Stderr, "  maci-coordinator -k macisk.123... --polls=0,2 --output=./results\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("MACI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Coordinator.PrivKey == "" {
		return fmt.Errorf("coordinator private key is required (use --coordinator.privkey flag or MACI_COORDINATOR_PRIVKEY environment variable)")
	}
	switch cfg.DB.Type {
	case db.TypePebble, db.TypeLevelDB:
	case db.TypeInMem:
		return fmt.Errorf("the %s database cannot hold a snapshot across runs", db.TypeInMem)
	default:
		return fmt.Errorf("invalid database type %q", cfg.DB.Type)
	}
	if !log.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("invalid log level %q", cfg.Log.Level)
	}
	for name, addr := range map[string]string{"deploy.maci": cfg.Deploy.Maci, "deploy.tally": cfg.Deploy.Tally} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address %q", name, addr)
		}
	}
	for _, id := range cfg.Polls {
		if id < 0 {
			return fmt.Errorf("invalid poll id %d", id)
		}
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	return nil
}
