package cmn

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config is the immutable, fully-resolved configuration of one daemon
// instance. It is assembled exactly once at startup (see FlagsToConfig)
// and threaded through every constructor from there on; nothing in this
// codebase consults a package-level mutable flag once Config exists.
type Config struct {
	DataDir    string
	Port       int
	Bind       string
	Verbose    bool
	CDX14      bool
	ExperimentalAccessControl bool
	SecondaryMode             bool
	AcceptWrites              bool
	WarcBaseURL               string
	MaxNumResults             int
	QueryTimeout              time.Duration
	CDXPlusWorkaround         bool

	// ReplicationSecret validates the JWT bearer tokens presented by
	// secondaries tailing this primary's change feed (§4.6). Write
	// endpoints do not check bearer tokens.
	ReplicationSecret string
}

const (
	defaultPort          = 8080
	defaultMaxNumResults = 10_000
	defaultQueryTimeout  = 30 * time.Second
)

// DefaultConfig mirrors the teacher's DefaultConfig()-then-override-via-
// options pattern: start from hardcoded defaults, layer file values, then
// environment variables, then explicit flags, in that order (§6.4).
func DefaultConfig() *Config {
	return &Config{
		Port:          defaultPort,
		Bind:          "",
		MaxNumResults: defaultMaxNumResults,
		QueryTimeout:  defaultQueryTimeout,
	}
}

// cliFlags mirrors ais/daemon.go's cliFlags struct: one struct of raw flag
// destinations, parsed once, then folded into an immutable Config.
type cliFlags struct {
	dataDir                   string
	port                      int
	bind                      string
	verbose                   bool
	cdx14                     bool
	experimentalAccessControl bool
	secondaryMode             bool
	configPath                string
	warcBaseURL               string
	maxNumResults             int
	queryTimeoutMs            int
	cdxPlusWorkaround         bool
	replicationSecret         string
}

// RegisterFlags installs the daemon's command-line flags into fs, returning
// the destination struct FlagsToConfig expects.
func RegisterFlags(fs *flag.FlagSet) *cliFlags {
	cli := &cliFlags{}
	fs.StringVar(&cli.dataDir, "data-dir", "", "directory holding one subdirectory per collection")
	fs.IntVar(&cli.port, "port", 0, "HTTP listen port (default 8080)")
	fs.StringVar(&cli.bind, "bind", "", "address to bind to (empty: all interfaces)")
	fs.BoolVar(&cli.verbose, "verbose", false, "enable verbose logging")
	fs.BoolVar(&cli.cdx14, "cdx14", false, "set Config.CDX14 (14-field ingest lines are accepted whether or not it is set)")
	fs.BoolVar(&cli.experimentalAccessControl, "access-control", false, "enable the access-control evaluation engine")
	fs.BoolVar(&cli.secondaryMode, "secondary-mode", false, "run read-only, tailing a primary's change feed")
	fs.StringVar(&cli.configPath, "config", "", "path to a JSON config file (cmn/jsp-style)")
	fs.StringVar(&cli.warcBaseURL, "warc-base-url", "", "base URL replay systems resolve WARC filenames against")
	fs.IntVar(&cli.maxNumResults, "max-num-results", 0, "hard cap on results returned per query (default 10000)")
	fs.IntVar(&cli.queryTimeoutMs, "query-timeout-ms", 0, "query wall-clock budget in milliseconds (default 30000)")
	fs.BoolVar(&cli.cdxPlusWorkaround, "cdx-plus-workaround", false, "retry a zero-result query once substituting %20 with +")
	fs.StringVar(&cli.replicationSecret, "replication-secret", "", "HMAC secret for change-feed JWTs")
	return cli
}

// FlagsToConfig folds parsed flags over environment variables over a
// file-loaded base, in that priority order (explicit flags win).
func FlagsToConfig(cli *cliFlags) (*Config, error) {
	cfg := DefaultConfig()

	if cli.configPath != "" {
		if err := LoadConfigFile(cli.configPath, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if cli.dataDir != "" {
		cfg.DataDir = cli.dataDir
	}
	if cli.port != 0 {
		cfg.Port = cli.port
	}
	if cli.bind != "" {
		cfg.Bind = cli.bind
	}
	cfg.Verbose = cfg.Verbose || cli.verbose
	cfg.CDX14 = cfg.CDX14 || cli.cdx14
	cfg.ExperimentalAccessControl = cfg.ExperimentalAccessControl || cli.experimentalAccessControl
	cfg.SecondaryMode = cfg.SecondaryMode || cli.secondaryMode
	if cli.warcBaseURL != "" {
		cfg.WarcBaseURL = cli.warcBaseURL
	}
	if cli.maxNumResults != 0 {
		cfg.MaxNumResults = cli.maxNumResults
	}
	if cli.queryTimeoutMs != 0 {
		cfg.QueryTimeout = time.Duration(cli.queryTimeoutMs) * time.Millisecond
	}
	cfg.CDXPlusWorkaround = cfg.CDXPlusWorkaround || cli.cdxPlusWorkaround
	if cli.replicationSecret != "" {
		cfg.ReplicationSecret = cli.replicationSecret
	}

	cfg.AcceptWrites = !cfg.SecondaryMode

	if cfg.DataDir == "" {
		return nil, NewError(KindInternal, "data-dir is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CDX_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CDX_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("CDX_SECONDARY_MODE"); v != "" {
		cfg.SecondaryMode, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("CDX_REPLICATION_SECRET"); v != "" {
		cfg.ReplicationSecret = v
	}
}
