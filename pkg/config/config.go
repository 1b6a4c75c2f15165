package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/log"
)

const (
	DefaultRoundTimeout = 2 * time.Minute
	DefaultIORetries    = 1
	DefaultThreshold    = 3
)

// BallotConfig locates the inputs of the ballot generation audit.
type BallotConfig struct {
	CiphersFile    string `toml:"ciphers_file"`    // committed ciphers, one JSON ballot per line
	BaseFile       string `toml:"base_file"`       // base encrypted candidate ids
	RandomnessFile string `toml:"randomness_file"` // per-serial randomness revealed by each mix server
	PublicKeyFile  string `toml:"public_key_file"` // election public key
	AuditFile      string `toml:"audit_file"`      // optional audit messages with plaintext permutations
	RaceSizes      []int  `toml:"race_sizes"`      // LA, LC ATL, LC BTL
	Sample         int    `toml:"sample"`          // serials to verify, 0 for all
}

// PackingConfig locates the inputs of the vote packing audit. The committed
// ciphers, base ciphers, public key and race sizes come from BallotConfig.
type PackingConfig struct {
	MessagesFile   string   `toml:"messages_file"`   // pod, vote and cancel messages, one per line; defaults to the commits folder
	DistrictsFile  string   `toml:"districts_file"`  // per-district race sizes
	PaddingFile    string   `toml:"padding_file"`    // padding point
	PlaintextsFile string   `toml:"plaintexts_file"` // plaintext candidate ids, in base cipher order
	MixInputFile   string   `toml:"mix_input_file"`  // packed ciphertext rows per race and district
	MixOutputFile  string   `toml:"mix_output_file"` // decrypted rows and printed preferences per race and district
	LAPacking      int      `toml:"la_packing"`      // candidates packed into one LA cipher
	BTLPacking     int      `toml:"btl_packing"`     // candidates packed into one LC BTL cipher
	UseDirect      []string `toml:"use_direct"`      // races mixed without packing
}

// Config holds all parameters for one verification run.
type Config struct {
	CommitsDir  string `toml:"commits_dir"`
	CertsFile   string `toml:"certs_file"`
	ParamsFile  string `toml:"params_file"`
	ResultsPath string `toml:"results_dir"`
	DBPath      string `toml:"db_path"`
	ReportPDF   bool   `toml:"report_pdf"`

	Cores        int           `toml:"cores"`
	RoundTimeout time.Duration `toml:"-"`
	Timeout      string        `toml:"round_timeout"`
	IORetries    int           `toml:"io_retries"`
	Threshold    int           `toml:"threshold"` // peer signatures needed to re-combine a joint signature

	LogLevel     string `toml:"log_level"`
	PrintMetrics bool   `toml:"print_metrics"`

	Ballots BallotConfig  `toml:"ballots"`
	Packing PackingConfig `toml:"packing"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		ResultsPath:  "output/results",
		Cores:        runtime.NumCPU(),
		RoundTimeout: DefaultRoundTimeout,
		IORetries:    DefaultIORetries,
		Threshold:    DefaultThreshold,
		LogLevel:     "info",
	}
}

// Load decodes a TOML configuration file over the defaults. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		log.Debug("Reading configuration %s", path)
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, xerrors.Errorf("config: decoding %s: %w", path, err)
		}
		base := filepath.Dir(path)
		for _, p := range []*string{&c.CommitsDir, &c.CertsFile, &c.ParamsFile, &c.ResultsPath, &c.DBPath,
			&c.Ballots.CiphersFile, &c.Ballots.BaseFile, &c.Ballots.RandomnessFile,
			&c.Ballots.PublicKeyFile, &c.Ballots.AuditFile,
			&c.Packing.MessagesFile, &c.Packing.DistrictsFile, &c.Packing.PaddingFile,
			&c.Packing.PlaintextsFile, &c.Packing.MixInputFile, &c.Packing.MixOutputFile} {
			*p = resolve(base, *p)
		}
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return nil, xerrors.Errorf("config: round_timeout: %w", err)
		}
		c.RoundTimeout = d
	}
	return c, nil
}

// Finalize validates the configuration, applies the log level and creates the
// results directory.
func (c *Config) Finalize() error {
	setLogLevel(c.LogLevel)
	if c.Cores < 1 {
		c.Cores = 1
	}
	if c.IORetries < 0 {
		return xerrors.Errorf("config: io_retries must not be negative")
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = DefaultRoundTimeout
	}
	for _, s := range c.Ballots.RaceSizes {
		if s < 0 {
			return xerrors.Errorf("config: negative race size %d", s)
		}
	}
	if c.Packing.LAPacking < 0 || c.Packing.BTLPacking < 0 {
		return xerrors.Errorf("config: negative packing size")
	}
	if c.ResultsPath != "" {
		path, err := cleanAndCreateDirectory(c.ResultsPath)
		if err != nil {
			return err
		}
		c.ResultsPath = path
	}
	log.Debug("Config: %s", c)
	return nil
}

// String returns a string representation of the Config instance
func (c *Config) String() string {
	return fmt.Sprintf("Config{Commits:%s Certs:%s Params:%s Results:%s DB:%s Cores:%d "+
		"RoundTimeout:%s IORetries:%d Threshold:%d LogLevel:%s PrintMetrics:%t "+
		"Ciphers:%s Races:%v Sample:%d}",
		c.CommitsDir, c.CertsFile, c.ParamsFile, c.ResultsPath, c.DBPath, c.Cores,
		c.RoundTimeout, c.IORetries, c.Threshold, c.LogLevel, c.PrintMetrics,
		c.Ballots.CiphersFile, c.Ballots.RaceSizes, c.Ballots.Sample)
}

// --- Config Helpers ---

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// cleanAndCreateDirectory ensures the specified directory exists, creating it if necessary.
func cleanAndCreateDirectory(path string) (string, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", xerrors.Errorf("config: creating directory %s: %w", path, err)
	}
	return path, nil
}

// setLogLevel sets the global log level, defaulting to "info" on invalid input.
func setLogLevel(logLevel string) {
	level, ok := log.ParseLevel(logLevel)
	if !ok {
		log.Info("Unknown log level '%s', defaulting to 'info'", logLevel)
	}
	log.SetLevel(level)
}
