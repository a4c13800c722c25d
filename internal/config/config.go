package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeDryRun Mode = "dry-run"
	ModeLive   Mode = "live"
)

const (
	BackendFile = "file"
	BackendS3   = "s3"

	FeedChain  = "chain"
	FeedAlpaca = "alpaca"
)

// EnvPrefix namespaces environment overrides for non-secret settings,
// e.g. UPDOWN_MAX_BET_PERCENT for --max-bet-percent.
const EnvPrefix = "UPDOWN_"

type Config struct {
	Mode          Mode          `yaml:"mode"`
	MaxBetPercent float64       `yaml:"max_bet_percent"`
	MinBalance    float64       `yaml:"min_balance"`
	Slippage      float64       `yaml:"slippage"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`

	HistoryBackend string `yaml:"history_backend"`
	HistoryPath    string `yaml:"history_path"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Key          string `yaml:"s3_key"`
	AWSRegion      string `yaml:"aws_region"`

	DecisionsPath      string `yaml:"decisions_path"`
	DecisionsMaxSizeMB int    `yaml:"decisions_max_size_mb"`
	MetricsAddr        string `yaml:"metrics_addr"`

	FeedSource    string `yaml:"feed_source"`
	RPCURL        string `yaml:"rpc_url"`
	FeedAddress   string `yaml:"feed_address"`
	USDCAddress   string `yaml:"usdc_address"`
	WalletAddress string `yaml:"wallet_address"`
	AlpacaSymbol  string `yaml:"alpaca_symbol"`

	MarketsURL   string `yaml:"markets_url"`
	MarketsQuery string `yaml:"markets_query"`
	ClobURL      string `yaml:"clob_url"`

	// Secrets are read from the environment only.
	PrivateKey      string `yaml:"-"`
	PolyAPIKey      string `yaml:"-"`
	PolyAPISecret   string `yaml:"-"`
	PolyPassphrase  string `yaml:"-"`
	AlpacaAPIKey    string `yaml:"-"`
	AlpacaAPISecret string `yaml:"-"`
}

func Defaults() Config {
	return Config{
		Mode:               ModeDryRun,
		MaxBetPercent:      0.05,
		MinBalance:         1.0,
		Slippage:           0.05,
		HTTPTimeout:        10 * time.Second,
		HistoryBackend:     BackendFile,
		HistoryPath:        "price_history.json",
		S3Key:              "updownbot/price_history.json",
		AWSRegion:          "us-east-1",
		DecisionsPath:      "decisions.ndjson",
		DecisionsMaxSizeMB: 50,
		FeedSource:         FeedChain,
		RPCURL:             "https://polygon-rpc.com",
		FeedAddress:        "0xc907E116054Ad103354f2D350FD2514433D57F6f",
		USDCAddress:        "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		AlpacaSymbol:       "BTC/USD",
		MarketsURL:         "https://gamma-api.polymarket.com",
		MarketsQuery:       "active=true&closed=false&limit=500",
		ClobURL:            "https://clob.polymarket.com",
	}
}

func Load() (Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs resolves configuration with precedence
// defaults < YAML file < environment < flags.
func LoadArgs(args []string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if path := configPath(args); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	flags := newFlagSet(&cfg)
	if err := applyEnv(flags); err != nil {
		return cfg, err
	}
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	cfg.PrivateKey = strings.TrimSpace(os.Getenv("PRIVATE_KEY"))
	cfg.PolyAPIKey = os.Getenv("POLY_API_KEY")
	cfg.PolyAPISecret = os.Getenv("POLY_API_SECRET")
	cfg.PolyPassphrase = os.Getenv("POLY_API_PASSPHRASE")
	cfg.AlpacaAPIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.AlpacaAPISecret = os.Getenv("APCA_API_SECRET_KEY")

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotEnv fills unset variables from path; existing env always wins.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// configPath finds --config before the full flag set exists, since file
// values become the flag defaults.
func configPath(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("bot", flag.ContinueOnError)
	fs.String("config", "", "optional YAML config file")
	fs.Func("mode", "run mode: dry-run or live (default "+string(cfg.Mode)+")", func(v string) error {
		cfg.Mode = Mode(v)
		return nil
	})
	fs.Float64Var(&cfg.MaxBetPercent, "max-bet-percent", cfg.MaxBetPercent, "fraction of balance staked per cycle")
	fs.Float64Var(&cfg.MinBalance, "min-balance", cfg.MinBalance, "skip cycles when the balance is below this floor")
	fs.Float64Var(&cfg.Slippage, "slippage", cfg.Slippage, "slippage tolerance carried in the order payload")
	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "timeout per venue HTTP call")
	fs.StringVar(&cfg.HistoryBackend, "history-backend", cfg.HistoryBackend, "price history storage: file or s3")
	fs.StringVar(&cfg.HistoryPath, "history-path", cfg.HistoryPath, "price history file path")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "price history bucket")
	fs.StringVar(&cfg.S3Key, "s3-key", cfg.S3Key, "price history object key")
	fs.StringVar(&cfg.AWSRegion, "aws-region", cfg.AWSRegion, "AWS region for the s3 backend")
	fs.StringVar(&cfg.DecisionsPath, "decisions-path", cfg.DecisionsPath, "path to decisions log")
	fs.IntVar(&cfg.DecisionsMaxSizeMB, "decisions-max-size-mb", cfg.DecisionsMaxSizeMB, "rotate the decisions log at this size")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address when set")
	fs.StringVar(&cfg.FeedSource, "feed-source", cfg.FeedSource, "BTC/USD price source: chain or alpaca")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "EVM JSON-RPC endpoint")
	fs.StringVar(&cfg.FeedAddress, "feed-address", cfg.FeedAddress, "BTC/USD aggregator contract")
	fs.StringVar(&cfg.USDCAddress, "usdc-address", cfg.USDCAddress, "USDC token contract")
	fs.StringVar(&cfg.WalletAddress, "wallet-address", cfg.WalletAddress, "account whose balance is read (defaults to the signing key's address)")
	fs.StringVar(&cfg.AlpacaSymbol, "alpaca-symbol", cfg.AlpacaSymbol, "crypto symbol for the alpaca feed")
	fs.StringVar(&cfg.MarketsURL, "markets-url", cfg.MarketsURL, "market listing base URL")
	fs.StringVar(&cfg.MarketsQuery, "markets-query", cfg.MarketsQuery, "query string for the market listing")
	fs.StringVar(&cfg.ClobURL, "clob-url", cfg.ClobURL, "order submission base URL")
	return fs
}

// applyEnv sets every flag that has an UPDOWN_ variable, so flags parsed
// afterwards still override it.
func applyEnv(fs *flag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || f.Name == "config" {
			return
		}
		value, ok := os.LookupEnv(EnvName(f.Name))
		if !ok {
			return
		}
		if setErr := fs.Set(f.Name, value); setErr != nil {
			err = fmt.Errorf("%s: %w", EnvName(f.Name), setErr)
		}
	})
	return err
}

// EnvName maps a flag name to its environment variable.
func EnvName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func validate(cfg Config) error {
	if cfg.Mode != ModeDryRun && cfg.Mode != ModeLive {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.MaxBetPercent < 0 || cfg.MaxBetPercent > 1 {
		return fmt.Errorf("max-bet-percent must be within [0, 1]")
	}
	if cfg.MinBalance < 0 {
		return fmt.Errorf("min-balance must be >= 0")
	}
	if cfg.Slippage < 0 || cfg.Slippage > 1 {
		return fmt.Errorf("slippage must be within [0, 1]")
	}
	if cfg.HTTPTimeout <= 0 {
		return fmt.Errorf("http-timeout must be > 0")
	}
	if cfg.DecisionsMaxSizeMB <= 0 {
		return fmt.Errorf("decisions-max-size-mb must be > 0")
	}

	switch cfg.HistoryBackend {
	case BackendFile:
		if cfg.HistoryPath == "" {
			return fmt.Errorf("history-path is required for the file backend")
		}
	case BackendS3:
		if cfg.S3Bucket == "" || cfg.S3Key == "" {
			return fmt.Errorf("s3-bucket and s3-key are required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid history-backend: %s", cfg.HistoryBackend)
	}

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc-url is required")
	}
	if !common.IsHexAddress(cfg.USDCAddress) {
		return fmt.Errorf("invalid usdc-address: %q", cfg.USDCAddress)
	}
	switch cfg.FeedSource {
	case FeedChain:
		if !common.IsHexAddress(cfg.FeedAddress) {
			return fmt.Errorf("invalid feed-address: %q", cfg.FeedAddress)
		}
	case FeedAlpaca:
		if cfg.AlpacaAPIKey == "" || cfg.AlpacaAPISecret == "" {
			return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required for the alpaca feed")
		}
		if cfg.AlpacaSymbol == "" {
			return fmt.Errorf("alpaca-symbol is required for the alpaca feed")
		}
	default:
		return fmt.Errorf("invalid feed-source: %s", cfg.FeedSource)
	}

	if cfg.WalletAddress == "" && cfg.PrivateKey == "" {
		return fmt.Errorf("wallet-address or PRIVATE_KEY is required to read the balance")
	}
	if cfg.WalletAddress != "" && !common.IsHexAddress(cfg.WalletAddress) {
		return fmt.Errorf("invalid wallet-address: %q", cfg.WalletAddress)
	}

	if cfg.Mode == ModeLive {
		var missing []string
		for _, secret := range []struct{ name, value string }{
			{"PRIVATE_KEY", cfg.PrivateKey},
			{"POLY_API_KEY", cfg.PolyAPIKey},
			{"POLY_API_SECRET", cfg.PolyAPISecret},
			{"POLY_API_PASSPHRASE", cfg.PolyPassphrase},
		} {
			if secret.value == "" {
				missing = append(missing, secret.name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("live mode requires %s", strings.Join(missing, ", "))
		}
	}
	return nil
}
