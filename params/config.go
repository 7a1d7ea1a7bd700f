package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

type API struct {
	Addr        string
	CORSOrigins []string
}

type Storage struct {
	// DataDir holds the pebble database. Empty keeps state in memory only.
	DataDir     string
	JournalFile string // empty disables the request journal
}

type Log struct {
	Level string // zap level name
	File  string // empty logs to stdout only
}

type Kafka struct {
	Brokers []string // empty disables fill publishing to Kafka
	Topic   string
}

type Market struct {
	QuoteTicker string
	// Assets lists tradable tickers, each optionally bound to a token
	// address: "REP,MKR=0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2"
	Assets []AssetSpec
	// FaucetAmount caps one faucet request; 0 disables the devnet faucet route
	FaucetAmount int64
}

// AssetSpec is one configured asset; a zero Token is derived from the ticker
type AssetSpec struct {
	Ticker string
	Token  common.Address
}

type Config struct {
	API     API
	Storage Storage
	Log     Log
	Kafka   Kafka
	Market  Market
}

func Default() Config {
	return Config{
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Storage: Storage{
			DataDir:     "data/pebble",
			JournalFile: "data/journal.log",
		},
		Log: Log{
			Level: "info",
		},
		Kafka: Kafka{
			Topic: "hyperdex.fills",
		},
		Market: Market{
			QuoteTicker:  "DAI",
			Assets:       []AssetSpec{{Ticker: "REP"}},
			FaucetAmount: 1_000_000,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	// Override with environment variables
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	if dir, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.Storage.DataDir = dir
	}
	if f, ok := os.LookupEnv("JOURNAL_FILE"); ok {
		cfg.Storage.JournalFile = f
	}
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Market.QuoteTicker = getEnv("QUOTE_TICKER", cfg.Market.QuoteTicker)
	if assets, ok := os.LookupEnv("ASSETS"); ok {
		specs, err := ParseAssets(assets)
		if err != nil {
			return cfg, err
		}
		cfg.Market.Assets = specs
	}
	if amount := os.Getenv("FAUCET_AMOUNT"); amount != "" {
		n, err := strconv.ParseInt(amount, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("FAUCET_AMOUNT: %w", err)
		}
		cfg.Market.FaucetAmount = n
	}

	return cfg, nil
}

// ParseAssets parses "TICKER[=0xTOKEN]" entries separated by commas
func ParseAssets(s string) ([]AssetSpec, error) {
	var out []AssetSpec
	for _, item := range splitList(s) {
		ticker, token, hasToken := strings.Cut(item, "=")
		spec := AssetSpec{Ticker: strings.TrimSpace(ticker)}
		if _, err := asset.ParseTicker(spec.Ticker); err != nil {
			return nil, fmt.Errorf("ASSETS: %w", err)
		}
		if hasToken {
			token = strings.TrimSpace(token)
			if !common.IsHexAddress(token) {
				return nil, fmt.Errorf("ASSETS: invalid token address %q for %s", token, spec.Ticker)
			}
			spec.Token = common.HexToAddress(token)
		}
		out = append(out, spec)
	}
	return out, nil
}

// RegistryAssets returns the quote asset followed by the tradable assets
func (m Market) RegistryAssets() ([]asset.Asset, error) {
	quote, err := asset.ParseTicker(m.QuoteTicker)
	if err != nil {
		return nil, fmt.Errorf("QUOTE_TICKER: %w", err)
	}
	out := []asset.Asset{{Ticker: quote, IsQuote: true}}
	for _, spec := range m.Assets {
		t, err := asset.ParseTicker(spec.Ticker)
		if err != nil {
			return nil, err
		}
		out = append(out, asset.Asset{Ticker: t, Token: spec.Token})
	}
	return out, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
