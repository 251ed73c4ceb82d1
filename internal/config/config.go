package config

import (
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/mintweave/nft-market-engine/internal/log"
	"go.uber.org/zap"
)

type Config struct {
	Env   string
	Debug bool

	ApiPort string

	JournalPath string
	LogPath     string

	WebhookUrl     string
	WebhookRetries int

	Ledger LedgerConfig
	Market MarketConfig
	Ft     FtConfig
}

type LedgerConfig struct {
	Account     string
	Minter      string
	StorageCost *uint256.Int
}

type MarketConfig struct {
	Account           string
	Owner             string
	FallbackCut       uint32
	PlatformCut       uint32
	LockSeconds       int64
	ListingStorageFee *uint256.Int
	MaxPayoutLen      uint32
}

type FtConfig struct {
	Account string
	Symbol  string
}

func Init() {
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().With(zap.Error(err)).Warn("No .env file found, using environment")
	}

	initLogger()
}

func initLogger() {
	cfg := Get()
	log.NewLogger(cfg.LogPath, cfg.Debug)
}

func Get() *Config {
	return &Config{
		Env:            getString("ENV", ""),
		Debug:          getBool("DEBUG", false),
		ApiPort:        getString("API_PORT", "8080"),
		JournalPath:    getString("JOURNAL_PATH", "./var/journal.db"),
		LogPath:        getString("LOG_PATH", "./var/engine.log"),
		WebhookUrl:     getString("WEBHOOK_URL", ""),
		WebhookRetries: getInt("WEBHOOK_RETRIES", 3),
		Ledger: LedgerConfig{
			Account:     getString("LEDGER_ACCOUNT", "ledger"),
			Minter:      getString("LEDGER_MINTER", "minter"),
			StorageCost: getAmount("LEDGER_STORAGE_COST", "800000000000000000000"),
		},
		Market: MarketConfig{
			Account:           getString("MARKET_ACCOUNT", "market"),
			Owner:             getString("MARKET_OWNER", "market-admin"),
			FallbackCut:       uint32(getUint("MARKET_FALLBACK_CUT", 250)),
			PlatformCut:       uint32(getUint("MARKET_PLATFORM_CUT", 200)),
			LockSeconds:       int64(getInt("MARKET_LOCK_SECONDS", 3600)),
			ListingStorageFee: getAmount("MARKET_LISTING_STORAGE_FEE", "10000000000000000000000"),
			MaxPayoutLen:      uint32(getUint("MARKET_MAX_PAYOUT_LEN", 50)),
		},
		Ft: FtConfig{
			Account: getString("FT_ACCOUNT", "ft"),
			Symbol:  getString("FT_SYMBOL", "USDX"),
		},
	}
}

func getString(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getInt(key string, defaultValue int) int {
	valStr := getString(key, "")
	val, _, err := big.ParseFloat(valStr, 10, 0, big.ToNearestEven)
	if err != nil {
		return defaultValue
	}

	intVal, _ := val.Int64()
	return int(intVal)
}

func getUint(key string, defaultValue uint) uint {
	return uint(getInt(key, int(defaultValue)))
}

func getBool(key string, defaultValue bool) bool {
	valStr := getString(key, "")
	if val, err := strconv.ParseBool(valStr); err == nil {
		return val
	}

	return defaultValue
}

func getAmount(key string, defaultValue string) *uint256.Int {
	valStr := strings.TrimSpace(getString(key, defaultValue))
	amount, err := uint256.FromDecimal(valStr)
	if err != nil {
		zap.L().With(zap.String("key", key), zap.Error(err)).Warn("Invalid amount, using default")
		amount, _ = uint256.FromDecimal(defaultValue)
	}

	return amount
}
