package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App          `json:"app"          toml:"app"`
		HTTP         `json:"http"         toml:"http"`
		DB           `json:"db"           toml:"db"`
		Log          `json:"logger"       toml:"logger"`
		Verification `json:"verification" toml:"verification"`
		Explorers    `json:"explorers"    toml:"explorers"`
		Prices       `json:"prices"       toml:"prices"`
		Workers      `json:"workers"      toml:"workers"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8080"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX"          env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK"  env-default:"1"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}

	// Verification tunes the orchestrator. Zero values fall back to the built-in defaults.
	Verification struct {
		AmountTolerance float64           `json:"amount_tolerance" toml:"amount_tolerance" env:"VERIFY_AMOUNT_TOLERANCE" env-default:"0.001"`
		TimeoutSeconds  int               `json:"timeout_seconds"  toml:"timeout_seconds"  env:"VERIFY_TIMEOUT"          env-default:"10"`
		Confirmations   map[string]uint64 `json:"confirmations"    toml:"confirmations"    env:"VERIFY_CONFIRMATIONS"`
		PoolSizes       map[string]int    `json:"pool_sizes"       toml:"pool_sizes"       env:"VERIFY_POOL_SIZES"`
	}

	Explorers struct {
		Tron     Explorer `json:"tron"     toml:"tron"     env-prefix:"TRON_"`
		Ethereum Explorer `json:"ethereum" toml:"ethereum" env-prefix:"ETHERSCAN_"`
		BSC      Explorer `json:"bsc"      toml:"bsc"      env-prefix:"BSCSCAN_"`
		Bitcoin  Explorer `json:"bitcoin"  toml:"bitcoin"  env-prefix:"ESPLORA_"`
	}

	// Explorer describes one block explorer endpoint. Empty URL selects the public default.
	// Only transfer calls to TokenContracts are read as token payments.
	Explorer struct {
		URL            string   `json:"url"             toml:"url"             env:"URL"`
		APIKey         string   `json:"api_key"         toml:"api_key"         env:"API_KEY"`
		RateLimit      float64  `json:"rate_limit"      toml:"rate_limit"      env:"RATE_LIMIT"      env-default:"5"`
		TimeoutSeconds int      `json:"timeout_seconds" toml:"timeout_seconds" env:"TIMEOUT_SECONDS" env-default:"10"`
		TokenDecimals  int32    `json:"token_decimals"  toml:"token_decimals"  env:"TOKEN_DECIMALS"`
		TokenContracts []string `json:"token_contracts" toml:"token_contracts" env:"TOKEN_CONTRACTS" env-separator:","`
	}

	Prices struct {
		URL             string `json:"url"               toml:"url"               env:"COINGECKO_URL"     env-default:"https://api.coingecko.com/api/v3"`
		APIKey          string `json:"api_key"           toml:"api_key"           env:"COINGECKO_API_KEY"`
		CacheTTLSeconds int    `json:"cache_ttl_seconds" toml:"cache_ttl_seconds" env:"PRICES_CACHE_TTL"  env-default:"60"`
		TimeoutSeconds  int    `json:"timeout_seconds"   toml:"timeout_seconds"   env:"PRICES_TIMEOUT"    env-default:"5"`
	}

	Workers struct {
		Enabled            bool `json:"enabled"              toml:"enabled"              env:"RECHECK_ENABLED"      env-default:"true"`
		IntervalSeconds    int  `json:"interval_seconds"     toml:"interval_seconds"     env:"RECHECK_INTERVAL"     env-default:"60"`
		BatchSize          int  `json:"batch_size"           toml:"batch_size"           env:"RECHECK_BATCH_SIZE"   env-default:"50"`
		MaxAttempts        int  `json:"max_attempts"         toml:"max_attempts"         env:"RECHECK_MAX_ATTEMPTS" env-default:"20"`
		BackoffBaseSeconds int  `json:"backoff_base_seconds" toml:"backoff_base_seconds" env:"RECHECK_BACKOFF_BASE" env-default:"30"`
		BackoffMaxSeconds  int  `json:"backoff_max_seconds"  toml:"backoff_max_seconds"  env:"RECHECK_BACKOFF_MAX"  env-default:"1800"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	return cfg, nil
}
