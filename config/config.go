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
		App        `json:"app"        toml:"app"`
		Engine     `json:"engine"     toml:"engine"`
		Blockchain `json:"blockchain" toml:"blockchain"`
		Fees       `json:"fees"       toml:"fees"`
		Donation   `json:"donation"   toml:"donation"`
		Oracle     `json:"oracle"     toml:"oracle"`
		HTTP       `json:"http"       toml:"http"`
		DB         `json:"db"         toml:"db"`
		Workers    `json:"workers"    toml:"workers"`
		Log        `json:"logger"     toml:"logger"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	// Engine holds the privileged identity for the administrative surface.
	Engine struct {
		AdminAddress string `json:"admin_address" toml:"admin_address" env:"ADMIN_ADDRESS" env-default:"0x0000000000000000000000000000000000000001"`
	}

	Blockchain struct {
		RPCURL       string `json:"rpc_url"       toml:"rpc_url"       env:"RPC_URL" env-default:"https://bsc-dataseed.binance.org/"`
		ChainID      int64  `json:"chain_id"      toml:"chain_id"      env:"CHAIN_ID" env-default:"56"`
		TreasurySeed string `json:"treasury_seed" toml:"treasury_seed" env:"TREASURY_SEED" env-default:"your secure seed phrase here"`
	}

	// Fees carries the fee policy. Deployment snapshots disagree on the exact
	// platform rate, so everything here is configuration, not an invariant.
	Fees struct {
		PlatformBps        int64  `json:"platform_bps"         toml:"platform_bps"         env:"FEE_PLATFORM_BPS" env-default:"30"`
		StablePairBps      int64  `json:"stable_pair_bps"      toml:"stable_pair_bps"      env:"FEE_STABLE_BPS"   env-default:"20"`
		DefaultMerchantBps int64  `json:"default_merchant_bps" toml:"default_merchant_bps" env:"FEE_MERCHANT_BPS" env-default:"0"`
		MaxSlippageBps     int64  `json:"max_slippage_bps"     toml:"max_slippage_bps"     env:"MAX_SLIPPAGE_BPS" env-default:"100"`
		MaxAmount          string `json:"max_amount"           toml:"max_amount"           env:"FEE_MAX_AMOUNT"   env-default:"1000000000000000000000000000000"`
	}

	Donation struct {
		Bps             int64  `json:"bps"              toml:"bps"              env:"DONATION_BPS" env-default:"500"`
		PoolAddress     string `json:"pool_address"     toml:"pool_address"     env:"DONATION_POOL"`
		BronzeThreshold int64  `json:"bronze_threshold" toml:"bronze_threshold" env:"BADGE_BRONZE" env-default:"100"`
		SilverThreshold int64  `json:"silver_threshold" toml:"silver_threshold" env:"BADGE_SILVER" env-default:"500"`
		GoldThreshold   int64  `json:"gold_threshold"   toml:"gold_threshold"   env:"BADGE_GOLD"   env-default:"2000"`
	}

	Oracle struct {
		RequiredSubmissions  int     `json:"required_submissions"    toml:"required_submissions"    env:"ORACLE_REQUIRED_SUBMISSIONS" env-default:"3"`
		WindowSeconds        int     `json:"window_seconds"          toml:"window_seconds"          env:"ORACLE_WINDOW_SEC"           env-default:"300"`
		MaxDeviationBps      int64   `json:"max_deviation_bps"       toml:"max_deviation_bps"       env:"ORACLE_MAX_DEVIATION_BPS"    env-default:"500"`
		AgreementBps         int64   `json:"agreement_bps"           toml:"agreement_bps"           env:"ORACLE_AGREEMENT_BPS"        env-default:"300"`
		MinUpdateIntervalSec int     `json:"min_update_interval_sec" toml:"min_update_interval_sec" env:"ORACLE_MIN_INTERVAL_SEC"     env-default:"10"`
		MinConfidence        float64 `json:"min_confidence"          toml:"min_confidence"          env:"ORACLE_MIN_CONFIDENCE"       env-default:"0.66"`
		MaxStalenessSec      int     `json:"max_staleness_sec"       toml:"max_staleness_sec"       env:"ORACLE_MAX_STALENESS_SEC"    env-default:"900"`
		ReputationStart      int64   `json:"reputation_start"        toml:"reputation_start"        env:"ORACLE_REP_START"            env-default:"500"`
		ReputationCap        int64   `json:"reputation_cap"          toml:"reputation_cap"          env:"ORACLE_REP_CAP"              env-default:"1000"`
		AgreeStep            int64   `json:"agree_step"              toml:"agree_step"              env:"ORACLE_REP_AGREE_STEP"       env-default:"10"`
		DisagreeStep         int64   `json:"disagree_step"           toml:"disagree_step"           env:"ORACLE_REP_DISAGREE_STEP"    env-default:"50"`
		SuspendBelow         int64   `json:"suspend_below"           toml:"suspend_below"           env:"ORACLE_REP_SUSPEND_BELOW"    env-default:"100"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8080"`
	}

	DB struct {
		Enabled           bool   `json:"enabled"             toml:"enabled"             env:"DB_ENABLED" env-default:"false"`
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX" env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK" env-default:"1"`
	}

	Workers struct {
		SweepIntervalSec    int    `json:"sweep_interval_sec"    toml:"sweep_interval_sec"    env:"SWEEP_INTERVAL_SEC"    env-default:"60"`
		ReporterNode        string `json:"reporter_node"         toml:"reporter_node"         env:"REPORTER_NODE"`
		ReporterIntervalSec int    `json:"reporter_interval_sec" toml:"reporter_interval_sec" env:"REPORTER_INTERVAL_SEC" env-default:"30"`
		// ReporterSources is a comma-separated list of PAIR=URL entries,
		// e.g. "USDT/EURC=https://rates.example.com/usdt-eurc".
		ReporterSources string `json:"reporter_sources" toml:"reporter_sources" env:"REPORTER_SOURCES"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}
)

// LogLevel resolves the effective handler level; debug mode forces Debug.
func (c *Config) LogLevel() slog.Level {
	if c.App.Debug {
		return slog.LevelDebug
	}
	return c.Log.Level
}

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
