package config

import (
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres" validate:"oneof=postgres memory"`

	RedisAuctionsHost     string `env:"REDIS_AUCTIONS_HOST"     envDefault:"localhost"`
	RedisAuctionsPort     uint16 `env:"REDIS_AUCTIONS_PORT"     envDefault:"6379"   validate:"min=1000,max=65535"`
	RedisAuctionsPassword string `env:"REDIS_AUCTIONS_PASSWORD"`
	RedisAuctionsDb       int    `env:"REDIS_AUCTIONS_DB"       envDefault:"0"      validate:"min=0,max=15"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"auction_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"auction_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"auction_db"`

	BidMinIncrement decimal.Decimal `env:"BID_MIN_INCREMENT" envDefault:"2" validate:"gt=0"`

	SweepInterval        time.Duration `env:"SWEEP_INTERVAL"         envDefault:"15s" validate:"min=1s"`
	SweepBatchSize       int           `env:"SWEEP_BATCH_SIZE"       envDefault:"100" validate:"min=1,max=10000"`
	SettlementRetryAfter time.Duration `env:"SETTLEMENT_RETRY_AFTER" envDefault:"5m"  validate:"min=0s"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`
	LogFormat      string `env:"LOG_FORMAT"       envDefault:"console" validate:"oneof=console json"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	// Parse config from environment variables
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	if err := validate.Struct(cfg); err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}

// decimalValue lets numeric validation tags apply to decimal fields.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}
