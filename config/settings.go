// config/settings.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/HSouheill/barrim_referral/models"
)

// Storage drivers accepted in STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Settings is the process configuration, read once at startup.
type Settings struct {
	Port   string
	Env    string
	Driver string

	MongoURI    string
	DBName      string
	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret      string
	PublicBaseURL  string
	AllowedOrigins string

	Currency           string
	CurrencyMinorUnits int32
	MaxDescendantDepth int

	AnalyticsCacheTTL    time.Duration
	AnalyticsRefreshCron string
	RateConfigSeedFile   string
}

// IsDevelopment reports whether ENV names a development environment.
func (s *Settings) IsDevelopment() bool {
	return s.Env == "development" || s.Env == "dev"
}

// Load reads .env when present, then the environment.
func Load() (*Settings, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	s := &Settings{
		Port:                 getenv("PORT", "8080"),
		Env:                  getenv("ENV", "production"),
		Driver:               strings.ToLower(getenv("STORE_DRIVER", DriverMongo)),
		MongoURI:             os.Getenv("MONGO_URI"),
		DBName:               getenv("DB_NAME", "barrim"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		PublicBaseURL:        getenv("PUBLIC_BASE_URL", "https://barrim.online"),
		AllowedOrigins:       os.Getenv("CORS_ALLOWED_ORIGINS"),
		Currency:             getenv("CURRENCY", "PKR"),
		AnalyticsRefreshCron: getenv("ANALYTICS_REFRESH_CRON", "@every 15m"),
		RateConfigSeedFile:   os.Getenv("RATE_CONFIG_SEED_FILE"),
	}
	if s.MongoURI == "" {
		s.MongoURI = os.Getenv("MONGODB_URI")
	}

	var err error
	if s.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	minor, err := getInt("CURRENCY_MINOR_UNITS", 2)
	if err != nil {
		return nil, err
	}
	s.CurrencyMinorUnits = int32(minor)
	if s.MaxDescendantDepth, err = getInt("MAX_DESCENDANT_DEPTH", 10); err != nil {
		return nil, err
	}
	if s.AnalyticsCacheTTL, err = getDuration("ANALYTICS_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	return s, s.validate()
}

func (s *Settings) validate() error {
	switch s.Driver {
	case DriverMemory:
	case DriverMongo:
		if s.MongoURI == "" && !s.IsDevelopment() {
			return errors.New("MONGO_URI or MONGODB_URI environment variable is required for production")
		}
	case DriverPostgres:
		if s.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return errors.Errorf("unknown STORE_DRIVER %q", s.Driver)
	}
	if s.CurrencyMinorUnits < 0 || s.CurrencyMinorUnits > 6 {
		return errors.Errorf("CURRENCY_MINOR_UNITS must be between 0 and 6, got %d", s.CurrencyMinorUnits)
	}
	if s.MaxDescendantDepth < 1 || s.MaxDescendantDepth > 32 {
		return errors.Errorf("MAX_DESCENDANT_DEPTH must be between 1 and 32, got %d", s.MaxDescendantDepth)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	return n, errors.Wrapf(err, "parse %s", key)
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	return d, errors.Wrapf(err, "parse %s", key)
}

// rateConfigSeed is the YAML layout of RATE_CONFIG_SEED_FILE.
type rateConfigSeed struct {
	LevelRates            []string `yaml:"levelRates"`
	MaxLevels             int      `yaml:"maxLevels"`
	MinimumPayout         string   `yaml:"minimumPayout"`
	PayoutSchedule        string   `yaml:"payoutSchedule"`
	TaskCommissionRate    string   `yaml:"taskCommissionRate"`
	ProductCommissionRate string   `yaml:"productCommissionRate"`
	MinimumCreditUnit     string   `yaml:"minimumCreditUnit"`
}

// LoadRateConfigSeed returns the initial rate table: the YAML file when path
// is set, the built-in default otherwise.
func LoadRateConfigSeed(path string) (models.RateConfig, error) {
	if path == "" {
		return models.DefaultRateConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.RateConfig{}, errors.Wrap(err, "read rate config seed")
	}
	return ParseRateConfigSeed(raw)
}

// ParseRateConfigSeed decodes a YAML rate table. Omitted fields keep the defaults.
func ParseRateConfigSeed(raw []byte) (models.RateConfig, error) {
	var seed rateConfigSeed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return models.RateConfig{}, errors.Wrap(err, "parse rate config seed")
	}

	cfg := models.DefaultRateConfig()
	if len(seed.LevelRates) > 0 {
		cfg.LevelRates = make([]decimal.Decimal, len(seed.LevelRates))
		for i, r := range seed.LevelRates {
			d, err := decimal.NewFromString(r)
			if err != nil {
				return models.RateConfig{}, errors.Wrapf(err, "levelRates[%d]", i)
			}
			cfg.LevelRates[i] = d
		}
		cfg.MaxLevels = len(cfg.LevelRates)
	}
	if seed.MaxLevels > 0 {
		cfg.MaxLevels = seed.MaxLevels
	}
	if seed.PayoutSchedule != "" {
		cfg.PayoutSchedule = models.PayoutSchedule(seed.PayoutSchedule)
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"minimumPayout", seed.MinimumPayout, &cfg.MinimumPayout},
		{"taskCommissionRate", seed.TaskCommissionRate, &cfg.TaskCommissionRate},
		{"productCommissionRate", seed.ProductCommissionRate, &cfg.ProductCommissionRate},
		{"minimumCreditUnit", seed.MinimumCreditUnit, &cfg.MinimumCreditUnit},
	} {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return models.RateConfig{}, errors.Wrap(err, f.name)
		}
		*f.dst = d
	}
	return cfg, nil
}
