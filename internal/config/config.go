package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultPriority is the landfall continent priority, lowest first, over
// the continent names of the World Continents layer.
var DefaultPriority = []string{
	"Antarctica", "Oceania", "Australia", "Asia",
	"Africa", "South America", "North America", "Europe",
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	TracksPath         string `env:"AR_TRACKS_PATH" validate:"required"`
	ContinentsPath     string `env:"CONTINENTS_PATH" validate:"required"`
	ContinentNameField string `env:"CONTINENT_NAME_FIELD" validate:"required"`
	IVTDir             string `env:"IVT_DIR" validate:"required"`
	IVTVariable        string `env:"IVT_VARIABLE" validate:"required"`
	OutputDir          string `env:"OUTPUT_DIR" validate:"required"`

	YearStart int `env:"YEAR_START" validate:"gte=1900,lte=2200"`
	YearEnd   int `env:"YEAR_END" validate:"gtefield=YearStart,lte=2200"`

	// Priority is ascending: the last listed continent wins.
	Priority          []string `env:"LANDFALL_CONTINENT_PRIORITY" validate:"min=1,dive,required"`
	Ellipsoid         string   `env:"ELLIPSOID" validate:"oneof=wgs84 wgs-84 grs80 grs-80 sphere"`
	TieBreak          string   `env:"TIE_BREAK" validate:"oneof=perturb lowest-index"`
	Workers           int      `env:"WORKERS" validate:"gte=1"`
	GridCacheSize     int      `env:"GRID_CACHE_SIZE" validate:"gte=0"`
	DropColumns       []string `env:"DROP_COLUMNS"`
	OutputCompression string   `env:"OUTPUT_COMPRESSION" validate:"oneof=none zstd"`

	HTTPAddr        string        `env:"HTTP_ADDR"`
	LogLevel        string        `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat       string        `env:"LOG_FORMAT" validate:"oneof=json text"`
	LogFile         string        `env:"LOG_FILE"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`

	// The Kafka sink is disabled when KafkaBrokers is empty.
	KafkaBrokers   []string `env:"KAFKA_BROKERS"`
	KafkaSinkTopic string   `env:"KAFKA_SINK_TOPIC" validate:"required_with=KafkaBrokers"`
}

// KafkaEnabled reports whether rows are published to Kafka.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their environment variable.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is read first when
// present; variables already set take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	yearStart, err := requiredInt("YEAR_START")
	if err != nil {
		return nil, err
	}
	yearEnd, err := requiredInt("YEAR_END")
	if err != nil {
		return nil, err
	}
	workers, err := intOrDefault("WORKERS", runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	cacheSize, err := intOrDefault("GRID_CACHE_SIZE", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		TracksPath:         sharedcfg.EnvOrDefault("AR_TRACKS_PATH", "output/ipart/ar/ar_tracks.jsonl"),
		ContinentsPath:     sharedcfg.EnvOrDefault("CONTINENTS_PATH", "WORLD_CONTINENTS/World_Continents.shp"),
		ContinentNameField: sharedcfg.EnvOrDefault("CONTINENT_NAME_FIELD", "CONTINENT"),
		IVTDir:             sharedcfg.EnvOrDefault("IVT_DIR", "output/ivt"),
		IVTVariable:        sharedcfg.EnvOrDefault("IVT_VARIABLE", "ivt"),
		OutputDir:          sharedcfg.EnvOrDefault("OUTPUT_DIR", "output"),
		YearStart:          yearStart,
		YearEnd:            yearEnd,
		Priority:           DefaultPriority,
		Ellipsoid:          strings.ToLower(sharedcfg.EnvOrDefault("ELLIPSOID", "WGS84")),
		TieBreak:           sharedcfg.EnvOrDefault("TIE_BREAK", "perturb"),
		Workers:            workers,
		GridCacheSize:      cacheSize,
		DropColumns:        splitList(sharedcfg.EnvOrDefault("DROP_COLUMNS", "area,length")),
		OutputCompression:  sharedcfg.EnvOrDefault("OUTPUT_COMPRESSION", "none"),
		HTTPAddr:           os.Getenv("HTTP_ADDR"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		LogFile:            os.Getenv("LOG_FILE"),
		ShutdownTimeout:    shutdownTimeout,
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "ar-landfall"),
	}
	if _, ok := os.LookupEnv("HTTP_ADDR"); !ok {
		cfg.HTTPAddr = ":8080"
	}
	if v := os.Getenv("LANDFALL_CONTINENT_PRIORITY"); v != "" {
		cfg.Priority = splitList(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and reports the first offending variable.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	name := fe.Field()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	switch fe.Tag() {
	case "required", "required_with", "min":
		return fmt.Errorf("%s is required", name)
	case "oneof":
		return fmt.Errorf("invalid %s %q: must be one of %s", name, fmt.Sprint(fe.Value()), fe.Param())
	default:
		return fmt.Errorf("invalid %s %v: failed %s", name, fe.Value(), fe.Tag())
	}
}

func requiredInt(key string) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func intOrDefault(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// splitList splits a comma-separated list, trimming blanks around names
// that may themselves contain spaces ("North America").
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
