package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultOutfile     = "exclude.csv"
	DefaultAnalyst     = "kadrlica"
	DefaultFirstCCD    = 1
	DefaultNumCCDs     = 62
	DefaultStringWidth = 30
	DefaultWorkers     = 1
	DefaultLogLevel    = "info"
)

type Config struct {
	Outfile string
	Analyst string
	// RulesPath points at a YAML or TOML classification rules file. Empty means built-in rules.
	RulesPath string
	// FirstCCD and NumCCDs define the detector range a whole-exposure exclusion expands over.
	FirstCCD     int
	NumCCDs      int
	ReasonWidth  int
	AnalystWidth int
	// Strict turns unparseable data rows into a fatal error.
	Strict   bool
	Workers  int
	LogLevel string
}

func New() (*Config, error) {
	cfg := &Config{
		Outfile:      getEnv("EXCLUDE_OUTFILE", DefaultOutfile),
		Analyst:      getEnv("EXCLUDE_ANALYST", DefaultAnalyst),
		RulesPath:    os.Getenv("EXCLUDE_RULES"),
		FirstCCD:     DefaultFirstCCD,
		NumCCDs:      DefaultNumCCDs,
		ReasonWidth:  DefaultStringWidth,
		AnalystWidth: DefaultStringWidth,
		Workers:      DefaultWorkers,
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
	}

	var err error
	cfg.FirstCCD, err = getEnvAsInt("EXCLUDE_FIRST_CCD", cfg.FirstCCD)
	if err != nil {
		return nil, err
	}

	cfg.NumCCDs, err = getEnvAsInt("EXCLUDE_NUM_CCDS", cfg.NumCCDs)
	if err != nil {
		return nil, err
	}

	cfg.ReasonWidth, err = getEnvAsInt("EXCLUDE_REASON_WIDTH", cfg.ReasonWidth)
	if err != nil {
		return nil, err
	}

	cfg.AnalystWidth, err = getEnvAsInt("EXCLUDE_ANALYST_WIDTH", cfg.AnalystWidth)
	if err != nil {
		return nil, err
	}

	cfg.Strict, err = getEnvAsBool("EXCLUDE_STRICT", false)
	if err != nil {
		return nil, err
	}

	cfg.Workers, err = getEnvAsInt("EXCLUDE_WORKERS", cfg.Workers)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values that flags may have overridden after New.
func (c *Config) Validate() error {
	if c.NumCCDs <= 0 {
		return fmt.Errorf("invalid detector count %d: must be positive", c.NumCCDs)
	}
	if c.FirstCCD < 0 || c.FirstCCD+c.NumCCDs-1 > 1<<15-1 {
		return fmt.Errorf("invalid detector range [%d..%d]: must fit in a 16-bit ccdnum", c.FirstCCD, c.FirstCCD+c.NumCCDs-1)
	}
	if c.ReasonWidth <= 0 || c.AnalystWidth <= 0 {
		return fmt.Errorf("invalid string widths reason=%d analyst=%d: must be positive", c.ReasonWidth, c.AnalystWidth)
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid worker count %d: must be at least 1", c.Workers)
	}
	if strings.TrimSpace(c.Analyst) == "" {
		return fmt.Errorf("analyst must not be empty")
	}
	return nil
}

// CCDNums returns the detector range [FirstCCD, FirstCCD+NumCCDs-1].
func (c *Config) CCDNums() []int16 {
	ccds := make([]int16, c.NumCCDs)
	for i := range ccds {
		ccds[i] = int16(c.FirstCCD + i)
	}
	return ccds
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}

	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: expected a boolean, got '%s'", key, valueStr)
	}

	return value, nil
}
