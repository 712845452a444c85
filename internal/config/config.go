// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aristath/bondladder/internal/utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	ReturnsPath  string // CSV of monthly equity returns, first column is an index
	YieldsPath   string // CSV of constant-maturity yields; empty means download from FRED
	FREDBaseURL  string
	StrategyPath string // Optional YAML file overriding Strategy
	LogLevel     string
	Pretty       bool
	Strategy     Strategy
}

// Strategy holds the parameters of the bond-ladder allocation run.
// Defaults reproduce the reference 1991-2016 backtest.
type Strategy struct {
	Tau              float64 `yaml:"tau"`               // L1 penalty weight
	InitialFloor     float64 `yaml:"initial_floor"`     // return floor of the first year
	FloorFraction    float64 `yaml:"floor_fraction"`    // ratchet on last realised return
	BondIncrement    float64 `yaml:"bond_increment"`    // face added when a rung is re-issued
	RungFace         float64 `yaml:"rung_face"`         // initial face per rung
	Maturities       []int   `yaml:"maturities"`        // ladder rungs in years
	ReissueMaturity  int     `yaml:"reissue_maturity"`  // maturity of re-issued rungs
	LookbackYears    int     `yaml:"lookback_years"`    // trailing years for expected growth
	CovarianceMonths int     `yaml:"covariance_months"` // trailing months for covariance
	DataStartYear    int     `yaml:"data_start_year"`   // calendar year of the first panel row
	FirstYear        int     `yaml:"first_year"`        // first simulated year
	LastYear         int     `yaml:"last_year"`         // last simulated year, 0 means until data ends

	RoundingDecimals         int     `yaml:"rounding_decimals"`
	RenormalizeAfterRounding bool    `yaml:"renormalize_after_rounding"`
	StrictConstraints        bool    `yaml:"strict_constraints"`
	DegeneracyTolerance      float64 `yaml:"degeneracy_tolerance"`

	Solver SolverSettings `yaml:"solver"`
}

// SolverSettings tunes the ADMM solver.
type SolverSettings struct {
	Rho           float64 `yaml:"rho"` // 0 picks a value from the covariance scale
	AbsTol        float64 `yaml:"abs_tol"`
	RelTol        float64 `yaml:"rel_tol"`
	MaxIterations int     `yaml:"max_iterations"`
}

// DefaultStrategy returns the parameters of the reference run.
func DefaultStrategy() Strategy {
	return Strategy{
		Tau:                 0.7,
		InitialFloor:        0.95,
		FloorFraction:       0.95,
		BondIncrement:       0.05,
		RungFace:            0.05,
		Maturities:          []int{2, 5, 7, 10},
		ReissueMaturity:     10,
		LookbackYears:       5,
		CovarianceMonths:    60,
		DataStartYear:       1986,
		FirstYear:           1991,
		LastYear:            2016,
		RoundingDecimals:    4,
		DegeneracyTolerance: 1e-3,
		Solver: SolverSettings{
			AbsTol:        1e-10,
			RelTol:        1e-9,
			MaxIterations: 50000,
		},
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ReturnsPath:  getEnv("BACKTEST_RETURNS_PATH", "monthlyreturnsNYSE1986.csv"),
		YieldsPath:   getEnv("BACKTEST_YIELDS_PATH", ""),
		FREDBaseURL:  getEnv("FRED_BASE_URL", "https://fred.stlouisfed.org/graph/fredgraph.csv"),
		StrategyPath: getEnv("BACKTEST_STRATEGY_PATH", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Pretty:       getEnvAsBool("LOG_PRETTY", true),
		Strategy:     DefaultStrategy(),
	}

	if cfg.StrategyPath != "" {
		if err := cfg.LoadStrategyFile(cfg.StrategyPath); err != nil {
			return nil, err
		}
	}

	applyStrategyEnv(&cfg.Strategy)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadStrategyFile overlays the YAML file at path onto the current strategy.
// Keys absent from the file keep their current values.
func (c *Config) LoadStrategyFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve strategy path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to read strategy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Strategy); err != nil {
		return fmt.Errorf("failed to parse strategy file %s: %w", absPath, err)
	}
	c.StrategyPath = absPath
	return nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.ReturnsPath == "" {
		return fmt.Errorf("returns path is required")
	}
	return c.Strategy.Validate()
}

// Validate rejects parameter combinations the backtest cannot run with.
func (s Strategy) Validate() error {
	switch {
	case s.Tau < 0:
		return fmt.Errorf("tau must be non-negative, got %v", s.Tau)
	case s.FloorFraction < 0:
		return fmt.Errorf("floor fraction must be non-negative, got %v", s.FloorFraction)
	case s.BondIncrement < 0 || s.RungFace < 0:
		return fmt.Errorf("bond face and increment must be non-negative")
	case len(s.Maturities) == 0:
		return fmt.Errorf("at least one ladder maturity is required")
	case s.ReissueMaturity <= 0:
		return fmt.Errorf("reissue maturity must be positive, got %d", s.ReissueMaturity)
	case s.LookbackYears <= 0:
		return fmt.Errorf("lookback years must be positive, got %d", s.LookbackYears)
	case s.CovarianceMonths < 2 || s.CovarianceMonths > s.LookbackYears*12:
		return fmt.Errorf("covariance window must be within 2..%d months, got %d",
			s.LookbackYears*12, s.CovarianceMonths)
	case s.FirstYear != s.DataStartYear+s.LookbackYears:
		return fmt.Errorf("first year %d must equal data start %d plus lookback %d",
			s.FirstYear, s.DataStartYear, s.LookbackYears)
	case s.LastYear != 0 && s.LastYear < s.FirstYear:
		return fmt.Errorf("last year %d is before first year %d", s.LastYear, s.FirstYear)
	case s.RoundingDecimals < 0:
		return fmt.Errorf("rounding decimals must be non-negative, got %d", s.RoundingDecimals)
	case s.DegeneracyTolerance <= 0:
		return fmt.Errorf("degeneracy tolerance must be positive, got %v", s.DegeneracyTolerance)
	case s.Solver.MaxIterations <= 0:
		return fmt.Errorf("solver max iterations must be positive, got %d", s.Solver.MaxIterations)
	}
	for _, m := range s.Maturities {
		if m <= 0 {
			return fmt.Errorf("ladder maturities must be positive, got %v", s.Maturities)
		}
	}
	return nil
}

func applyStrategyEnv(s *Strategy) {
	s.Tau = getEnvAsFloat("BACKTEST_TAU", s.Tau)
	s.InitialFloor = getEnvAsFloat("BACKTEST_INITIAL_FLOOR", s.InitialFloor)
	s.FloorFraction = getEnvAsFloat("BACKTEST_FLOOR_FRACTION", s.FloorFraction)
	s.BondIncrement = getEnvAsFloat("BACKTEST_BOND_INCREMENT", s.BondIncrement)
	s.LastYear = getEnvAsInt("BACKTEST_LAST_YEAR", s.LastYear)
	s.RenormalizeAfterRounding = getEnvAsBool("BACKTEST_RENORMALIZE", s.RenormalizeAfterRounding)
	s.StrictConstraints = getEnvAsBool("BACKTEST_STRICT", s.StrictConstraints)
	if value := os.Getenv("BACKTEST_MATURITIES"); value != "" {
		if maturities, err := utils.ParseIntList(value); err == nil {
			s.Maturities = maturities
		}
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
