// Package config reads service settings from the environment, after loading
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/subosito/gotenv"
	"go.uber.org/multierr"

	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/sieve"
)

// HardMaxBound is the largest PRIMES_MAX_BOUND accepted.
const HardMaxBound = sieve.HardMaxBound

type Config struct {
	Port  int
	Debug bool

	JWTSecret string
	JWTExpiry time.Duration
	APIKey    string
	APISecret string
	RateLimit float64

	MaxBound      int
	ChunkSize     int
	MaxConcurrent int
	MemoryBudget  int64
	JobTimeout    time.Duration
	Retention     time.Duration
	DBPath        string
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		Port:          8080,
		JWTSecret:     "change-me-in-production",
		JWTExpiry:     24 * time.Hour,
		APIKey:        "primeworks",
		APISecret:     "primeworks",
		RateLimit:     20,
		MaxBound:      1_000_000,
		ChunkSize:     4096,
		MaxConcurrent: defaultConcurrency(),
		MemoryBudget:  256 << 20,
		Retention:     10 * time.Minute,
		DBPath:        "primeworks.db",
	}
}

// DefaultCredentials lists the credential variables still at their built-in
// values.
func (c Config) DefaultCredentials() []string {
	d := Default()
	var names []string
	if c.JWTSecret == d.JWTSecret {
		names = append(names, "JWT_SECRET")
	}
	if c.APIKey == d.APIKey {
		names = append(names, "API_KEY")
	}
	if c.APISecret == d.APISecret {
		names = append(names, "API_SECRET")
	}
	return names
}

// Load reads .env (if present) and the process environment. Every invalid
// variable is reported, not just the first.
func Load() (Config, error) {
	_ = gotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	p := parser{lookup: lookup}

	p.int("PORT", &c.Port)
	p.bool("DEBUG", &c.Debug)
	p.str("JWT_SECRET", &c.JWTSecret)
	p.duration("JWT_EXPIRY", &c.JWTExpiry)
	p.str("API_KEY", &c.APIKey)
	p.str("API_SECRET", &c.APISecret)
	p.float("RATE_LIMIT", &c.RateLimit)
	p.int("PRIMES_MAX_BOUND", &c.MaxBound)
	p.int("PRIMES_CHUNK_SIZE", &c.ChunkSize)
	p.int("PRIMES_MAX_CONCURRENT", &c.MaxConcurrent)
	p.int64("PRIMES_MEMORY_BUDGET", &c.MemoryBudget)
	p.duration("PRIMES_JOB_TIMEOUT", &c.JobTimeout)
	p.duration("PRIMES_RETENTION", &c.Retention)
	p.str("PRIMES_DB_PATH", &c.DBPath)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var err error
	if c.Port <= 0 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("PORT: %d out of range", c.Port))
	}
	if c.JWTSecret == "" {
		err = multierr.Append(err, fmt.Errorf("JWT_SECRET: must not be empty"))
	}
	if c.JWTExpiry <= 0 {
		err = multierr.Append(err, fmt.Errorf("JWT_EXPIRY: must be positive"))
	}
	if c.RateLimit <= 0 {
		err = multierr.Append(err, fmt.Errorf("RATE_LIMIT: must be positive"))
	}
	if c.MaxBound < 2 || c.MaxBound > HardMaxBound {
		err = multierr.Append(err, fmt.Errorf("PRIMES_MAX_BOUND: %d not in [2, %d]", c.MaxBound, HardMaxBound))
	}
	if c.ChunkSize < 1 {
		err = multierr.Append(err, fmt.Errorf("PRIMES_CHUNK_SIZE: must be at least 1"))
	}
	if c.MaxConcurrent < 1 {
		err = multierr.Append(err, fmt.Errorf("PRIMES_MAX_CONCURRENT: must be at least 1"))
	}
	if c.MemoryBudget < 1 {
		err = multierr.Append(err, fmt.Errorf("PRIMES_MEMORY_BUDGET: must be positive"))
	}
	if c.JobTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("PRIMES_JOB_TIMEOUT: must not be negative"))
	}
	if c.Retention < 0 {
		err = multierr.Append(err, fmt.Errorf("PRIMES_RETENTION: must not be negative"))
	}
	return err
}

// defaultConcurrency is one in-flight sieve per physical core.
func defaultConcurrency() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (p *parser) fail(key, value string, err error) {
	p.err = multierr.Append(p.err, fmt.Errorf("%s: invalid value %q: %w", key, value, err))
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) int(key string, dst *int) {
	if v, ok := p.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) int64(key string, dst *int64) {
	if v, ok := p.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (p *parser) bool(key string, dst *bool) {
	if v, ok := p.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}
