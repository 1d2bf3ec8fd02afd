package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Resource names inside the configuration filesystem.
const (
	ConfigFile   = "config.properties"
	TestDataFile = "testdata.properties"
)

// EnvPrefix is prepended to the upper-cased, underscore separated key name
// to form the environment variable that overrides it.
const EnvPrefix = "PAYMENTS_E2E_"

const ServiceName = "payments-e2e"

var (
	ErrNotFound       = errors.New("config: key not found")
	ErrParse          = errors.New("config: malformed value")
	ErrInitialization = errors.New("config: resource could not be loaded")
)

// Config holds key/value settings loaded from a properties resource.
// It is read-only once Load returns.
type Config struct {
	name   string
	values map[string]string
}

// Load reads the named key=value resource from fsys. Values present in the
// environment under EnvPrefix take precedence over the file.
func Load(fsys fs.FS, name string) (*Config, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInitialization, name, err)
	}
	defer f.Close()

	values, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInitialization, name, err)
	}

	for key := range values {
		if value := os.Getenv(EnvName(key)); value != "" {
			values[key] = value
		}
	}

	return &Config{name: name, values: values}, nil
}

// FromMap builds a Config directly from values. It is mainly useful in tests.
func FromMap(name string, values map[string]string) *Config {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Config{name: name, values: copied}
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Name returns the resource the config was loaded from.
func (c *Config) Name() string {
	return c.name
}

// Get returns the raw value of key.
func (c *Config) Get(key string) (string, error) {
	value, ok := c.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", ErrNotFound, key, c.name)
	}
	return value, nil
}

// GetOrDefault returns the value of key or fallback when it is absent or empty.
func (c *Config) GetOrDefault(key, fallback string) string {
	if value, ok := c.values[key]; ok && value != "" {
		return value
	}
	return fallback
}

// Int parses key as a base 10 integer.
func (c *Config) Int(key string) (int, error) {
	raw, err := c.Get(key)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrParse, key, raw)
	}
	return i, nil
}

// Millis parses key as an integer number of milliseconds.
func (c *Config) Millis(key string) (time.Duration, error) {
	ms, err := c.Int(key)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("%w: %s=%d is negative", ErrParse, key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Bool parses key as a boolean, returning fallback when the key is absent.
// A present but malformed value is an ErrParse error.
func (c *Config) Bool(key string, fallback bool) (bool, error) {
	raw, ok := c.values[key]
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrParse, key, raw)
	}
	return b, nil
}

func (c *Config) UATPrincipalURL() (string, error) { return c.Get("uat.principal.url") }
func (c *Config) UATSandboxURL() (string, error)   { return c.Get("uat.sandbox.url") }
func (c *Config) PublicKey() (string, error)       { return c.Get("public.key") }
func (c *Config) PrivateKey() (string, error)      { return c.Get("private.key") }
func (c *Config) EventsKey() (string, error)       { return c.Get("events.key") }
func (c *Config) IntegrityKey() (string, error)    { return c.Get("integrity.key") }
func (c *Config) TestAmount() (int, error)         { return c.Int("test.amount") }
func (c *Config) TestCurrency() (string, error)    { return c.Get("test.currency") }
func (c *Config) TestReference() (string, error)   { return c.Get("test.reference") }
func (c *Config) TestDescription() (string, error) { return c.Get("test.description") }

// APITimeout is the maximum acceptable API response time.
func (c *Config) APITimeout() (time.Duration, error) { return c.Millis("api.timeout") }

// TransactionTimeout is how long a payer has to complete bank authentication.
func (c *Config) TransactionTimeout() (time.Duration, error) {
	return c.Millis("transaction.timeout")
}

// OTELEndpoint returns the collector address for traces, metrics and logs.
func (c *Config) OTELEndpoint() string {
	return c.GetOrDefault("otel.endpoint", "localhost:4317")
}
