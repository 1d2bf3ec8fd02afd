package config_test

import (
	"errors"
	"io/fs"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"payments-e2e/config"
	"payments-e2e/resources"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		config.ConfigFile: &fstest.MapFile{Data: []byte(`# comment
uat.principal.url=http://localhost:9999/v1
private.key=prv_test_key
api.timeout=1500
transaction.timeout=abc
scenario.strict=true
`)},
	}
}

func TestLoadAndGet(t *testing.T) {
	cfg, err := config.Load(testFS(), config.ConfigFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	url, err := cfg.UATPrincipalURL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "http://localhost:9999/v1" {
		t.Fatalf("expected principal url, got %q", url)
	}

	timeout, err := cfg.APITimeout()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if timeout != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %s", timeout)
	}

	strict, err := cfg.Bool("scenario.strict", false)
	if err != nil || !strict {
		t.Fatalf("expected scenario.strict=true, got %v (%v)", strict, err)
	}
}

func TestBool(t *testing.T) {
	cfg := config.FromMap("bool.properties", map[string]string{
		"scenario.strict": "ture",
		"otel.enabled":    " false ",
	})

	if _, err := cfg.Bool("scenario.strict", false); !errors.Is(err, config.ErrParse) {
		t.Fatalf("expected ErrParse for a misspelled boolean, got %v", err)
	}

	enabled, err := cfg.Bool("otel.enabled", true)
	if err != nil || enabled {
		t.Fatalf("expected otel.enabled=false, got %v (%v)", enabled, err)
	}

	missing, err := cfg.Bool("absent.key", true)
	if err != nil || !missing {
		t.Fatalf("expected the fallback for an absent key, got %v (%v)", missing, err)
	}
}

func TestGetNotFound(t *testing.T) {
	cfg, err := config.Load(testFS(), config.ConfigFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = cfg.PublicKey()
	if !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := cfg.GetOrDefault("public.key", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestIntParseError(t *testing.T) {
	cfg, err := config.Load(testFS(), config.ConfigFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = cfg.TransactionTimeout()
	if !errors.Is(err, config.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestLoadMissingResource(t *testing.T) {
	_, err := config.Load(fstest.MapFS{}, config.ConfigFile)
	if !errors.Is(err, config.ErrInitialization) {
		t.Fatalf("expected ErrInitialization, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv(config.EnvName("private.key"), "prv_from_env")

	cfg, err := config.Load(testFS(), config.ConfigFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key, _ := cfg.PrivateKey()
	if key != "prv_from_env" {
		t.Fatalf("expected env override, got %q", key)
	}
}

func TestEnvName(t *testing.T) {
	if got := config.EnvName("uat.principal.url"); got != "PAYMENTS_E2E_UAT_PRINCIPAL_URL" {
		t.Fatalf("unexpected env name %q", got)
	}
}

func TestEmbeddedResources(t *testing.T) {
	cfg, err := config.Load(resources.FS, config.ConfigFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, key := range []string{
		"uat.principal.url", "uat.sandbox.url", "public.key", "private.key",
		"events.key", "integrity.key", "test.amount", "test.currency",
		"test.reference", "test.description", "api.timeout", "transaction.timeout",
	} {
		if _, err := cfg.Get(key); err != nil {
			t.Fatalf("embedded config is missing %s: %v", key, err)
		}
	}

	data, err := config.Load(resources.FS, config.TestDataFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := data.Int("test.amount.insufficient"); err != nil {
		t.Fatalf("expected insufficient amount tier: %v", err)
	}
}

// countingFS counts how many times the resource is opened.
type countingFS struct {
	fstest.MapFS
	mu    sync.Mutex
	opens int
}

func (c *countingFS) Open(name string) (fs.File, error) {
	c.mu.Lock()
	c.opens++
	c.mu.Unlock()
	return c.MapFS.Open(name)
}

func TestProviderLoadsOnce(t *testing.T) {
	fsys := &countingFS{MapFS: testFS()}
	p := config.NewProvider(fsys, config.ConfigFile)

	var wg sync.WaitGroup
	results := make([]*config.Config, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, err := p.Config()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = cfg
		}(i)
	}
	wg.Wait()

	if fsys.opens != 1 {
		t.Fatalf("expected a single load, got %d", fsys.opens)
	}
	for _, cfg := range results {
		if cfg != results[0] {
			t.Fatal("expected every caller to observe the same config")
		}
	}
}

func TestProviderKeepsInitializationError(t *testing.T) {
	p := config.NewProvider(fstest.MapFS{}, config.ConfigFile)
	if _, err := p.Config(); !errors.Is(err, config.ErrInitialization) {
		t.Fatalf("expected ErrInitialization, got %v", err)
	}
	if _, err := p.Config(); !errors.Is(err, config.ErrInitialization) {
		t.Fatalf("expected the same error on the second call, got %v", err)
	}
}
