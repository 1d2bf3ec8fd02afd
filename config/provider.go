package config

import (
	"io/fs"
	"sync"
)

// Provider loads a Config at most once. Concurrent first callers block until
// the single load finishes and then all observe the same result.
type Provider struct {
	fsys fs.FS
	name string

	once sync.Once
	cfg  *Config
	err  error
}

func NewProvider(fsys fs.FS, name string) *Provider {
	return &Provider{fsys: fsys, name: name}
}

// Config returns the loaded configuration, loading it on first use.
func (p *Provider) Config() (*Config, error) {
	p.once.Do(func() {
		p.cfg, p.err = Load(p.fsys, p.name)
	})
	return p.cfg, p.err
}

// MustConfig is like Config but panics when the resource cannot be loaded.
func (p *Provider) MustConfig() *Config {
	cfg, err := p.Config()
	if err != nil {
		panic(err)
	}
	return cfg
}
