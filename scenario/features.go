package scenario

import (
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/cucumber/godog"

	"payments-e2e/resources"
)

var ErrNoFeatures = errors.New("scenario: no feature files found")

// LoadFeatures reads every resources.FeatureGlob file in fsys, sorted by
// name.
func LoadFeatures(fsys fs.FS) ([]godog.Feature, error) {
	names, err := fs.Glob(fsys, resources.FeatureGlob)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNoFeatures
	}

	features := make([]godog.Feature, 0, len(names))
	for _, name := range names {
		contents, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read feature %s: %w", name, err)
		}
		features = append(features, godog.Feature{Name: path.Base(name), Contents: contents})
	}
	return features, nil
}

// Catalog returns the built-in payment features.
func Catalog() []godog.Feature {
	features, err := LoadFeatures(resources.FS)
	if err != nil {
		panic(err)
	}
	return features
}
