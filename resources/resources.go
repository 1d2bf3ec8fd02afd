// Package resources embeds the default configuration, test data and
// scenario features.
package resources

import "embed"

// FS holds config.properties, testdata.properties and features/*.feature.
//
//go:embed config.properties testdata.properties features/*.feature
var FS embed.FS

// FeatureGlob matches the scenario features inside FS or a config directory.
const FeatureGlob = "features/*.feature"
