// Package defaults bundles the files installed by "parley init".
package defaults

import _ "embed"

// ConfigYAML is the annotated default configuration file.
//
//go:embed config.yaml
var ConfigYAML []byte
