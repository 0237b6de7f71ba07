// Package defaults provides an embedded copy of the default
// configuration for the recall init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte
