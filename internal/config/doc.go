// Package config loads the receiver's YAML configuration.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets (client secret, database password) can stay out of the file.
package config
