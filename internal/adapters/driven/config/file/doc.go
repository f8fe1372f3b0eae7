// Package file provides the file-based configuration adapter.
//
// ConfigStore reads and writes config.toml. Load layers config.toml, an
// optional .env file and the process environment over the built-in defaults
// and returns an immutable domain.Settings value.
package file
