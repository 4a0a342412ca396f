// Package config loads relay configuration from JSON or YAML files with a
// WHISPER_* environment overlay. File values override defaults; environment
// variables override both.
package config
