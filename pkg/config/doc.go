// Package config loads the CLI's YAML configuration and applies defaults.
package config
