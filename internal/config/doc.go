// Package config loads and validates service configuration from the
// environment.
package config
