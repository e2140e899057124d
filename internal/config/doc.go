// Package config loads, validates, and normalizes slidereel configuration
// from TOML files with SLIDEREEL_-prefixed environment overrides.
package config
