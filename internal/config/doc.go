// Package config loads, normalizes, and validates fieldnotes configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENROUTER_API_KEY. The Config type centralizes every knob the CLI and the
// daemon need: database location, LLM endpoint, pipeline retry and timeout
// policy, and the HTTP listener.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical log formats, and clear validation errors.
package config
