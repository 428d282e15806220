// Package config loads, normalizes, and validates bookvoice configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks such as GEMINI_API_KEY. The Config type centralizes
// every knob the daemon and CLI need so output directories, speech API
// credentials, and pipeline timings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
