// Package config provides centralized configuration management for the
// daemon, loading a JSON file and filling in sensible defaults for the
// server, session store, event queue, reasoning provider, and execution
// service settings. Secrets resolve from environment variables first.
package config
