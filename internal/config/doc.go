// Package config loads, validates and persists the YAML settings file
// shared by all thunderkeep commands. The install root and cache directory
// can additionally be overridden through the THUNDERKEEP_INSTALL_ROOT and
// THUNDERKEEP_CACHE_DIR environment variables.
package config
