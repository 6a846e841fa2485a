// Package config loads djt configuration from defaults, an optional YAML
// file, a .env file and DJT_* environment variables, in increasing order of
// precedence, and validates the result.
package config
