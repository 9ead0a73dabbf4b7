// Package config loads, normalizes, and validates reloader configuration data.
//
// It supplies the repository defaults (the /data/web/nginx -> /etc/nginx/app
// layout, signal based reloads, unprivileged uid/gid 1000), expands user paths,
// and reads TOML files. The Config type centralizes every knob the daemon and
// CLI need; command line flags are applied on top of a loaded Config and the
// result is re-checked with Finalize.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
