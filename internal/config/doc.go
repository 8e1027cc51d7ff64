// Package config loads and validates the hub configuration from YAML.
//
// Load(path) parses the `server:` section of config.yaml, fills defaults,
// and validates ranges. Secrets and webhook URLs are never stored in the
// file; the file names environment variables (secret_env, url_env) and the
// values resolve at read time.
//
// Watch(ctx, path, onChange) hot-reloads the file via fsnotify; the server
// uses it to swap the department routing table without a restart.
package config
