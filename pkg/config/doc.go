// Package config loads and validates the service configuration: the
// base domain, the state database location, and credentials for the
// DNS, reverse-proxy, firewall, and hosting-panel services. Secrets can
// be supplied through WINGMAN_* environment variables instead of the
// YAML file, and a file watcher supports live reload.
package config
