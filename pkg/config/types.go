package config

import (
	"time"

	"github.com/treestandk/wingman/pkg/telemetry"
)

// Config is the full service configuration, loaded from YAML with
// environment overrides for secrets.
type Config struct {
	// Domain is the base domain deployments are created under; the
	// subdomain is prepended to it.
	Domain string `yaml:"domain" validate:"required,fqdn"`

	// PublicIP is the address DNS records point at. Empty means
	// auto-detect at deploy time.
	PublicIP string `yaml:"public_ip" validate:"omitempty,ip"`

	Database    DatabaseConfig    `yaml:"database"`
	Cloudflare  CloudflareConfig  `yaml:"cloudflare" validate:"required"`
	Proxy       ProxyConfig       `yaml:"proxy" validate:"required"`
	UniFi       UniFiConfig       `yaml:"unifi"`
	Pterodactyl PterodactylConfig `yaml:"pterodactyl"`

	Telemetry telemetry.Config `yaml:"telemetry"`
}

// DatabaseConfig locates the deployment state database.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// CloudflareConfig holds DNS provider credentials.
type CloudflareConfig struct {
	APIToken string `yaml:"api_token" validate:"required"`
	ZoneID   string `yaml:"zone_id" validate:"required"`
}

// ProxyConfig holds reverse-proxy (Nginx Proxy Manager) credentials.
type ProxyConfig struct {
	APIURL    string `yaml:"api_url" validate:"required,url"`
	Email     string `yaml:"email" validate:"required,email"`
	Password  string `yaml:"password" validate:"required"`
	CertEmail string `yaml:"cert_email" validate:"omitempty,email"`

	// EnableSSLByDefault requests certificate issuance on every
	// deployment unless the caller overrides it.
	EnableSSLByDefault bool `yaml:"enable_ssl_by_default"`
}

// UniFiConfig holds firewall controller credentials. The firewall step
// is optional: it is skipped entirely when Enabled is false.
type UniFiConfig struct {
	Enabled            bool   `yaml:"enabled"`
	URL                string `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Username           string `yaml:"username" validate:"required_if=Enabled true"`
	Password           string `yaml:"password" validate:"required_if=Enabled true"`
	Site               string `yaml:"site"`
	IsUDM              bool   `yaml:"is_udm"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// PterodactylConfig holds hosting-panel credentials. The panel step is
// optional: it is skipped entirely when Enabled is false.
type PterodactylConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	APIKey  string `yaml:"api_key" validate:"required_if=Enabled true"`
	OwnerID int    `yaml:"owner_id"`

	// Defaults applied when a deployment does not size the server.
	DefaultMemoryMB   int `yaml:"default_memory_mb"`
	DefaultDiskMB     int `yaml:"default_disk_mb"`
	DefaultCPUPercent int `yaml:"default_cpu_percent"`
}

// RequestTimeout bounds each remote call across all adapters.
const RequestTimeout = 30 * time.Second
