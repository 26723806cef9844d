package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/treestandk/wingman/pkg/deploy"
)

const (
	cloudflareService = "cloudflare"
	cloudflareAPI     = "https://api.cloudflare.com/client/v4"
	ipifyURL          = "https://api.ipify.org"
)

// CloudflareConfig configures the DNS adapter.
type CloudflareConfig struct {
	// APIToken is a scoped token with Zone.DNS permissions.
	APIToken string

	// ZoneID identifies the zone the base domain lives in.
	ZoneID string

	// PublicIP is the address records point at. When empty it is
	// auto-detected on first use.
	PublicIP string

	// BaseURL overrides the API endpoint (tests).
	BaseURL string

	// IPSourceURL overrides the public-IP detection endpoint (tests).
	IPSourceURL string

	// Timeout bounds each remote call.
	Timeout time.Duration
}

// Cloudflare creates and deletes A records through the Cloudflare v4 API.
type Cloudflare struct {
	cfg    CloudflareConfig
	client *http.Client
	logger zerolog.Logger
}

// NewCloudflare creates the DNS adapter.
func NewCloudflare(cfg CloudflareConfig, logger zerolog.Logger) *Cloudflare {
	if cfg.BaseURL == "" {
		cfg.BaseURL = cloudflareAPI
	}
	if cfg.IPSourceURL == "" {
		cfg.IPSourceURL = ipifyURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Cloudflare{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("adapter", cloudflareService).Logger(),
	}
}

// cfEnvelope is the Cloudflare v4 response wrapper.
type cfEnvelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result json.RawMessage `json:"result"`
}

func (e cfEnvelope) errorMessage() string {
	if len(e.Errors) == 0 {
		return "unknown error"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, apiErr := range e.Errors {
		parts = append(parts, fmt.Sprintf("%d: %s", apiErr.Code, apiErr.Message))
	}
	return strings.Join(parts, "; ")
}

func (c *Cloudflare) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIToken}
}

// Create creates one A record for the deployment's fqdn pointed at the
// configured or auto-detected public address.
func (c *Cloudflare) Create(ctx context.Context, in deploy.StepInput) (deploy.ResourceRef, error) {
	publicIP, err := c.publicIP(ctx)
	if err != nil {
		return deploy.ResourceRef{}, err
	}

	body := map[string]any{
		"type":    "A",
		"name":    in.FQDN,
		"content": publicIP,
		"ttl":     1, // automatic
		"proxied": false,
	}

	var env cfEnvelope
	endpoint := fmt.Sprintf("%s/zones/%s/dns_records", c.cfg.BaseURL, c.cfg.ZoneID)
	status, raw, err := doJSON(ctx, c.client, http.MethodPost, endpoint, c.headers(), body, &env)
	if err != nil {
		return deploy.ResourceRef{}, transportError(cloudflareService, "create_record", err)
	}
	if status < 200 || status >= 300 {
		return deploy.ResourceRef{}, statusError(cloudflareService, "create_record", status, trim(raw))
	}
	if !env.Success {
		return deploy.ResourceRef{}, deploy.NewRemoteRejectedError(env.errorMessage(), nil).
			WithService(cloudflareService).WithOp("create_record")
	}

	var record struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Result, &record); err != nil || record.ID == "" {
		return deploy.ResourceRef{}, deploy.NewRemoteRejectedError("response missing record id", err).
			WithService(cloudflareService).WithOp("create_record")
	}

	c.logger.Info().Str("record_id", record.ID).Str("fqdn", in.FQDN).Str("content", publicIP).Msg("dns record created")
	return deploy.ResourceRef{RecordID: record.ID}, nil
}

// Delete removes the A record. A record that is already gone is success.
func (c *Cloudflare) Delete(ctx context.Context, ref deploy.ResourceRef) error {
	if ref.RecordID == "" {
		return nil
	}
	endpoint := fmt.Sprintf("%s/zones/%s/dns_records/%s", c.cfg.BaseURL, c.cfg.ZoneID, ref.RecordID)
	status, raw, err := doJSON(ctx, c.client, http.MethodDelete, endpoint, c.headers(), nil, nil)
	if err != nil {
		return transportError(cloudflareService, "delete_record", err)
	}
	if status == http.StatusNotFound {
		c.logger.Debug().Str("record_id", ref.RecordID).Msg("dns record already gone")
		return nil
	}
	if status < 200 || status >= 300 {
		return statusError(cloudflareService, "delete_record", status, trim(raw))
	}
	c.logger.Info().Str("record_id", ref.RecordID).Msg("dns record deleted")
	return nil
}

// LookupRecord returns the id of an existing A record for the fqdn, or ""
// when none exists. Used by the orchestrator's conflict pre-check.
func (c *Cloudflare) LookupRecord(ctx context.Context, fqdn string) (string, error) {
	endpoint := fmt.Sprintf("%s/zones/%s/dns_records?type=A&name=%s",
		c.cfg.BaseURL, c.cfg.ZoneID, url.QueryEscape(fqdn))

	var env cfEnvelope
	status, raw, err := doJSON(ctx, c.client, http.MethodGet, endpoint, c.headers(), nil, &env)
	if err != nil {
		return "", transportError(cloudflareService, "lookup_record", err)
	}
	if status < 200 || status >= 300 {
		return "", statusError(cloudflareService, "lookup_record", status, trim(raw))
	}
	if !env.Success {
		return "", deploy.NewRemoteRejectedError(env.errorMessage(), nil).
			WithService(cloudflareService).WithOp("lookup_record")
	}

	var records []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Result, &records); err != nil {
		return "", deploy.NewRemoteRejectedError("unexpected lookup response", err).
			WithService(cloudflareService).WithOp("lookup_record")
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].ID, nil
}

// TestConnectivity verifies the API token.
func (c *Cloudflare) TestConnectivity(ctx context.Context) error {
	var env cfEnvelope
	status, raw, err := doJSON(ctx, c.client, http.MethodGet, c.cfg.BaseURL+"/user/tokens/verify", c.headers(), nil, &env)
	if err != nil {
		return transportError(cloudflareService, "verify_token", err)
	}
	if status < 200 || status >= 300 {
		return statusError(cloudflareService, "verify_token", status, trim(raw))
	}
	if !env.Success {
		return deploy.NewAuthError(env.errorMessage(), nil).
			WithService(cloudflareService).WithOp("verify_token")
	}
	return nil
}

// publicIP returns the configured public address, detecting it once via
// the IP source when unset.
func (c *Cloudflare) publicIP(ctx context.Context) (string, error) {
	if c.cfg.PublicIP != "" {
		return c.cfg.PublicIP, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.IPSourceURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", transportError(cloudflareService, "detect_public_ip", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil || resp.StatusCode != http.StatusOK {
		return "", deploy.NewUnreachableError("public ip detection failed", err).
			WithService(cloudflareService).WithOp("detect_public_ip")
	}

	ip := strings.TrimSpace(string(raw))
	c.cfg.PublicIP = ip
	c.logger.Info().Str("public_ip", ip).Msg("public ip detected")
	return ip, nil
}
