package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/treestandk/wingman/pkg/deploy"
)

const npmService = "npm"

// NPMConfig configures the reverse-proxy adapter (Nginx Proxy Manager).
type NPMConfig struct {
	// APIURL is the NPM API base, e.g. "http://npm:81/api".
	APIURL string

	// Email and Password are the NPM admin credentials.
	Email    string
	Password string

	// CertEmail is the Let's Encrypt registration email. Falls back to
	// Email when empty.
	CertEmail string

	// Timeout bounds each remote call.
	Timeout time.Duration
}

// NPM creates proxy hosts and, optionally, certificates through the
// Nginx Proxy Manager API. Each operation authenticates afresh for a
// short-lived token; no session state outlives a call.
type NPM struct {
	cfg    NPMConfig
	client *http.Client
	logger zerolog.Logger
}

// NewNPM creates the reverse-proxy adapter.
func NewNPM(cfg NPMConfig, logger zerolog.Logger) *NPM {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CertEmail == "" {
		cfg.CertEmail = cfg.Email
	}
	return &NPM{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("adapter", npmService).Logger(),
	}
}

func (n *NPM) token(ctx context.Context) (string, error) {
	body := map[string]string{"identity": n.cfg.Email, "secret": n.cfg.Password}
	var resp struct {
		Token string `json:"token"`
	}
	status, raw, err := doJSON(ctx, n.client, http.MethodPost, n.cfg.APIURL+"/tokens", nil, body, &resp)
	if err != nil {
		return "", transportError(npmService, "token", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", deploy.NewAuthError("npm rejected credentials", nil).
			WithService(npmService).WithOp("token").WithStatus(status)
	}
	if status < 200 || status >= 300 || resp.Token == "" {
		return "", statusError(npmService, "token", status, trim(raw))
	}
	return resp.Token, nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// Create creates a proxy host mapping the public domain to the internal
// address and port. When SSL is requested it then asks for a Let's
// Encrypt certificate and attaches it; certificate failure is reported
// through in.Warn and does not fail the step, since the proxy host is
// functional without TLS.
func (n *NPM) Create(ctx context.Context, in deploy.StepInput) (deploy.ResourceRef, error) {
	token, err := n.token(ctx)
	if err != nil {
		return deploy.ResourceRef{}, err
	}

	host := map[string]any{
		"domain_names":            []string{in.FQDN},
		"forward_scheme":          "http",
		"forward_host":            in.ServerIP,
		"forward_port":            in.GamePort,
		"access_list_id":          0,
		"certificate_id":          0,
		"ssl_forced":              false,
		"block_exploits":          true,
		"allow_websocket_upgrade": true,
	}

	var created struct {
		ID int `json:"id"`
	}
	status, raw, err := doJSON(ctx, n.client, http.MethodPost, n.cfg.APIURL+"/nginx/proxy-hosts", bearer(token), host, &created)
	if err != nil {
		return deploy.ResourceRef{}, transportError(npmService, "create_proxy_host", err)
	}
	if status < 200 || status >= 300 || created.ID == 0 {
		return deploy.ResourceRef{}, statusError(npmService, "create_proxy_host", status, trim(raw))
	}

	ref := deploy.ResourceRef{ProxyHostID: created.ID}
	n.logger.Info().Int("proxy_host_id", created.ID).Str("fqdn", in.FQDN).Msg("proxy host created")

	if in.EnableSSL {
		certID, certErr := n.issueCertificate(ctx, token, in.FQDN)
		if certErr != nil {
			in.Warn(fmt.Sprintf("certificate issuance for %s failed, proxy host is reachable over http only: %v", in.FQDN, certErr))
			return ref, nil
		}
		ref.CertificateID = certID

		if attachErr := n.attachCertificate(ctx, token, created.ID, certID, host); attachErr != nil {
			in.Warn(fmt.Sprintf("certificate %d issued but could not be attached to proxy host %d: %v", certID, created.ID, attachErr))
		} else {
			n.logger.Info().Int("certificate_id", certID).Int("proxy_host_id", created.ID).Msg("certificate attached")
		}
	}
	return ref, nil
}

func (n *NPM) issueCertificate(ctx context.Context, token, fqdn string) (int, error) {
	body := map[string]any{
		"provider":     "letsencrypt",
		"domain_names": []string{fqdn},
		"meta": map[string]any{
			"letsencrypt_agree": true,
			"letsencrypt_email": n.cfg.CertEmail,
		},
	}
	var created struct {
		ID int `json:"id"`
	}
	status, raw, err := doJSON(ctx, n.client, http.MethodPost, n.cfg.APIURL+"/nginx/certificates", bearer(token), body, &created)
	if err != nil {
		return 0, transportError(npmService, "create_certificate", err)
	}
	if status < 200 || status >= 300 || created.ID == 0 {
		return 0, statusError(npmService, "create_certificate", status, trim(raw))
	}
	return created.ID, nil
}

func (n *NPM) attachCertificate(ctx context.Context, token string, hostID, certID int, host map[string]any) error {
	host["certificate_id"] = certID
	host["ssl_forced"] = true
	endpoint := fmt.Sprintf("%s/nginx/proxy-hosts/%d", n.cfg.APIURL, hostID)
	status, raw, err := doJSON(ctx, n.client, http.MethodPut, endpoint, bearer(token), host, nil)
	if err != nil {
		return transportError(npmService, "update_proxy_host", err)
	}
	if status < 200 || status >= 300 {
		return statusError(npmService, "update_proxy_host", status, trim(raw))
	}
	return nil
}

// Delete removes the proxy host and, when one was issued, its
// certificate. Resources already gone count as removed.
func (n *NPM) Delete(ctx context.Context, ref deploy.ResourceRef) error {
	if ref.ProxyHostID == 0 && ref.CertificateID == 0 {
		return nil
	}
	token, err := n.token(ctx)
	if err != nil {
		return err
	}

	if ref.ProxyHostID != 0 {
		endpoint := fmt.Sprintf("%s/nginx/proxy-hosts/%d", n.cfg.APIURL, ref.ProxyHostID)
		status, raw, err := doJSON(ctx, n.client, http.MethodDelete, endpoint, bearer(token), nil, nil)
		if err != nil {
			return transportError(npmService, "delete_proxy_host", err)
		}
		if status != http.StatusNotFound && (status < 200 || status >= 300) {
			return statusError(npmService, "delete_proxy_host", status, trim(raw))
		}
		n.logger.Info().Int("proxy_host_id", ref.ProxyHostID).Msg("proxy host deleted")
	}

	if ref.CertificateID != 0 {
		endpoint := fmt.Sprintf("%s/nginx/certificates/%d", n.cfg.APIURL, ref.CertificateID)
		status, raw, err := doJSON(ctx, n.client, http.MethodDelete, endpoint, bearer(token), nil, nil)
		if err != nil {
			return transportError(npmService, "delete_certificate", err)
		}
		if status != http.StatusNotFound && (status < 200 || status >= 300) {
			return statusError(npmService, "delete_certificate", status, trim(raw))
		}
	}
	return nil
}

// TestConnectivity probes the API root. NPM answers 401 there without a
// token, which still proves the service is reachable.
func (n *NPM) TestConnectivity(ctx context.Context) error {
	status, _, err := doJSON(ctx, n.client, http.MethodGet, n.cfg.APIURL, nil, nil, nil)
	if err != nil {
		return transportError(npmService, "probe", err)
	}
	switch status {
	case http.StatusOK, http.StatusUnauthorized, http.StatusNotFound:
		return nil
	default:
		return statusError(npmService, "probe", status, "")
	}
}
