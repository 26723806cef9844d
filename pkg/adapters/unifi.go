package adapters

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/rs/zerolog"

	"github.com/treestandk/wingman/pkg/deploy"
)

const unifiService = "unifi"

// UniFiConfig configures the port-forwarding adapter.
type UniFiConfig struct {
	// URL is the controller base URL, including scheme.
	URL string

	// Username and Password are local-admin credentials.
	Username string
	Password string

	// Site is the controller site name.
	Site string

	// IsUDM switches to the UDM/UniFi OS path layout and login endpoint.
	IsUDM bool

	// InsecureSkipVerify accepts the controller's self-signed cert.
	InsecureSkipVerify bool

	// Timeout bounds each remote call.
	Timeout time.Duration
}

// UniFi creates and deletes port-forward rules through the controller
// API. Every operation opens a fresh authenticated session; no session
// state is retained across calls.
type UniFi struct {
	cfg    UniFiConfig
	logger zerolog.Logger
}

// NewUniFi creates the port-forwarding adapter.
func NewUniFi(cfg UniFiConfig, logger zerolog.Logger) *UniFi {
	if cfg.Site == "" {
		cfg.Site = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &UniFi{
		cfg:    cfg,
		logger: logger.With().Str("adapter", unifiService).Logger(),
	}
}

// unifiSession is one authenticated controller session: a cookie-holding
// client plus the CSRF token UniFi OS controllers require on writes.
type unifiSession struct {
	client *http.Client
	csrf   string
}

func (u *UniFi) login(ctx context.Context) (*unifiSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: u.cfg.Timeout, Jar: jar}
	if u.cfg.InsecureSkipVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	loginURL := u.cfg.URL + "/api/login"
	if u.cfg.IsUDM {
		loginURL = u.cfg.URL + "/api/auth/login"
	}

	body := map[string]string{"username": u.cfg.Username, "password": u.cfg.Password}
	req, err := jsonRequest(ctx, http.MethodPost, loginURL, body)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(unifiService, "login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, deploy.NewAuthError("controller rejected credentials", nil).
			WithService(unifiService).WithOp("login").WithStatus(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(unifiService, "login", resp.StatusCode, "")
	}

	return &unifiSession{client: client, csrf: resp.Header.Get("X-Csrf-Token")}, nil
}

// apiURL builds a network-application API path. UniFi OS gateways prefix
// the network application behind /proxy/network.
func (u *UniFi) apiURL(path string) string {
	if u.cfg.IsUDM {
		return fmt.Sprintf("%s/proxy/network/api/s/%s/%s", u.cfg.URL, u.cfg.Site, path)
	}
	return fmt.Sprintf("%s/api/s/%s/%s", u.cfg.URL, u.cfg.Site, path)
}

func (s *unifiSession) headers() map[string]string {
	if s.csrf == "" {
		return nil
	}
	return map[string]string{"X-Csrf-Token": s.csrf}
}

// unifiEnvelope is the controller response wrapper.
type unifiEnvelope struct {
	Meta struct {
		RC      string `json:"rc"`
		Message string `json:"msg"`
	} `json:"meta"`
	Data []struct {
		ID string `json:"_id"`
	} `json:"data"`
}

// Create adds one port-forward rule per requested port. A later port
// failing does not discard the rules already created: the returned ref
// carries their ids so they remain individually reversible.
func (u *UniFi) Create(ctx context.Context, in deploy.StepInput) (deploy.ResourceRef, error) {
	session, err := u.login(ctx)
	if err != nil {
		return deploy.ResourceRef{}, err
	}

	ref := deploy.ResourceRef{}
	for _, spec := range in.Ports {
		rule := map[string]any{
			"name":           fmt.Sprintf("%s-%d", in.Subdomain, spec.Port),
			"enabled":        true,
			"pfwd_interface": "wan",
			"src":            "any",
			"dst_port":       fmt.Sprintf("%d", spec.Port),
			"fwd":            in.ServerIP,
			"fwd_port":       fmt.Sprintf("%d", spec.Port),
			"proto":          string(spec.Protocol),
		}

		var env unifiEnvelope
		status, raw, err := doJSON(ctx, session.client, http.MethodPost, u.apiURL("rest/portforward"), session.headers(), rule, &env)
		if err != nil {
			return ref, transportError(unifiService, "create_rule", err)
		}
		if status < 200 || status >= 300 {
			return ref, statusError(unifiService, "create_rule", status, trim(raw))
		}
		if env.Meta.RC != "ok" || len(env.Data) == 0 {
			return ref, deploy.NewRemoteRejectedError(
				fmt.Sprintf("controller refused rule for port %d: %s", spec.Port, env.Meta.Message), nil).
				WithService(unifiService).WithOp("create_rule")
		}

		ref.RuleIDs = append(ref.RuleIDs, env.Data[0].ID)
		u.logger.Info().Str("rule_id", env.Data[0].ID).Int("port", spec.Port).Msg("port forward created")
	}
	return ref, nil
}

// Delete removes every rule in the ref. Rules already gone count as
// removed; the walk continues past individual failures and reports them
// together.
func (u *UniFi) Delete(ctx context.Context, ref deploy.ResourceRef) error {
	if len(ref.RuleIDs) == 0 {
		return nil
	}
	session, err := u.login(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ref.RuleIDs {
		status, raw, err := doJSON(ctx, session.client, http.MethodDelete, u.apiURL("rest/portforward/"+id), session.headers(), nil, nil)
		if err != nil {
			errs = append(errs, transportError(unifiService, "delete_rule", err))
			continue
		}
		if status == http.StatusNotFound {
			u.logger.Debug().Str("rule_id", id).Msg("port forward already gone")
			continue
		}
		if status < 200 || status >= 300 {
			errs = append(errs, statusError(unifiService, "delete_rule", status, trim(raw)))
			continue
		}
		u.logger.Info().Str("rule_id", id).Msg("port forward deleted")
	}
	return errors.Join(errs...)
}

// TestConnectivity logs in and reads the current session.
func (u *UniFi) TestConnectivity(ctx context.Context) error {
	session, err := u.login(ctx)
	if err != nil {
		return err
	}
	status, raw, err := doJSON(ctx, session.client, http.MethodGet, u.apiURL("self"), session.headers(), nil, nil)
	if err != nil {
		return transportError(unifiService, "self", err)
	}
	if status < 200 || status >= 300 {
		return statusError(unifiService, "self", status, trim(raw))
	}
	return nil
}
