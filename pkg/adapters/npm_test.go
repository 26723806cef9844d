package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/treestandk/wingman/pkg/deploy"
)

// fakeNPM serves the token endpoint plus whatever extra routes a test
// registers on mux.
func fakeNPM(mux *http.ServeMux) *httptest.Server {
	mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["identity"] != "admin@example.com" || creds["secret"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "jwt-token"})
	})
	return httptest.NewServer(mux)
}

func npmConfig(srv *httptest.Server) NPMConfig {
	return NPMConfig{APIURL: srv.URL, Email: "admin@example.com", Password: "pw"}
}

func TestNPMCreateProxyHost(t *testing.T) {
	var gotHost map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/nginx/proxy-hosts", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer jwt-token" {
			t.Errorf("auth header = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&gotHost)
		json.NewEncoder(w).Encode(map[string]int{"id": 42})
	})
	srv := fakeNPM(mux)
	defer srv.Close()

	n := NewNPM(npmConfig(srv), zerolog.Nop())

	ref, err := n.Create(context.Background(), deploy.StepInput{
		FQDN:     "mc.example.com",
		ServerIP: "192.168.1.50",
		GamePort: 25565,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ref.ProxyHostID != 42 {
		t.Errorf("proxy host id = %d, want 42", ref.ProxyHostID)
	}
	if ref.CertificateID != 0 {
		t.Errorf("certificate id = %d, want 0 without ssl", ref.CertificateID)
	}
	domains, _ := gotHost["domain_names"].([]any)
	if len(domains) != 1 || domains[0] != "mc.example.com" {
		t.Errorf("domain_names = %v", gotHost["domain_names"])
	}
	if gotHost["forward_host"] != "192.168.1.50" || gotHost["forward_port"] != float64(25565) {
		t.Errorf("forward target = %v:%v", gotHost["forward_host"], gotHost["forward_port"])
	}
}

func TestNPMCreateWithCertificate(t *testing.T) {
	var attached map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/nginx/proxy-hosts", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"id": 7})
	})
	mux.HandleFunc("/nginx/proxy-hosts/7", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&attached)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/nginx/certificates", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["provider"] != "letsencrypt" {
			t.Errorf("certificate provider = %v", body["provider"])
		}
		json.NewEncoder(w).Encode(map[string]int{"id": 99})
	})
	srv := fakeNPM(mux)
	defer srv.Close()

	n := NewNPM(npmConfig(srv), zerolog.Nop())

	ref, err := n.Create(context.Background(), deploy.StepInput{
		FQDN:      "mc.example.com",
		ServerIP:  "192.168.1.50",
		GamePort:  25565,
		EnableSSL: true,
		Warn:      func(string) { t.Error("unexpected warning") },
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ref.ProxyHostID != 7 || ref.CertificateID != 99 {
		t.Errorf("ref = %+v", ref)
	}
	if attached["certificate_id"] != float64(99) || attached["ssl_forced"] != true {
		t.Errorf("attach payload = %v", attached)
	}
}

func TestNPMCertificateFailureIsWarningOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/nginx/proxy-hosts", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"id": 7})
	})
	mux.HandleFunc("/nginx/certificates", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"acme challenge failed"}`))
	})
	srv := fakeNPM(mux)
	defer srv.Close()

	n := NewNPM(npmConfig(srv), zerolog.Nop())

	var warning string
	ref, err := n.Create(context.Background(), deploy.StepInput{
		FQDN:      "mc.example.com",
		ServerIP:  "192.168.1.50",
		GamePort:  25565,
		EnableSSL: true,
		Warn:      func(msg string) { warning = msg },
	})
	if err != nil {
		t.Fatalf("certificate failure must not fail the step, got %v", err)
	}
	if ref.ProxyHostID != 7 {
		t.Errorf("proxy host id = %d", ref.ProxyHostID)
	}
	if ref.CertificateID != 0 {
		t.Errorf("certificate id = %d, want 0 after failed issuance", ref.CertificateID)
	}
	if !strings.Contains(warning, "mc.example.com") {
		t.Errorf("warning = %q", warning)
	}
}

func TestNPMDeleteHostAndCertificate(t *testing.T) {
	var deletedHost, deletedCert bool
	mux := http.NewServeMux()
	mux.HandleFunc("/nginx/proxy-hosts/7", func(w http.ResponseWriter, r *http.Request) {
		deletedHost = r.Method == http.MethodDelete
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/nginx/certificates/99", func(w http.ResponseWriter, r *http.Request) {
		deletedCert = r.Method == http.MethodDelete
		w.WriteHeader(http.StatusOK)
	})
	srv := fakeNPM(mux)
	defer srv.Close()

	n := NewNPM(npmConfig(srv), zerolog.Nop())

	if err := n.Delete(context.Background(), deploy.ResourceRef{ProxyHostID: 7, CertificateID: 99}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deletedHost || !deletedCert {
		t.Errorf("deleted host=%v cert=%v", deletedHost, deletedCert)
	}
}

func TestNPMDeleteMissingHostIsSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/nginx/proxy-hosts/7", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := fakeNPM(mux)
	defer srv.Close()

	n := NewNPM(npmConfig(srv), zerolog.Nop())

	if err := n.Delete(context.Background(), deploy.ResourceRef{ProxyHostID: 7}); err != nil {
		t.Fatalf("Delete of missing host should succeed, got %v", err)
	}
}

func TestNPMTokenRejected(t *testing.T) {
	mux := http.NewServeMux()
	srv := fakeNPM(mux)
	defer srv.Close()

	cfg := npmConfig(srv)
	cfg.Password = "wrong"
	n := NewNPM(cfg, zerolog.Nop())

	_, err := n.Create(context.Background(), deploy.StepInput{FQDN: "a.example.com", GamePort: 80})
	if !deploy.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
