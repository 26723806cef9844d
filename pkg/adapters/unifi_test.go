package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/treestandk/wingman/pkg/deploy"
)

// fakeController is a minimal UniFi controller: a legacy-layout login plus
// a scripted portforward endpoint.
func fakeController(t *testing.T, onRule func(n int, w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	rules := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["username"] != "admin" || creds["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "unifises", Value: "sess"})
		w.Write([]byte(`{"meta":{"rc":"ok"}}`))
	})
	mux.HandleFunc("/api/s/default/rest/portforward", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		rules++
		onRule(rules, w, body)
	})
	return httptest.NewServer(mux)
}

func okRule(n int, w http.ResponseWriter, _ map[string]any) {
	fmt.Fprintf(w, `{"meta":{"rc":"ok"},"data":[{"_id":"rule-%d"}]}`, n)
}

func TestUniFiCreateOneRulePerPort(t *testing.T) {
	var payloads []map[string]any
	srv := fakeController(t, func(n int, w http.ResponseWriter, body map[string]any) {
		payloads = append(payloads, body)
		okRule(n, w, body)
	})
	defer srv.Close()

	u := NewUniFi(UniFiConfig{URL: srv.URL, Username: "admin", Password: "pw"}, zerolog.Nop())

	ref, err := u.Create(context.Background(), deploy.StepInput{
		Subdomain: "mc",
		ServerIP:  "192.168.1.50",
		Ports: []deploy.PortSpec{
			{Port: 25565, Protocol: deploy.ProtocolTCPUDP},
			{Port: 25566, Protocol: deploy.ProtocolUDP},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(ref.RuleIDs) != 2 || ref.RuleIDs[0] != "rule-1" || ref.RuleIDs[1] != "rule-2" {
		t.Errorf("rule ids = %v", ref.RuleIDs)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected 2 rules posted, got %d", len(payloads))
	}
	first := payloads[0]
	if first["name"] != "mc-25565" || first["dst_port"] != "25565" || first["fwd"] != "192.168.1.50" {
		t.Errorf("unexpected rule payload: %v", first)
	}
	if payloads[1]["proto"] != "udp" {
		t.Errorf("second rule proto = %v, want udp", payloads[1]["proto"])
	}
}

func TestUniFiCreateKeepsPartialRef(t *testing.T) {
	srv := fakeController(t, func(n int, w http.ResponseWriter, body map[string]any) {
		if n > 1 {
			w.Write([]byte(`{"meta":{"rc":"error","msg":"api.err.Invalid"}}`))
			return
		}
		okRule(n, w, body)
	})
	defer srv.Close()

	u := NewUniFi(UniFiConfig{URL: srv.URL, Username: "admin", Password: "pw"}, zerolog.Nop())

	ref, err := u.Create(context.Background(), deploy.StepInput{
		Subdomain: "mc",
		ServerIP:  "192.168.1.50",
		Ports: []deploy.PortSpec{
			{Port: 25565, Protocol: deploy.ProtocolTCP},
			{Port: 25566, Protocol: deploy.ProtocolTCP},
		},
	})
	if err == nil {
		t.Fatal("expected error for rejected second rule")
	}
	if !deploy.IsRemoteRejected(err) {
		t.Errorf("expected remote_rejected, got %v", err)
	}
	if len(ref.RuleIDs) != 1 || ref.RuleIDs[0] != "rule-1" {
		t.Errorf("partial ref should keep the created rule, got %v", ref.RuleIDs)
	}
}

func TestUniFiCreateBadCredentials(t *testing.T) {
	srv := fakeController(t, okRule)
	defer srv.Close()

	u := NewUniFi(UniFiConfig{URL: srv.URL, Username: "admin", Password: "wrong"}, zerolog.Nop())

	_, err := u.Create(context.Background(), deploy.StepInput{
		Ports: []deploy.PortSpec{{Port: 25565, Protocol: deploy.ProtocolTCP}},
	})
	if !deploy.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestUniFiDeleteContinuesPastMissingRules(t *testing.T) {
	deleted := map[string]bool{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{"rc":"ok"}}`))
	})
	mux.HandleFunc("/api/s/default/rest/portforward/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/api/s/default/rest/portforward/"):]
		if id == "rule-gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		deleted[id] = true
		w.Write([]byte(`{"meta":{"rc":"ok"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u := NewUniFi(UniFiConfig{URL: srv.URL, Username: "admin", Password: "pw"}, zerolog.Nop())

	err := u.Delete(context.Background(), deploy.ResourceRef{RuleIDs: []string{"rule-1", "rule-gone", "rule-2"}})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted["rule-1"] || !deleted["rule-2"] {
		t.Errorf("surviving rules not deleted: %v", deleted)
	}
}

func TestUniFiUDMPathLayout(t *testing.T) {
	u := NewUniFi(UniFiConfig{URL: "https://udm.local", Site: "default", IsUDM: true}, zerolog.Nop())
	if got := u.apiURL("rest/portforward"); got != "https://udm.local/proxy/network/api/s/default/rest/portforward" {
		t.Errorf("udm api url = %q", got)
	}
	u2 := NewUniFi(UniFiConfig{URL: "https://ctrl.local", Site: "home"}, zerolog.Nop())
	if got := u2.apiURL("self"); got != "https://ctrl.local/api/s/home/self" {
		t.Errorf("legacy api url = %q", got)
	}
}
