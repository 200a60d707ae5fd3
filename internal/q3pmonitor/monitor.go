// Package q3pmonitor exposes an engine's control surface over read-only
// HTTP: state, role, schemes, and the charge_string debug summary the
// spec names but otherwise leaves for an operator's own tooling.
package q3pmonitor

import (
	"encoding/json"
	"net/http"

	"github.com/aitqkd/q3pcore/internal/q3pengine"
)

// Monitor serves the status of one engine.
type Monitor struct {
	engine    *q3pengine.Engine
	listenURL string
	peerURL   string
}

// New builds a Monitor over an already-constructed engine. listenURL and
// peerURL are the Peer URIs the node was told to listen on / connect to
// — the engine itself doesn't track them, so the caller supplies them for
// the url_listen/url_peer control-surface properties.
func New(engine *q3pengine.Engine, listenURL, peerURL string) *Monitor {
	return &Monitor{engine: engine, listenURL: listenURL, peerURL: peerURL}
}

// status is the control-surface snapshot spec.md §6 names: master,
// slave, authentication_scheme_{incoming,outgoing},
// encryption_scheme_{incoming,outgoing}, url_{listen,peer}, state,
// charge_string().
type status struct {
	Master                      bool   `json:"master"`
	Slave                       bool   `json:"slave"`
	State                       string `json:"state"`
	AuthenticationSchemeIncoming string `json:"authentication_scheme_incoming"`
	AuthenticationSchemeOutgoing string `json:"authentication_scheme_outgoing"`
	EncryptionSchemeIncoming    string `json:"encryption_scheme_incoming"`
	EncryptionSchemeOutgoing    string `json:"encryption_scheme_outgoing"`
	URLListen                  string `json:"url_listen"`
	URLPeer                    string `json:"url_peer"`
	ChargeString               string `json:"charge_string"`
}

func (m *Monitor) snapshot() status {
	return status{
		Master:                       m.engine.Master,
		Slave:                        m.engine.Slave,
		State:                        m.engine.State().String(),
		AuthenticationSchemeIncoming: m.engine.AuthIncoming,
		AuthenticationSchemeOutgoing: m.engine.AuthOutgoing,
		EncryptionSchemeIncoming:     m.engine.EncIncoming,
		EncryptionSchemeOutgoing:     m.engine.EncOutgoing,
		URLListen:                    m.listenURL,
		URLPeer:                      m.peerURL,
		ChargeString:                 m.engine.ChargeString(),
	}
}

// StatusHandler handles GET /status: the engine's full control-surface
// snapshot as JSON.
func (m *Monitor) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondWithJSON(w, http.StatusOK, m.snapshot())
}

// HealthHandler handles GET /health: a liveness probe independent of
// engine state, the way the teacher's own health endpoint works.
func (m *Monitor) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "q3p key-store node",
	})
}

// Mux builds an *http.ServeMux wired with the monitor's routes, ready to
// be handed to http.ListenAndServe.
func (m *Monitor) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", m.HealthHandler)
	mux.HandleFunc("/status", m.StatusHandler)
	return mux
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
