package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// StatusInfo is served at the local status endpoint and printed by the
// `status` CLI command.
type StatusInfo struct {
	AgentID        string `json:"agentId"`
	DeviceID       string `json:"deviceId"`
	Connected      bool   `json:"connected"`
	CloudURL       string `json:"cloudUrl"`
	TerminalCount  int    `json:"terminalCount"`
}

// statusServer is a loopback-only HTTP endpoint the `status`/`stop` CLI
// invocations query, mirroring the local-callback-server idiom used for
// the OAuth login flow: bind, serve in the background, shut down
// gracefully on request.
type statusServer struct {
	listener net.Listener
	server   *http.Server
}

func newStatusServer(a *Agent) (*statusServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind status server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		var doc terminalsDoc
		_ = a.terminals.Load(&doc)

		info := StatusInfo{
			AgentID:       a.cfg.AgentID,
			DeviceID:      a.cfg.DeviceID,
			Connected:     a.client != nil && a.client.IsConnected(),
			CloudURL:      a.cfg.CloudURL,
			TerminalCount: len(doc.Terminals),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	})
	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		go a.cancel()
	})

	s := &statusServer{listener: listener, server: &http.Server{Handler: mux}}
	go s.server.Serve(listener)
	return s, nil
}

func (s *statusServer) Addr() string { return s.listener.Addr().String() }

func (s *statusServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
