// Package agent is the host-resident daemon: it loads configuration,
// maintains the relay transport, hosts the terminal streaming pipeline
// and Claude-state detector, and serves the local request surface
// (spec §2, §4).
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/getfinn/finn/internal/agentconfig"
	"github.com/getfinn/finn/internal/claudestate"
	"github.com/getfinn/finn/internal/localservice"
	"github.com/getfinn/finn/internal/metrics"
	"github.com/getfinn/finn/internal/terminalbridge"
	"github.com/getfinn/finn/internal/termstream"
	"github.com/getfinn/finn/internal/tmuxsession"
	"github.com/getfinn/finn/internal/transport"
	"github.com/getfinn/finn/internal/wire"
)

// AgentVersion is reported in the auth handshake (spec §4.1).
const AgentVersion = "0.1.0"

// Agent is the host daemon that orchestrates the transport, terminal
// streaming, Claude-state detection, and local service surface.
type Agent struct {
	cfg    *agentconfig.Config
	client *transport.Client
	router *transport.Router

	bridges  *terminalbridge.Manager
	terms    *termstream.Pipeline
	detector *claudestate.Detector
	metrics  *metrics.Collector

	terminals *agentconfig.ResourceStore
	panes     *panesStores
	localRtr  *localservice.Router
	scanCache *localservice.ScanCache
	status    *statusServer

	ctx    context.Context
	cancel context.CancelFunc
}

// TerminalRecord persists one terminal pane across agent restarts
// (spec §3).
type TerminalRecord struct {
	ID          string `json:"id"`
	SessionName string `json:"sessionName"`
	WorkingDir  string `json:"workingDir"`
	Device      string `json:"device"`
}

type terminalsDoc struct {
	Version   int                        `json:"version"`
	Terminals map[string]TerminalRecord `json:"terminals"`
}

// New constructs an Agent from loaded configuration.
func New() (*Agent, error) {
	cfg, err := agentconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bridges := terminalbridge.NewManager()

	a := &Agent{
		cfg:       cfg,
		bridges:   bridges,
		terms:     termstream.New(bridges),
		detector:  claudestate.NewDetector(),
		metrics:   metrics.NewCollector(),
		terminals: agentconfig.NewResourceStore(cfg.StateDir(), "terminals"),
		panes:     newPanesStores(cfg.StateDir()),
		localRtr:  localservice.NewRouter(),
		scanCache: localservice.NewScanCache(cfg.ScanRoots()),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.registerRoutes()
	return a, nil
}

// Run connects to the relay, reconciles existing sessions, and blocks
// until a shutdown signal arrives (spec §5).
func (a *Agent) Run() error {
	log.Printf("agentd: starting, state dir %s", a.cfg.StateDir())

	if err := a.reconcileSessions(); err != nil {
		log.Printf("agentd: session reconciliation failed: %v", err)
	}

	status, err := newStatusServer(a)
	if err != nil {
		return fmt.Errorf("start status server: %w", err)
	}
	a.status = status
	if err := os.WriteFile(a.cfg.StatusAddrFile(), []byte(status.Addr()), 0o600); err != nil {
		log.Printf("agentd: write status addr file failed: %v", err)
	}

	hostname, _ := os.Hostname()
	auth := wire.AuthPayload{Token: a.cfg.Token, Hostname: hostname, OS: runtime.GOOS, Version: AgentVersion}
	a.client = transport.NewClient(a.cfg.CloudURL, auth, a.handleEnvelope, a.handleAuthResult)
	a.router = transport.NewRouter(a.client, a.handleRequest)

	go a.client.Run()
	go a.detector.RunPushLoop(a.ctx, a.pushClaudeStates)
	go a.runMetricsLoop()

	a.waitForShutdown()
	return nil
}

// reconcileSessions rebuilds TerminalRecords from tmux sessions that
// survived a restart (spec §3: "re-discovery on startup reconstructs
// records from all extant sessions whose names match the reserved
// prefix").
func (a *Agent) reconcileSessions() error {
	infos, err := tmuxsession.List(a.ctx)
	if err != nil {
		return err
	}

	var doc terminalsDoc
	if err := a.terminals.Load(&doc); err != nil {
		return err
	}
	if doc.Terminals == nil {
		doc.Terminals = make(map[string]TerminalRecord)
	}

	for _, info := range infos {
		id, ok := tmuxsession.IDFromSessionName(info.Name)
		if !ok {
			continue
		}
		if _, exists := doc.Terminals[id]; !exists {
			doc.Terminals[id] = TerminalRecord{
				ID:          id,
				SessionName: info.Name,
				WorkingDir:  info.CWD,
				Device:      a.cfg.DeviceID,
			}
		}
	}

	doc.Version = 1
	return a.terminals.Save(&doc)
}

func (a *Agent) handleAuthResult(result transport.AuthResult) {
	if !result.OK {
		log.Printf("agentd: authentication failed: %s", result.Reason)
		return
	}
	log.Printf("agentd: authenticated")
}

// handleEnvelope dispatches non-auth/ping envelopes from the relay.
func (a *Agent) handleEnvelope(env *wire.Envelope) {
	switch env.Type {
	case wire.TypeRequest:
		a.router.HandleEnvelope(env)
	case wire.TypeTerminalAttach:
		a.handleTerminalAttach(env)
	case wire.TypeTerminalInput:
		a.handleTerminalInput(env)
	case wire.TypeTerminalResize:
		a.handleTerminalResize(env)
	case wire.TypeTerminalScroll:
		a.handleTerminalScroll(env)
	case wire.TypeTerminalDetach:
		a.handleTerminalDetach(env)
	case wire.TypeTerminalClose:
		a.handleTerminalCloseMsg(env)
	default:
		log.Printf("agentd: unhandled envelope type %s", env.Type)
	}
}

func (a *Agent) handleRequest(req wire.RequestPayload, onPartial func(payload any)) (int, any) {
	return a.localRtr.Dispatch(req, onPartial)
}

func (a *Agent) pushClaudeStates(states []claudestate.TerminalClaudeState) {
	a.client.Send(wire.TypeClaudeStates, states, "")
}

func (a *Agent) runMetricsLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			snapshot := a.metrics.Collect(a.ctx)
			a.client.Send(wire.TypeMetrics, snapshot, "")
		}
	}
}

// waitForShutdown blocks for SIGINT/SIGTERM then performs a graceful
// stop: poll loops cancel via ctx, bridges close, transport closes with
// intentional=true (spec §7: "Graceful agent shutdown ... stops all poll
// loops, closes all bridges, closes the transport with intentional=true").
func (a *Agent) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-a.ctx.Done():
	}

	log.Println("agentd: shutting down")
	a.cancel()
	a.bridges.StopAll()
	a.scanCache.Close()
	if a.client != nil {
		a.client.Close()
	}
	if a.status != nil {
		a.status.Stop()
	}
	os.Remove(a.cfg.StatusAddrFile())
}

func decodeBase64(s string) []byte {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		log.Printf("agentd: base64 decode failed: %v", err)
		return nil
	}
	return data
}
