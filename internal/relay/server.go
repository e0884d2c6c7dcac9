package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/getfinn/finn/internal/relaystore"
	"github.com/getfinn/finn/internal/tier"
	"github.com/getfinn/finn/internal/wire"
)

// wsConn adapts an nhooyr websocket connection to the Conn interface the
// Router sends through; ctx is the connection's own request context, live
// for as long as the socket's read loop is running.
type wsConn struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (c *wsConn) Send(env *wire.Envelope) error {
	return wsjson.Write(c.ctx, c.conn, env)
}

// Server is the relay's HTTP+websocket surface: pairing REST endpoints,
// health check, Prometheus metrics, and the two upgrade routes (spec §4,
// §4.4, §4.6).
type Server struct {
	store       *relaystore.Store
	pairing     *Pairing
	router      *Router
	jwtKey      []byte
	log         *zap.Logger
	pairURLBase string
}

// NewServer wires a pairing manager and router onto a mux handler. jwtKey
// verifies browser session JWTs; agent tokens are random strings checked
// against their stored hash.
func NewServer(store *relaystore.Store, jwtKey []byte, pairURLBase string, log *zap.Logger) *Server {
	return &Server{
		store:       store,
		pairing:     NewPairing(store),
		router:      NewRouter(store),
		jwtKey:      jwtKey,
		log:         log,
		pairURLBase: pairURLBase,
	}
}

// Handler builds the gorilla/mux route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/agents/pair", s.handlePairStart).Methods(http.MethodPost)
	r.HandleFunc("/api/agents/approve", s.handleApprove).Methods(http.MethodPost)
	r.HandleFunc("/api/agents/pair-status", s.handlePairStatus).Methods(http.MethodGet)
	r.HandleFunc("/agent-ws", s.handleAgentSocket)
	r.HandleFunc("/ws/browser", s.handleBrowserSocket)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type pairStartRequest struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Version  string `json:"version"`
}

type pairStartResponse struct {
	Code      string `json:"code"`
	PairURL   string `json:"pairUrl"`
	ExpiresIn int    `json:"expiresIn"`
}

func (s *Server) handlePairStart(w http.ResponseWriter, r *http.Request) {
	var req pairStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	state, err := s.pairing.Start(req.Hostname, req.OS, req.Version)
	if err != nil {
		s.log.Error("pairing start failed", zap.Error(err))
		http.Error(w, "could not start pairing", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pairStartResponse{
		Code:      state.Code,
		PairURL:   fmt.Sprintf("%s/%s", s.pairURLBase, state.Code),
		ExpiresIn: int(pairingCodeTTL.Seconds()),
	})
}

type approveRequest struct {
	Code string `json:"code"`
}

type approveResponse struct {
	OK      bool   `json:"ok"`
	AgentID string `json:"agentId"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticateBrowser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	agentID, err := s.pairing.Approve(r.Context(), userID, req.Code)
	switch err {
	case nil:
		writeJSON(w, http.StatusOK, approveResponse{OK: true, AgentID: agentID})
	case ErrExpired:
		http.Error(w, "pairing code expired", http.StatusGone)
	case ErrNotFound:
		http.Error(w, "pairing code not found", http.StatusNotFound)
	default:
		s.log.Error("pairing approve failed", zap.Error(err), zap.String("user_id", userID))
		http.Error(w, "approve failed", http.StatusInternalServerError)
	}
}

type pairStatusResponse struct {
	Status  string `json:"status"`
	Token   string `json:"token,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

func (s *Server) handlePairStatus(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	status, token, agentID, err := s.pairing.Poll(code)
	switch err {
	case nil:
		writeJSON(w, http.StatusOK, pairStatusResponse{Status: status, Token: token, AgentID: agentID})
	case ErrExpired:
		http.Error(w, "pairing code expired", http.StatusGone)
	case ErrNotFound:
		http.Error(w, "pairing code not found", http.StatusNotFound)
	default:
		s.log.Error("pairing poll failed", zap.Error(err))
		http.Error(w, "poll failed", http.StatusInternalServerError)
	}
}

// handleAgentSocket accepts the agent's single long-lived connection,
// validates its first frame (spec §4.1, §4.4: "enforce agents tier limit
// on join"), and pumps envelopes through the router until it disconnects.
func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	var authEnv wire.Envelope
	if err := wsjson.Read(ctx, conn, &authEnv); err != nil || authEnv.Type != wire.TypeAgentAuth {
		return
	}
	var auth wire.AuthPayload
	if err := json.Unmarshal(authEnv.Payload, &auth); err != nil {
		return
	}

	record, err := s.store.AgentByTokenHash(ctx, hashToken(auth.Token))
	if err != nil {
		sendAuthFail(ctx, conn, "invalid token")
		return
	}
	user, err := s.store.GetUser(ctx, record.UserID)
	if err != nil {
		sendAuthFail(ctx, conn, "unknown user")
		return
	}

	sock := &wsConn{ctx: ctx, conn: conn}
	joined, err := s.router.JoinAgent(ctx, user.ID, record.ID, tier.Tier(user.Tier), sock)
	if err != nil || !joined {
		sendAuthFail(ctx, conn, "agent limit reached for your plan")
		return
	}
	defer s.router.LeaveAgent(user.ID, record.ID)

	s.store.TouchAgent(ctx, record.ID)
	wsjson.Write(ctx, conn, &wire.Envelope{Type: wire.TypeAgentAuthOK})
	s.log.Info("agent connected", zap.String("user_id", user.ID), zap.String("agent_id", record.ID))

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go s.pingAgent(pingCtx, conn, record.ID)

	for {
		var env wire.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			s.log.Info("agent disconnected", zap.String("agent_id", record.ID), zap.Error(err))
			return
		}
		if env.Type == wire.TypePong {
			continue
		}
		s.router.RouteFromAgent(user.ID, &env)
	}
}

// pingAgent keeps the connection's 45s keep-alive window (spec §4.1)
// satisfied well within margin.
func (s *Server) pingAgent(ctx context.Context, conn *websocket.Conn, agentID string) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, &wire.Envelope{Type: wire.TypePing}); err != nil {
				s.log.Warn("ping write failed", zap.String("agent_id", agentID), zap.Error(err))
				return
			}
		}
	}
}

func sendAuthFail(ctx context.Context, conn *websocket.Conn, reason string) {
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	wsjson.Write(ctx, conn, &wire.Envelope{Type: wire.TypeAgentAuthFail, Payload: payload})
}

// handleBrowserSocket accepts a browser connection, authenticates its
// session JWT, and forwards outbound requests to the user's paired
// agent with tier gating applied per request (spec §4.4).
func (s *Server) handleBrowserSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticateBrowser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		http.Error(w, "agentId required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	connID := uuid.New().String()
	sock := &wsConn{ctx: ctx, conn: conn}
	s.router.JoinBrowser(userID, connID, sock)
	defer s.router.LeaveBrowser(userID, connID)

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return
	}
	userTier := tier.Tier(user.Tier)

	s.log.Info("browser connected", zap.String("user_id", userID), zap.String("agent_id", agentID))
	for {
		var env wire.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return
		}
		if denial, forwarded := s.router.ForwardToAgent(ctx, userID, connID, userTier, agentID, &env); denial != nil {
			wsjson.Write(ctx, conn, denial)
		} else if !forwarded {
			s.log.Warn("could not forward request, agent not connected",
				zap.String("user_id", userID), zap.String("agent_id", agentID))
		}
	}
}

// authenticateBrowser validates the bearer JWT issued out-of-band by the
// account system; the relay verifies but never issues these tokens
// (OAuth/session issuance is out of scope, per spec.md).
func (s *Server) authenticateBrowser(r *http.Request) (userID string, ok bool) {
	raw := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(raw) <= len(prefix) || raw[:len(prefix)] != prefix {
		return "", false
	}
	tokenStr := raw[len(prefix):]
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtKey, nil
	})
	if err != nil {
		return "", false
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", false
	}
	return sub, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
