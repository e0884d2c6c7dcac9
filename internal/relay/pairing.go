// Package relay is the cloud relay: agent pairing, browser/agent session
// routing, tier-gated request forwarding, and the persisted cross-device
// state surface (spec §3, §4.4, §4.6).
package relay

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getfinn/finn/internal/relaystore"
)

const (
	pairingCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ" // excludes 0, O, I, 1
	pairingCodeLength   = 6
	pairingCodeTTL      = 10 * time.Minute
	maxUniquenessRetry  = 10
)

// PairingState tracks a single agent's pairing attempt, per spec §3's
// in-memory PairingCode record.
type PairingState struct {
	Code      string
	Hostname  string
	OS        string
	Version   string
	ExpiresAt time.Time

	mu       sync.Mutex
	approved bool
	token    string
	agentID  string
}

// Pairing manages the pending-code pool. Codes live only in memory;
// a relay restart invalidates all pending pairings (spec §3).
type Pairing struct {
	store *relaystore.Store

	mu      sync.Mutex
	pending map[string]*PairingState
}

// NewPairing creates a pairing manager backed by store for the
// persistent Agent row minted on approval.
func NewPairing(store *relaystore.Store) *Pairing {
	return &Pairing{store: store, pending: make(map[string]*PairingState)}
}

// Start issues a new pairing code for an agent announcing itself
// (spec §4.6's pair request).
func (p *Pairing) Start(hostname, os, version string) (*PairingState, error) {
	code, err := p.newUniqueCode()
	if err != nil {
		return nil, err
	}
	state := &PairingState{
		Code:      code,
		Hostname:  hostname,
		OS:        os,
		Version:   version,
		ExpiresAt: time.Now().Add(pairingCodeTTL),
	}
	p.mu.Lock()
	p.pending[code] = state
	p.mu.Unlock()
	return state, nil
}

func (p *Pairing) newUniqueCode() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < maxUniquenessRetry; i++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if _, exists := p.pending[code]; !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique pairing code")
}

func randomCode() (string, error) {
	buf := make([]byte, pairingCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, pairingCodeLength)
	for i, b := range buf {
		out[i] = pairingCodeAlphabet[int(b)%len(pairingCodeAlphabet)]
	}
	return string(out), nil
}

// ErrExpired is returned for a pairing code past its TTL (mapped to
// HTTP 410 by the caller, spec §4.6).
var ErrExpired = fmt.Errorf("pairing code expired")

// ErrNotFound is returned for an unrecognized or already-consumed code.
var ErrNotFound = fmt.Errorf("pairing code not found")

// Approve consumes a pending code on behalf of userID: it mints a
// persistent Agent row and a long-lived token, storing only the token's
// hash (spec §4.6).
func (p *Pairing) Approve(ctx context.Context, userID, code string) (agentID string, err error) {
	p.mu.Lock()
	state, ok := p.pending[code]
	if !ok {
		p.mu.Unlock()
		return "", ErrNotFound
	}
	if time.Now().After(state.ExpiresAt) {
		delete(p.pending, code)
		p.mu.Unlock()
		return "", ErrExpired
	}
	p.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.approved {
		return state.agentID, nil
	}

	token, err := randomToken()
	if err != nil {
		return "", err
	}
	agent := &relaystore.Agent{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      state.Hostname,
		TokenHash: hashToken(token),
		PairedAt:  time.Now(),
	}
	if err := p.store.CreateAgent(ctx, agent); err != nil {
		return "", err
	}

	state.approved = true
	state.token = token
	state.agentID = agent.ID
	return agent.ID, nil
}

// Poll is called by the agent repeatedly; a successful poll after
// approval returns the token and deletes the code — consume-once
// semantics (spec §3, §8 invariant 7).
func (p *Pairing) Poll(code string) (status string, token string, agentID string, err error) {
	p.mu.Lock()
	state, ok := p.pending[code]
	if !ok {
		p.mu.Unlock()
		return "", "", "", ErrNotFound
	}
	if time.Now().After(state.ExpiresAt) {
		delete(p.pending, code)
		p.mu.Unlock()
		return "", "", "", ErrExpired
	}
	p.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.approved {
		return "pending", "", "", nil
	}

	p.mu.Lock()
	delete(p.pending, code)
	p.mu.Unlock()
	return "approved", state.token, state.agentID, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
