package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/getfinn/finn/internal/wire"
)

// RequestHandler dispatches a REST-shaped request and returns the status
// and body to send back as a response. onPartial, if invoked, sends
// scan:partial frames tied to the request id before the response returns;
// any number may precede the response but the router guarantees none
// follow it (spec §4.1 invariant 1).
type RequestHandler func(req wire.RequestPayload, onPartial func(payload any)) (status int, body any)

// Router dispatches "request" envelopes received from the relay to a
// RequestHandler and emits exactly one "response" per request id.
type Router struct {
	client   *Client
	sendFn   func(msgType string, payload any, id string) bool
	handle   RequestHandler
	mu       sync.Mutex
	inFlight map[string]bool // request ids currently being handled
}

// NewRouter wires a Router to a Client's message stream. Call
// HandleEnvelope from the transport's Handler for "request" envelopes.
func NewRouter(client *Client, handle RequestHandler) *Router {
	r := &Router{client: client, handle: handle, inFlight: make(map[string]bool)}
	r.sendFn = client.Send
	return r
}

// respondFn overrides the send path; used in tests to observe traffic
// without a live transport.
func (r *Router) respondFn(fn func(msgType string, payload any, id string) bool) {
	r.sendFn = fn
}

// HandleEnvelope processes a single "request" envelope. It is safe to
// call concurrently; each request id is handled on its own goroutine so
// a slow handler never blocks other requests or the terminal streaming
// path (spec §7: "failures ... never crash the event loop").
func (r *Router) HandleEnvelope(env *wire.Envelope) {
	if env.Type != wire.TypeRequest || env.ID == "" {
		return
	}

	var req wire.RequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		r.respond(env.ID, 400, map[string]string{"error": "malformed request envelope"})
		return
	}

	r.mu.Lock()
	if r.inFlight[env.ID] {
		r.mu.Unlock()
		return // duplicate delivery while the first is still being handled
	}
	r.inFlight[env.ID] = true
	r.mu.Unlock()

	go r.run(env.ID, req)
}

func (r *Router) run(id string, req wire.RequestPayload) {
	defer func() {
		r.mu.Lock()
		delete(r.inFlight, id)
		r.mu.Unlock()
		if rec := recover(); rec != nil {
			log.Printf("router: handler panic for %s %s: %v", req.Method, req.Path, rec)
			r.respond(id, 500, map[string]string{"error": fmt.Sprintf("internal error: %v", rec)})
		}
	}()

	onPartial := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("router: partial marshal failed: %v", err)
			return
		}
		r.sendFn(wire.TypeScanPartial, json.RawMessage(data), id)
	}

	status, body := r.handle(req, onPartial)
	r.respond(id, status, body)
}

// respond emits exactly one "response" for id; the Router never sends a
// second response for the same id (spec §8 invariant 1).
func (r *Router) respond(id string, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		data = json.RawMessage(`{"error":"failed to marshal response body"}`)
		status = 500
	}
	r.sendFn(wire.TypeResponse, wire.ResponsePayload{Status: status, Body: data}, id)
}
