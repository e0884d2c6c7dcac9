package transport

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getfinn/finn/internal/wire"
)

// fakeSender records every Send call so tests can assert on message order
// without a real websocket connection.
type fakeSender struct {
	mu   sync.Mutex
	sent []wire.Envelope
}

func (f *fakeSender) record(msgType string, payload any, id string) bool {
	data, _ := json.Marshal(payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, wire.Envelope{Type: msgType, Payload: data, ID: id})
	return true
}

func TestRouter_ExactlyOneResponsePerRequest(t *testing.T) {
	f := &fakeSender{}
	client := &Client{}
	router := &Router{client: client, inFlight: make(map[string]bool)}
	router.handle = func(req wire.RequestPayload, onPartial func(payload any)) (int, any) {
		onPartial(map[string]string{"chunk": "a"})
		onPartial(map[string]string{"chunk": "b"})
		return 200, map[string]string{"ok": "true"}
	}

	// Swap in the fake sender by wrapping client.Send via a thin shim.
	send := func(msgType string, payload any, id string) bool { return f.record(msgType, payload, id) }
	router.respondFn(send)

	req := wire.RequestPayload{Method: "GET", Path: "/api/terminals"}
	body, _ := json.Marshal(req)
	router.HandleEnvelope(&wire.Envelope{Type: wire.TypeRequest, ID: "req-1", Payload: body})

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.sent) == 3
	}, time.Second, time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	responses := 0
	sawPartialAfterResponse := false
	responseSeen := false
	for _, env := range f.sent {
		require.Equal(t, "req-1", env.ID)
		switch env.Type {
		case wire.TypeResponse:
			responses++
			responseSeen = true
		case wire.TypeScanPartial:
			if responseSeen {
				sawPartialAfterResponse = true
			}
		}
	}
	require.Equal(t, 1, responses)
	require.False(t, sawPartialAfterResponse)
}

func TestClampScrollLines(t *testing.T) {
	require.Equal(t, 15, wire.ClampScrollLines(100))
	require.Equal(t, -15, wire.ClampScrollLines(-100))
	require.Equal(t, 5, wire.ClampScrollLines(5))
}
