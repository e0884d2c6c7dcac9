package agent

import (
	"encoding/base64"
	"encoding/json"
	"log"

	"github.com/getfinn/finn/internal/termstream"
	"github.com/getfinn/finn/internal/wire"
)

// handleTerminalAttach implements spec §4.2's seven-step attach sequence:
// create-if-absent, spawn/reuse bridge, send history, flip to live
// streaming, schedule a force-redraw nudge.
func (a *Agent) handleTerminalAttach(env *wire.Envelope) {
	var payload wire.TerminalAttachPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("agentd: malformed terminal:attach: %v", err)
		return
	}

	onOutput := func(data []byte) {
		a.client.Send(wire.TypeTerminalOutput, wire.TerminalDataPayload{
			TerminalID: payload.TerminalID,
			Data:       base64.StdEncoding.EncodeToString(data),
		}, "")
	}
	onClosed := func() {
		a.client.Send(wire.TypeTerminalClosed, wire.TerminalDataPayload{TerminalID: payload.TerminalID}, "")
	}

	result, err := a.terms.Attach(a.ctx, payload.TerminalID, payload.Cols, payload.Rows, onOutput, onClosed)
	if err != nil {
		a.client.Send(wire.TypeTerminalError, wire.TerminalErrorPayload{
			TerminalID: payload.TerminalID,
			Message:    err.Error(),
		}, "")
		return
	}

	// History must reach the relay before any live output the read loop
	// buffered concurrently with the capture. termstream withholds that
	// buffered output until result.Flush runs, so it must not run until
	// both sends below have gone out.
	a.client.Send(wire.TypeTerminalHistory, wire.TerminalDataPayload{
		TerminalID: payload.TerminalID,
		Data:       termstream.EncodeHistory(result.History),
	}, "")
	a.client.Send(wire.TypeTerminalAttached, wire.TerminalAttachPayload{
		TerminalID: payload.TerminalID,
		Cols:       result.Cols,
		Rows:       result.Rows,
	}, "")
	result.Flush()
}

func (a *Agent) handleTerminalInput(env *wire.Envelope) {
	var payload wire.TerminalDataPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("agentd: malformed terminal:input: %v", err)
		return
	}
	data := decodeBase64(payload.Data)
	if data == nil {
		return
	}
	a.terms.Input(payload.TerminalID, data)
}

func (a *Agent) handleTerminalResize(env *wire.Envelope) {
	var payload wire.TerminalResizePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("agentd: malformed terminal:resize: %v", err)
		return
	}
	if err := a.terms.Resize(a.ctx, payload.TerminalID, payload.Cols, payload.Rows); err != nil {
		log.Printf("agentd: resize %s failed: %v", payload.TerminalID, err)
	}
}

func (a *Agent) handleTerminalScroll(env *wire.Envelope) {
	var payload wire.TerminalScrollPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("agentd: malformed terminal:scroll: %v", err)
		return
	}
	lines := wire.ClampScrollLines(payload.Lines)
	if err := a.terms.Scroll(a.ctx, payload.TerminalID, lines); err != nil {
		log.Printf("agentd: scroll %s failed: %v", payload.TerminalID, err)
	}
}

func (a *Agent) handleTerminalDetach(env *wire.Envelope) {
	var payload wire.TerminalDataPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("agentd: malformed terminal:detach: %v", err)
		return
	}
	a.terms.Detach(payload.TerminalID)
}

// handleTerminalCloseMsg destroys the underlying tmux session and bridge,
// then drops the TerminalRecord (spec §4.2: close is permanent, detach is
// not).
func (a *Agent) handleTerminalCloseMsg(env *wire.Envelope) {
	var payload wire.TerminalDataPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("agentd: malformed terminal:close: %v", err)
		return
	}
	a.terms.Close(a.ctx, payload.TerminalID)

	var doc terminalsDoc
	if err := a.terminals.Load(&doc); err != nil {
		log.Printf("agentd: load terminals.json failed: %v", err)
		return
	}
	if doc.Terminals != nil {
		delete(doc.Terminals, payload.TerminalID)
		if err := a.terminals.Save(&doc); err != nil {
			log.Printf("agentd: save terminals.json failed: %v", err)
		}
	}
}
