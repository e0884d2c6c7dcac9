package terminalbridge

import (
	"encoding/json"
	"fmt"
)

// Record types for the bridge's local byte channel (spec §4.2): one byte
// record type, remainder is the payload.
const (
	RecordInput  byte = 0x30 // agent -> bridge: raw input bytes
	RecordResize byte = 0x31 // agent -> bridge: JSON {columns, rows}
	RecordOutput byte = 0x30 // bridge -> agent: raw output bytes
)

// ResizePayload is the JSON body of a RecordResize frame.
type ResizePayload struct {
	Columns int `json:"columns"`
	Rows    int `json:"rows"`
}

// EncodeInput frames raw input bytes for delivery to the bridge.
func EncodeInput(data []byte) []byte {
	return append([]byte{RecordInput}, data...)
}

// EncodeResize frames a resize request for delivery to the bridge.
func EncodeResize(cols, rows int) ([]byte, error) {
	body, err := json.Marshal(ResizePayload{Columns: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("encode resize: %w", err)
	}
	return append([]byte{RecordResize}, body...), nil
}

// DecodeOutput strips the leading record-type byte from a frame received
// from the bridge and returns it if it is an output record.
func DecodeOutput(frame []byte) (data []byte, ok bool) {
	if len(frame) == 0 || frame[0] != RecordOutput {
		return nil, false
	}
	return frame[1:], true
}
