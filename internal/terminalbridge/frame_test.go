package terminalbridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeOutput(t *testing.T) {
	frame := append([]byte{RecordOutput}, []byte("hello")...)
	data, ok := DecodeOutput(frame)
	require.True(t, ok)
	require.Equal(t, "hello", string(data))
}

func TestDecodeOutput_RejectsOtherRecordTypes(t *testing.T) {
	_, ok := DecodeOutput(append([]byte{RecordResize}, []byte(`{}`)...))
	require.False(t, ok)
}

func TestEncodeInput(t *testing.T) {
	frame := EncodeInput([]byte("ls\n"))
	require.Equal(t, RecordInput, frame[0])
	require.Equal(t, "ls\n", string(frame[1:]))
}

func TestEncodeResize(t *testing.T) {
	frame, err := EncodeResize(80, 24)
	require.NoError(t, err)
	require.Equal(t, RecordResize, frame[0])
	require.JSONEq(t, `{"columns":80,"rows":24}`, string(frame[1:]))
}
