package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkValidate(t *testing.T) {
	tests := []struct {
		name    string
		chunk   Chunk
		wantErr error
	}{
		{name: "assistant message", chunk: AssistantMessage("hi")},
		{name: "console output", chunk: ConsoleOutput("1\n")},
		{name: "system role rejected", chunk: Chunk{Role: RoleSystem, Type: TypeMessage}, wantErr: ErrInvalidRole},
		{name: "empty role rejected", chunk: Chunk{Type: TypeMessage}, wantErr: ErrInvalidRole},
		{name: "unknown type rejected", chunk: Chunk{Role: RoleAssistant, Type: "image"}, wantErr: ErrInvalidType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.chunk.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMessageValidateAllowsSystem(t *testing.T) {
	m := Message{Role: RoleSystem, Type: TypeMessage, Content: "be brief"}
	assert.NoError(t, m.Validate())
}

func TestChunkJSONOmitsFramingWhenUnset(t *testing.T) {
	data, err := json.Marshal(AssistantMessage("Hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","type":"message","content":"Hello"}`, string(data))

	data, err = json.Marshal(Chunk{Role: RoleAssistant, Type: TypeMessage, Start: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","type":"message","content":"","start":true}`, string(data))
}

func TestChunkPredicates(t *testing.T) {
	assert.True(t, ActiveLine("3").IsActiveLine())
	assert.True(t, ConsoleOutput("x").IsConsoleOutput())
	assert.False(t, ActiveLine("3").IsConsoleOutput())
	assert.True(t, Chunk{End: true}.IsFrame())
	assert.False(t, AssistantMessage("x").IsFrame())
}

func TestMessageFromChunkRoundTrip(t *testing.T) {
	c := AssistantCode("python", "print(1)")
	m := MessageFromChunk(c)
	assert.Equal(t, Message{Role: RoleAssistant, Type: TypeCode, Format: "python", Content: "print(1)"}, m)
	assert.Equal(t, c, m.Chunk())
}
