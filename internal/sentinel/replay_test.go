package sentinel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyseq/internal/keystroke"
	"keyseq/internal/sequence"
)

func TestReplay(t *testing.T) {
	script, err := keystroke.ParseScript([]byte(`
events:
  - offset_ms: 0
    text: "AB12"
    interval_ms: 20
    target: body
  - offset_ms: 80
    key: "9"
    target: body
  - offset_ms: 500
    text: "typed"
    interval_ms: 20
    target: input#email
  - offset_ms: 1000
    text: "XY"
    interval_ms: 20
`))
	require.NoError(t, err)

	results, err := Replay(script, sequence.DefaultConfig(), nil)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, ReplayResult{Sequence: "AB129", Target: "body#", Offset: 155 * time.Millisecond}, results[0])
}

func TestReplayExactLength(t *testing.T) {
	script := &keystroke.Script{Events: []keystroke.ScriptEvent{
		{OffsetMs: 0, Text: "1234", IntervalMs: 10},
		{OffsetMs: 1000, Text: "12345", IntervalMs: 10},
	}}

	cfg := sequence.DefaultConfig()
	cfg.MinLength = nil
	cfg.ExactLength = sequence.Length(4)

	results, err := Replay(script, cfg, nil)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "1234", results[0].Sequence)
	assert.Equal(t, keystroke.DefaultScriptTarget, results[0].Target)
}

func TestReplayInvalidConfig(t *testing.T) {
	cfg := sequence.DefaultConfig()
	cfg.AllowedChars = "("

	_, err := Replay(&keystroke.Script{}, cfg, nil)
	assert.ErrorIs(t, err, sequence.ErrInvalidConfig)
}
