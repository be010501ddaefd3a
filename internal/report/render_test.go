package report

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sleuth/internal/dialog"
	"github.com/steveyegge/sleuth/internal/safety"
)

func noColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestWriteText(t *testing.T) {
	noColor(t)

	r, err := Build(finished(dialog.StatusCompleted, ""), &safety.Summary{WasSafe: true, SamplesCollected: 3})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf, false))
	out := buf.String()

	assert.Contains(t, out, r.Headline)
	assert.Contains(t, out, "sess-1")
	assert.Contains(t, out, "2/8 turns, 420/5000 tokens")
	assert.Contains(t, out, " 1. [ 90%] CPU CPU saturation")
	assert.Contains(t, out, "safe, 3 samples")
	assert.NotContains(t, out, "Turns")
}

func TestWriteTextVerbose(t *testing.T) {
	noColor(t)

	dc := finished(dialog.StatusTurnLimitReached, "turn budget reached (8 turns)")
	dc.Candidates[1].Evidence = map[string]float64{"cpu.percent": 97}
	r, err := Build(dc, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf, true))
	out := buf.String()

	assert.Contains(t, out, "Stopped:")
	assert.Contains(t, out, "cpu.percent = 97")
	assert.Contains(t, out, "Turns")
	assert.Contains(t, out, "? q1")
	assert.NotContains(t, out, "Safety")
}

func TestWriteTextAborted(t *testing.T) {
	noColor(t)

	r, err := Build(finished(dialog.StatusAborted, "safety violation: too hot"),
		&safety.Summary{WasSafe: false, UnsafeReason: "too hot"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf, false))
	out := buf.String()

	assert.Contains(t, out, "ABORTED: safety violation: too hot")
	assert.Contains(t, out, "unsafe: too hot")
	assert.NotContains(t, out, "Stopped:")
}
