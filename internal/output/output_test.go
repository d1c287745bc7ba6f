package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestDryRunMsg_Enabled(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRun = true
	u.DryRunMsg("would create %s", "file")
	assert.Contains(t, errOut.String(), "[DRY-RUN]")
	assert.Contains(t, errOut.String(), "would create file")
}

func TestDryRunMsg_Disabled(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRun = false
	u.DryRunMsg("would create %s", "file")
	assert.Empty(t, errOut.String())
}

func TestColorHelpers(t *testing.T) {
	assert.NotEmpty(t, Cyan("test"))
	assert.NotEmpty(t, Green("test"))
	assert.NotEmpty(t, Yellow("test"))
	assert.NotEmpty(t, Red("test"))
}

func TestStateColor(t *testing.T) {
	for _, st := range []string{"in_progress", "pending_approval", "approved", "cancelled"} {
		assert.Contains(t, StateColor(st), st)
	}
	assert.Equal(t, "inactive", StateColor("inactive"))
	assert.Equal(t, "unknown", StateColor("unknown"))
}

func TestActivityColor(t *testing.T) {
	assert.Contains(t, ActivityColor("doing"), "doing")
	assert.Contains(t, ActivityColor("done"), "done")
	assert.Equal(t, "todo", ActivityColor("todo"))
}

func TestHealthColor(t *testing.T) {
	assert.Contains(t, HealthColor(90), "90")
	assert.Contains(t, HealthColor(60), "60")
	assert.Contains(t, HealthColor(30), "30")
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		pct    int
		filled int
		suffix string
	}{
		{0, 0, "  0%"},
		{50, 5, " 50%"},
		{100, 10, "100%"},
		{140, 10, "100%"},
		{-5, 0, "  0%"},
	}
	for _, tt := range tests {
		bar := ProgressBar(tt.pct, 10)
		assert.Equal(t, tt.filled, strings.Count(bar, "\u2588"), "pct %d", tt.pct)
		assert.Equal(t, 10-tt.filled, strings.Count(bar, "\u2591"), "pct %d", tt.pct)
		assert.True(t, strings.HasSuffix(bar, tt.suffix), "pct %d: %q", tt.pct, bar)
	}
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Story", "State"})
	require.NotNil(t, table)

	table.Append([]string{"login", "in_progress"})
	table.Append([]string{"signup", "approved"})
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.Contains(t, result, "login")
	assert.Contains(t, result, "signup")
}
