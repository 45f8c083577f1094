package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// comboLines returns reps of dodge, attack, dodge as JSON lines.
func comboLines(reps int) string {
	var b strings.Builder
	b.WriteString("# dodge attack combo\n")
	for i := 0; i < reps; i++ {
		base := time.Duration(i) * time.Second
		fmt.Fprintf(&b, `{"at":%q,"type":"game/dodge","intensity":0.8}`+"\n", base.String())
		fmt.Fprintf(&b, `{"at":%q,"type":"game/attack"}`+"\n", (base + 120*time.Millisecond).String())
		fmt.Fprintf(&b, `{"at":%q,"type":"game/dodge","intensity":0.8}`+"\n\n", (base + 240*time.Millisecond).String())
	}
	return b.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command and returns stdout and the error.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestParseEventLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantErr   string
		wantType  string
		wantAt    time.Duration
		intensity float64
	}{
		{name: "full", line: `{"at":"1.5s","type":"game/dodge","intensity":0.4,"features":{"x":1}}`,
			wantType: "game/dodge", wantAt: 1500 * time.Millisecond, intensity: 0.4},
		{name: "intensity defaults to one", line: `{"at":"0s","type":"music/a"}`,
			wantType: "music/a", intensity: 1},
		{name: "missing unit", line: `{"at":"100","type":"music/a"}`, wantErr: "at:"},
		{name: "no domain", line: `{"at":"0s","type":"dodge"}`, wantErr: "must be domain/name"},
		{name: "unknown field", line: `{"at":"0s","type":"a/b","ts":3}`, wantErr: "unknown field"},
		{name: "not json", line: `dodge at 3`, wantErr: "decode event"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := parseEventLine([]byte(tt.line))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, ev.Type())
			assert.Equal(t, tt.wantAt, ev.Timestamp)
			assert.Equal(t, tt.intensity, ev.Intensity)
		})
	}
}

func TestRun_PersistsSession(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "eresion.db")
	events := writeFile(t, dir, "s1.jsonl", comboLines(13))

	out, err := execute(t, "", "run", "--store", dbPath, "--session", "s1", "--sync", "--format", "json", events)
	require.NoError(t, err)

	var result RunResult
	decodeData(t, out, &result)
	assert.Equal(t, "s1", result.Session.ID)
	assert.Equal(t, int64(39), result.Session.Events)
	assert.Zero(t, result.Session.Dropped)
	assert.Equal(t, 13*4+1, result.Lines, "comment and blank lines are counted")
	assert.Equal(t, "s1", result.Stats.Session)
	assert.Zero(t, result.Restored)

	out, err = execute(t, "", "inspect", "--store", dbPath, "--format", "json")
	require.NoError(t, err)
	var inspected InspectResult
	decodeData(t, out, &inspected)
	require.NotNil(t, inspected.Snapshot)
	require.Len(t, inspected.Sessions, 1)
	assert.Equal(t, "s1", inspected.Sessions[0].ID)
}

func TestRun_StdinAndRestore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "eresion.db")

	for _, id := range []string{"s1", "s2"} {
		_, err := execute(t, comboLines(13), "run", "--store", dbPath, "--session", id)
		require.NoError(t, err)
	}

	out, err := execute(t, "", "inspect", "--store", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Sessions: 2")
	assert.Contains(t, out, "s1  39 events")
	assert.Contains(t, out, "s2  39 events")
}

func TestRun_TextSummary(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, comboLines(3), "run", "--store", filepath.Join(dir, "db"), "--session", "demo", "--sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Session demo: 9 events, 0 dropped")
	assert.Contains(t, out, "Motifs:")
	assert.Contains(t, out, "Degradation: normal")
}

func TestRun_BadLine(t *testing.T) {
	dir := t.TempDir()
	input := `{"at":"0s","type":"game/dodge"}` + "\n" + `{"at":"soon","type":"game/attack"}` + "\n"

	out, err := execute(t, input, "run", "--store", filepath.Join(dir, "db"), "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "line 2")

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeInput, resp.Error.Code)

	// The session is still closed and recorded.
	out, err = execute(t, "", "inspect", "--store", filepath.Join(dir, "db"), "--format", "json")
	require.NoError(t, err)
	var inspected InspectResult
	decodeData(t, out, &inspected)
	assert.Len(t, inspected.Sessions, 1)
}

func TestRun_CommandErrors(t *testing.T) {
	dir := t.TempDir()
	badConfig := writeFile(t, dir, "bad.cue", "store: driver: \"postgres\"\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing events file", []string{"run", "--store", filepath.Join(dir, "db"), filepath.Join(dir, "none.jsonl")}, "failed to open events"},
		{"missing config", []string{"run", "--config", filepath.Join(dir, "none.cue")}, "failed to load config"},
		{"bad config", []string{"run", "--config", badConfig}, "failed to load config"},
		{"too many args", []string{"run", "a.jsonl", "b.jsonl"}, "accepts at most 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_MemoryDriverFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "eresion.cue", "store: driver: \"memory\"\nlog: level: \"error\"\n")

	out, err := execute(t, comboLines(2), "run", "--config", cfg, "--session", "m1", "--format", "json")
	require.NoError(t, err)
	var result RunResult
	decodeData(t, out, &result)
	assert.Equal(t, int64(6), result.Session.Events)
	assert.Equal(t, "m1", result.Session.ID)
}
