package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conviction-engine/internal/models"
	"conviction-engine/internal/projector"
	"conviction-engine/internal/snapshot"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{-time.Minute, "in the future"},
		{10 * time.Second, "just now"},
		{15 * time.Minute, "15m ago"},
		{30 * time.Hour, "30h ago"},
		{72 * time.Hour, "3d ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAge(now.Add(-tt.ago), now))
	}
}

func TestFormatSources(t *testing.T) {
	assert.Equal(t, "", FormatSources(nil))
	assert.Equal(t,
		models.SourceCongress.Label()+", "+models.SourceInsider.Label(),
		FormatSources([]models.Source{models.SourceCongress, models.SourceInsider}))
}

func TestProperty_TruncateStringFits(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("result never exceeds maxLen runes", prop.ForAll(
		func(s string, maxLen int) bool {
			out := TruncateString(s, maxLen)
			if len([]rune(s)) <= maxLen {
				return out == s
			}
			return len([]rune(out)) == maxLen
		},
		gen.AnyString(),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

func TestTableAlignsColoredCells(t *testing.T) {
	var buf bytes.Buffer
	out := &Output{writer: &buf, colorEnabled: true}

	table := NewTable(out, "TICKER", "SCORE")
	table.AddRow("XYZ", out.Score(82.5))
	table.AddRow("LONGNAME", out.Score(12))
	table.Render()

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 4)
	assert.Equal(t, "TICKER    SCORE", stripANSI(string(lines[0])))
	assert.Equal(t, "XYZ       82.5", stripANSI(string(lines[2])))
	assert.Equal(t, "LONGNAME  12.0", stripANSI(string(lines[3])))
}

func TestSortRecords(t *testing.T) {
	records := []models.ConvictionRecord{
		{Ticker: "BBB", Score: 50},
		{Ticker: "CCC", Score: 80},
		{Ticker: "AAA", Score: 50},
	}
	sortRecords(records)
	assert.Equal(t, "CCC", records[0].Ticker)
	assert.Equal(t, "AAA", records[1].Ticker)
	assert.Equal(t, "BBB", records[2].Ticker)
}

// execute runs the CLI against a throwaway config directory.
func execute(t *testing.T, configDir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(zerolog.Nop())
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--config", configDir}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionAndConfigCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "version", "--json")
	require.NoError(t, err)
	var version map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &version))
	assert.Equal(t, Version, version["version"])

	out, err = execute(t, dir, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, dir+"\n", out)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))

	_, err = execute(t, dir, "config", "validate")
	assert.NoError(t, err)
}

func TestQueryWithoutSnapshot(t *testing.T) {
	_, err := execute(t, t.TempDir(), "rank")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conviction run")
}

func TestRunThenQuery(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "drops")
	require.NoError(t, os.MkdirAll(input, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(input, "insider.json"), []byte(`[
		{"insider": "Jane Doe", "title": "CEO", "ticker": "XYZ", "transaction_code": "P",
		 "transaction_date": "2026-10-10", "shares": 100000, "price": "50.00"}
	]`), 0o644))

	out, err := execute(t, dir, "run", "--input", input, "--as-of", "2026-10-15", "--json")
	require.NoError(t, err)
	var snap snapshot.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, []models.Source{models.SourceInsider}, snap.Meta.SourcesOK)
	assert.Len(t, snap.Meta.SourcesUnavailable, len(models.AllSources())-1)

	out, err = execute(t, dir, "ticker", "xyz", "--json")
	require.NoError(t, err)
	var res projector.TickerResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "XYZ", res.Record.Ticker)
	assert.Equal(t, models.Bullish, res.Record.Direction)
	assert.Greater(t, res.Record.InsiderScore, 0.0)

	_, err = execute(t, dir, "ticker", "NOPE")
	assert.Error(t, err)

	out, err = execute(t, dir, "history", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, snap.CycleID.String())

	out, err = execute(t, dir, "runs", "--failed", "--source", "ark", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"ark"`)
}
