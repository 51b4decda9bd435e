package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var fixedTime = time.Date(2026, 3, 22, 9, 5, 7, 0, time.UTC)

func TestNew_Counts(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		missing     int
		wantPresent int
		wantPct     float64
	}{
		{name: "all_present", total: 260, missing: 0, wantPresent: 260, wantPct: 100},
		{name: "none_present", total: 260, missing: 260, wantPresent: 0, wantPct: 0},
		{name: "example", total: 260, missing: 10, wantPresent: 250, wantPct: 96.15384615384616},
		{name: "single", total: 1, missing: 1, wantPresent: 0, wantPct: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.total, tt.missing, fixedTime)
			require.NoError(t, err)
			assert.Equal(t, tt.total, r.Total)
			assert.Equal(t, tt.missing, r.Missing)
			assert.Equal(t, tt.wantPresent, r.Present)

			pct, ok := r.Percent()
			require.True(t, ok)
			assert.InDelta(t, tt.wantPct, pct, 1e-9)
		})
	}
}

func TestNew_ZeroTotal(t *testing.T) {
	r, err := New(0, 0, fixedTime)
	require.NoError(t, err)

	_, ok := r.Percent()
	assert.False(t, ok)
	assert.Nil(t, r.PercentDone)
	assert.Equal(t, "N/A", r.PercentString())
	assert.Contains(t, r.Text(), "## Percentage Done: N/A %")
}

func TestNew_InvalidCounts(t *testing.T) {
	_, err := New(5, 6, fixedTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds total")

	_, err = New(-1, 0, fixedTime)
	require.Error(t, err)
}

func TestText(t *testing.T) {
	r, err := New(260, 10, fixedTime)
	require.NoError(t, err)

	want := "\n## Total links: 260\n\n" +
		"## Links present in Archive.org: 250\n\n" +
		"## Missing links: 10\n\n" +
		"## Percentage Done: 96.15384615384616 %\n\n" +
		"\nLast updated: 2026-03-22 09:05:07\n"
	assert.Equal(t, want, r.Text())
}

func TestPercentString_Whole(t *testing.T) {
	r, err := New(4, 0, fixedTime)
	require.NoError(t, err)
	assert.Equal(t, "100.0", r.PercentString())
	assert.Contains(t, r.Text(), "## Percentage Done: 100.0 %")

	r, err = New(4, 3, fixedTime)
	require.NoError(t, err)
	assert.Equal(t, "25.0", r.PercentString())

	r, err = New(4, 4, fixedTime)
	require.NoError(t, err)
	assert.Equal(t, "0.0", r.PercentString())
}

func TestRender_JSON(t *testing.T) {
	r, err := New(260, 10, fixedTime)
	require.NoError(t, err)
	r.RunID = "run-1"
	r.Series = "Morning Show"
	r.FailedBatches = 1

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, FormatJSON))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, "Morning Show", got["series"])
	assert.NotContains(t, got, "channel")
	assert.EqualValues(t, 260, got["total"])
	assert.EqualValues(t, 250, got["present"])
	assert.EqualValues(t, 10, got["missing"])
	assert.EqualValues(t, 1, got["failed_batches"])
	assert.InDelta(t, 96.1538, got["percent_done"], 0.001)
}

func TestRender_JSONZeroTotal(t *testing.T) {
	r, err := New(0, 0, fixedTime)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, FormatJSON))
	assert.Contains(t, buf.String(), `"percent_done": null`)
}

func TestRender_YAML(t *testing.T) {
	r, err := New(10, 5, fixedTime)
	require.NoError(t, err)
	r.Channel = "news"

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, FormatYAML))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "news", got["channel"])
	assert.Equal(t, 10, got["total"])
	assert.EqualValues(t, 50, got["percent_done"])
}

func TestRender_Text(t *testing.T) {
	r, err := New(1, 0, fixedTime)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, FormatText))
	assert.Equal(t, r.Text(), buf.String())
}

func TestRender_UnknownFormat(t *testing.T) {
	r, err := New(1, 0, fixedTime)
	require.NoError(t, err)
	assert.Error(t, r.Render(&bytes.Buffer{}, Format("xml")))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "JSON": FormatJSON, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("csv")
	assert.Error(t, err)
}

func TestWriteMissing(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMissing(&buf, []string{"https://a", "https://b", "https://c"}))
	assert.Equal(t, "https://a\nhttps://b\nhttps://c\n", buf.String())
}

func TestWriteMissing_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMissing(&buf, nil))
	assert.Empty(t, buf.String())
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteMissing_WriterError(t *testing.T) {
	err := WriteMissing(failWriter{}, []string{"https://a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestWriteMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale\nstale\nstale\n"), 0o644))

	require.NoError(t, WriteMissingFile(path, []string{"https://x"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://x\n", string(data))
}

func TestWriteMissingFile_BadDir(t *testing.T) {
	err := WriteMissingFile(filepath.Join(t.TempDir(), "no", "such", "dir.txt"), nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "report: create"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "missing.txt", FileName("", ""))
	assert.Equal(t, "missing_Morning_Show.txt", FileName("Morning Show", ""))
	assert.Equal(t, "missing_news.txt", FileName("", "news"))
	assert.Equal(t, "missing_S1_news.txt", FileName("S1", "news"))
	assert.Equal(t, "missing_a_b_c.txt", FileName("a/b", "c"))
}
