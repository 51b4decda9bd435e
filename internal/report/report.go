// Package report summarizes a reconciliation run and writes the missing-links list.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// TimeLayout is the timestamp format of the text report.
const TimeLayout = "2006-01-02 15:04:05"

// Format selects how a Report is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", eris.Errorf("report: unknown format %q", s)
	}
}

// Report aggregates the counts of one run.
type Report struct {
	RunID         string    `json:"run_id" yaml:"run_id"`
	Series        string    `json:"series,omitempty" yaml:"series,omitempty"`
	Channel       string    `json:"channel,omitempty" yaml:"channel,omitempty"`
	Total         int       `json:"total" yaml:"total"`
	Present       int       `json:"present" yaml:"present"`
	Missing       int       `json:"missing" yaml:"missing"`
	FailedBatches int       `json:"failed_batches" yaml:"failed_batches"`
	PercentDone   *float64  `json:"percent_done" yaml:"percent_done"`
	GeneratedAt   time.Time `json:"generated_at" yaml:"generated_at"`
}

// New builds a Report from the total record count and the missing count.
// The completion percentage is left unset when total is zero.
func New(total, missing int, now time.Time) (*Report, error) {
	if total < 0 || missing < 0 {
		return nil, eris.Errorf("report: negative counts (total=%d missing=%d)", total, missing)
	}
	if missing > total {
		return nil, eris.Errorf("report: missing count %d exceeds total %d", missing, total)
	}

	r := &Report{
		Total:       total,
		Present:     total - missing,
		Missing:     missing,
		GeneratedAt: now,
	}
	if total > 0 {
		pct := float64(r.Present) / float64(total) * 100
		r.PercentDone = &pct
	}
	return r, nil
}

// Percent returns the completion percentage. ok is false when there were no records.
func (r *Report) Percent() (pct float64, ok bool) {
	if r.PercentDone == nil {
		return 0, false
	}
	return *r.PercentDone, true
}

// PercentString renders the percentage at full precision, or N/A. Whole
// values keep one decimal place, so 100 prints as 100.0.
func (r *Report) PercentString() string {
	pct, ok := r.Percent()
	if !ok {
		return "N/A"
	}
	s := strconv.FormatFloat(pct, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Text renders the console summary.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n## Total links: %d\n\n", r.Total)
	fmt.Fprintf(&b, "## Links present in Archive.org: %d\n\n", r.Present)
	fmt.Fprintf(&b, "## Missing links: %d\n\n", r.Missing)
	fmt.Fprintf(&b, "## Percentage Done: %s %%\n\n", r.PercentString())
	fmt.Fprintf(&b, "\nLast updated: %s\n", r.GeneratedAt.Format(TimeLayout))
	return b.String()
}

// Render writes the report to w in the given format.
func (r *Report) Render(w io.Writer, format Format) error {
	switch format {
	case FormatText, "":
		_, err := io.WriteString(w, r.Text())
		return eris.Wrap(err, "report: write text")
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(r), "report: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return eris.Wrap(enc.Close(), "report: close yaml encoder")
	default:
		return eris.Errorf("report: unknown format %q", format)
	}
}

// WriteMissing writes one link per line, in order.
func WriteMissing(w io.Writer, links []string) error {
	bw := bufio.NewWriter(w)
	for _, link := range links {
		if _, err := bw.WriteString(link + "\n"); err != nil {
			return eris.Wrap(err, "report: write link")
		}
	}
	return eris.Wrap(bw.Flush(), "report: flush links")
}

// WriteMissingFile replaces path with the missing-links list.
func WriteMissingFile(path string, links []string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := WriteMissing(f, links); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}

// FileName derives the missing-links file name from the active filters:
// missing[_<series>][_<channel>].txt.
func FileName(series, channel string) string {
	name := "missing"
	if series != "" {
		name += "_" + sanitize(series)
	}
	if channel != "" {
		name += "_" + sanitize(channel)
	}
	return name + ".txt"
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(s))
}
