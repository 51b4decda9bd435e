package main

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/archive-check/internal/config"
	"github.com/sells-group/archive-check/internal/fetcher"
	"github.com/sells-group/archive-check/internal/loader"
	"github.com/sells-group/archive-check/internal/publish"
	"github.com/sells-group/archive-check/internal/reconcile"
	"github.com/sells-group/archive-check/internal/report"
	"github.com/sells-group/archive-check/pkg/archiveorg"
)

// checkFlags holds command-line overrides for the check command.
type checkFlags struct {
	input     string
	series    string
	channel   string
	batchSize int
	output    string
	format    string
	publish   bool
	sheet     string
	delimiter string
	encoding  string
}

var checkOpts checkFlags

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report which episodes are missing from archive.org",
	Long: `Loads the episode list, queries archive.org for the archive identifiers in
batches, prints a completion report and writes the links of every missing
episode to a text file.

Examples:
  # Whole list, text report
  archive-check check --input all_episodes_mar22.csv

  # One series, JSON report, custom output file
  archive-check check --series "Morning Show" --format json --output morning.txt

  # Commit and push the missing-links file
  archive-check check --publish`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		checkOpts.apply(cfg, cmd.Flags().Changed)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runCheck(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

func init() {
	f := checkCmd.Flags()
	f.StringVar(&checkOpts.input, "input", "", "episode list path or URL (csv, tsv, xlsx)")
	f.StringVar(&checkOpts.series, "series", "", "only check records of this series")
	f.StringVar(&checkOpts.channel, "channel", "", "only check records of this channel")
	f.IntVar(&checkOpts.batchSize, "batch-size", 0, "identifiers per archive.org query (0 = config)")
	f.StringVar(&checkOpts.output, "output", "", "missing-links file (default: missing[_series][_channel].txt)")
	f.StringVar(&checkOpts.format, "format", "", "report format: text, json or yaml")
	f.BoolVar(&checkOpts.publish, "publish", false, "commit and push the missing-links file")
	f.StringVar(&checkOpts.sheet, "sheet", "", "xlsx sheet name (default: first sheet)")
	f.StringVar(&checkOpts.delimiter, "delimiter", "", `field delimiter for text input, e.g. ";" or "\t"`)
	f.StringVar(&checkOpts.encoding, "encoding", "", "input character encoding, e.g. utf-8, windows-1252")
	rootCmd.AddCommand(checkCmd)
}

// apply copies the flags the user set onto c.
func (f checkFlags) apply(c *config.Config, changed func(string) bool) {
	if changed("input") {
		c.Input.Path = f.input
	}
	if changed("series") {
		c.Filter.Series = f.series
	}
	if changed("channel") {
		c.Filter.Channel = f.channel
	}
	if changed("batch-size") {
		c.Archive.BatchSize = f.batchSize
	}
	if changed("output") {
		c.Output.Path = f.output
	}
	if changed("format") {
		c.Output.Format = f.format
	}
	if changed("publish") {
		c.Publish.Enabled = f.publish
	}
	if changed("sheet") {
		c.Input.Sheet = f.sheet
	}
	if changed("delimiter") {
		c.Input.Delimiter = f.delimiter
	}
	if changed("encoding") {
		c.Input.Encoding = f.encoding
	}
}

func runCheck(ctx context.Context, c *config.Config, out io.Writer) error {
	runID := uuid.NewString()
	log := zap.L().With(zap.String("run_id", runID))

	format, err := report.ParseFormat(c.Output.Format)
	if err != nil {
		return err
	}
	delim, err := c.Input.DelimiterRune()
	if err != nil {
		return err
	}

	timeout := time.Duration(c.Archive.TimeoutSecs) * time.Second
	ld := loader.New(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: c.Archive.UserAgent,
		Timeout:   timeout,
	}))

	filter := loader.Filter{Series: c.Filter.Series, Channel: c.Filter.Channel}
	records, err := ld.Load(ctx, loader.Source{
		Path:      c.Input.Path,
		Format:    loader.Format(c.Input.Format),
		Delimiter: delim,
		Charset:   c.Input.Encoding,
		Sheet:     c.Input.Sheet,
	}, filter)
	if err != nil {
		return eris.Wrap(err, "check: load records")
	}

	rec := reconcile.New(newArchiveClient(c.Archive),
		reconcile.WithBatchSize(c.Archive.BatchSize),
		reconcile.WithLogger(log),
	)
	result, err := rec.Run(ctx, records)
	if err != nil {
		return eris.Wrap(err, "check: reconcile")
	}

	rpt, err := report.New(result.Total, len(result.Missing), time.Now())
	if err != nil {
		return err
	}
	rpt.RunID = runID
	rpt.Series = c.Filter.Series
	rpt.Channel = c.Filter.Channel
	rpt.FailedBatches = result.FailedBatches()

	if err := rpt.Render(out, format); err != nil {
		return err
	}

	outPath := c.Output.Path
	if outPath == "" {
		outPath = report.FileName(c.Filter.Series, c.Filter.Channel)
	}
	if err := report.WriteMissingFile(outPath, result.MissingLinks()); err != nil {
		return err
	}

	log.Info("check: run complete",
		zap.Int("total", rpt.Total),
		zap.Int("present", rpt.Present),
		zap.Int("missing", rpt.Missing),
		zap.Int("failed_batches", rpt.FailedBatches),
		zap.String("output", outPath),
	)

	if !c.Publish.Enabled {
		return nil
	}
	return publishMissing(ctx, c.Publish, outPath)
}

func newArchiveClient(c config.ArchiveConfig) archiveorg.Client {
	return archiveorg.NewClient(
		archiveorg.WithBaseURL(c.BaseURL),
		archiveorg.WithUserAgent(c.UserAgent),
		archiveorg.WithMaxRows(c.MaxRows),
		archiveorg.WithRateLimit(c.RatePerSec),
		archiveorg.WithHTTPClient(&http.Client{Timeout: time.Duration(c.TimeoutSecs) * time.Second}),
	)
}

func publishMissing(ctx context.Context, pc config.PublishConfig, outPath string) error {
	path, err := repoRelative(pc.Dir, outPath)
	if err != nil {
		return err
	}

	g := publish.NewGit(pc.Dir)
	g.Remote = pc.Remote
	g.Branch = pc.Branch
	g.AuthorName = pc.AuthorName
	g.AuthorEmail = pc.AuthorEmail
	if pc.Message != "" {
		g.Message = pc.Message
	}

	return publishWith(ctx, g, path)
}

func publishWith(ctx context.Context, p publish.Publisher, path string) error {
	if err := p.Publish(ctx, path); err != nil {
		return eris.Wrap(err, "check: publish")
	}
	return nil
}

// repoRelative expresses path relative to the working tree dir. An empty dir
// is the process working directory, where path is used as given.
func repoRelative(dir, path string) (string, error) {
	if dir == "" {
		return path, nil
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", eris.Wrap(err, "check: resolve publish dir")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", eris.Wrap(err, "check: resolve output path")
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", eris.Errorf("check: output %s is outside publish dir %s", path, dir)
	}
	return rel, nil
}
