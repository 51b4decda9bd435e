// Package loader turns a tabular episode list into filtered, ordered records.
package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/archive-check/internal/fetcher"
	"github.com/sells-group/archive-check/internal/model"
)

// Format identifies the tabular layout of a source.
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// Required column names. Header matching is case-insensitive.
const (
	ColumnArchiveID = "archive_id"
	ColumnLink      = "link"
	ColumnSeries    = "series"
	ColumnChannel   = "channel"
)

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = eris.New("loader: missing required column")

// ErrMalformedRow is returned when a data row cannot produce a record.
var ErrMalformedRow = eris.New("loader: malformed row")

// Source describes where records are read from.
type Source struct {
	Path      string // local path or http(s) URL
	Format    Format
	Delimiter rune   // overrides the format's default delimiter
	Charset   string // text formats only
	Sheet     string // xlsx only; first sheet when empty
}

// Filter restricts loaded records. Empty fields match every row.
type Filter struct {
	Series  string
	Channel string
}

// Match reports whether the record passes the filter.
func (f Filter) Match(r model.Record) bool {
	if f.Series != "" && r.Series != f.Series {
		return false
	}
	if f.Channel != "" && r.Channel != f.Channel {
		return false
	}
	return true
}

// Loader reads records from a Source.
type Loader struct {
	fetcher fetcher.Fetcher
}

// New creates a Loader. The fetcher is used for http(s) sources and may be
// nil when only local files are read.
func New(f fetcher.Fetcher) *Loader {
	return &Loader{fetcher: f}
}

// Load reads every data row of src and returns the records that pass filter,
// in source order. Any malformed input aborts the load.
func (l *Loader) Load(ctx context.Context, src Source, filter Filter) ([]model.Record, error) {
	format, err := ResolveFormat(src.Path, src.Format)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh, cleanup, err := l.open(ctx, src, format)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	records, total, decodeErr := decode(rowCh, filter, format == FormatXLSX)
	if decodeErr != nil {
		cancel()
	}
	// Drain so the producer goroutine exits before its error is read.
	for range rowCh {
	}
	var streamErr error
	for e := range errCh {
		if e != nil {
			streamErr = e
		}
	}

	// A cancellation we triggered after a rejected row is not the cause.
	if streamErr != nil && (decodeErr == nil || !eris.Is(streamErr, context.Canceled)) {
		return nil, eris.Wrapf(streamErr, "loader: read %s", src.Path)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	warnDuplicates(records)

	zap.L().Info("loader: records loaded",
		zap.String("source", src.Path),
		zap.String("format", string(format)),
		zap.Int("rows", total),
		zap.Int("matched", len(records)),
		zap.String("series", filter.Series),
		zap.String("channel", filter.Channel),
	)

	return records, nil
}

// ResolveFormat returns the explicit format, or infers one from the path's extension.
func ResolveFormat(path string, explicit Format) (Format, error) {
	explicit = Format(strings.ToLower(strings.TrimSpace(string(explicit))))
	switch explicit {
	case FormatCSV, FormatTSV, FormatXLSX:
		return explicit, nil
	case FormatAuto:
	default:
		return "", eris.Errorf("loader: unknown format %q", explicit)
	}

	p := path
	if isRemote(p) {
		p = strings.SplitN(p, "?", 2)[0]
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".tsv", ".tab":
		return FormatTSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return FormatCSV, nil
	}
}

func (l *Loader) open(ctx context.Context, src Source, format Format) (<-chan []string, <-chan error, func(), error) {
	noop := func() {}

	if format == FormatXLSX {
		path := src.Path
		cleanup := noop
		if isRemote(path) {
			if l.fetcher == nil {
				return nil, nil, nil, eris.Errorf("loader: no fetcher configured for %s", path)
			}
			dir, err := os.MkdirTemp("", "archive-check-*")
			if err != nil {
				return nil, nil, nil, eris.Wrap(err, "loader: create temp dir")
			}
			cleanup = func() { _ = os.RemoveAll(dir) }
			path = filepath.Join(dir, "input.xlsx")
			if _, err := l.fetcher.DownloadToFile(ctx, src.Path, path); err != nil {
				cleanup()
				return nil, nil, nil, eris.Wrapf(err, "loader: fetch %s", src.Path)
			}
		}
		rowCh, errCh := fetcher.StreamXLSX(ctx, path, fetcher.XLSXOptions{SheetName: src.Sheet})
		return rowCh, errCh, cleanup, nil
	}

	opts := fetcher.CSVOptions{
		Delimiter: src.Delimiter,
		Charset:   src.Charset,
	}
	if opts.Delimiter == 0 && format == FormatTSV {
		opts.Delimiter = '\t'
	}

	if isRemote(src.Path) {
		if l.fetcher == nil {
			return nil, nil, nil, eris.Errorf("loader: no fetcher configured for %s", src.Path)
		}
		body, err := l.fetcher.Download(ctx, src.Path)
		if err != nil {
			return nil, nil, nil, eris.Wrapf(err, "loader: fetch %s", src.Path)
		}
		rowCh, errCh := fetcher.StreamCSV(ctx, body, opts)
		return rowCh, errCh, func() { _ = body.Close() }, nil
	}

	f, err := os.Open(src.Path)
	if err != nil {
		return nil, nil, nil, eris.Wrapf(err, "loader: open %s", src.Path)
	}
	rowCh, errCh := fetcher.StreamCSV(ctx, f, opts)
	return rowCh, errCh, func() { _ = f.Close() }, nil
}

type columns struct {
	archiveID, link, series, channel int
	width                            int
}

func headerColumns(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}

	var missing []string
	lookup := func(name string) int {
		i, ok := idx[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}

	cols := columns{
		archiveID: lookup(ColumnArchiveID),
		link:      lookup(ColumnLink),
		series:    lookup(ColumnSeries),
		channel:   lookup(ColumnChannel),
	}
	if len(missing) > 0 {
		return cols, eris.Wrapf(ErrMissingColumn, "loader: header lacks %s", strings.Join(missing, ", "))
	}
	cols.width = max(cols.archiveID, cols.link, cols.series, cols.channel) + 1
	return cols, nil
}

// decode consumes rows until the channel closes or a row is rejected.
// It returns the matching records and the number of data rows read.
// With padShort set, rows shorter than the header are filled with empty
// cells; spreadsheets omit trailing blank cells.
func decode(rowCh <-chan []string, filter Filter, padShort bool) ([]model.Record, int, error) {
	header, ok := <-rowCh
	if !ok {
		return nil, 0, eris.Wrap(ErrMissingColumn, "loader: no header row")
	}
	cols, err := headerColumns(header)
	if err != nil {
		return nil, 0, err
	}

	var (
		records []model.Record
		total   int
	)
	line := 1
	for row := range rowCh {
		line++
		if isBlank(row) {
			continue
		}
		total++

		if padShort && len(row) < cols.width {
			row = append(row, make([]string, cols.width-len(row))...)
		}
		if len(row) < cols.width {
			return nil, total, eris.Wrapf(ErrMalformedRow, "loader: row %d has %d fields, want at least %d", line, len(row), cols.width)
		}

		rec := model.Record{
			ArchiveID: strings.TrimSpace(row[cols.archiveID]),
			Link:      strings.TrimSpace(row[cols.link]),
			Series:    row[cols.series],
			Channel:   row[cols.channel],
			Row:       line,
		}
		if rec.ArchiveID == "" {
			return nil, total, eris.Wrapf(ErrMalformedRow, "loader: row %d has empty %s", line, ColumnArchiveID)
		}

		if filter.Match(rec) {
			records = append(records, rec)
		}
	}

	return records, total, nil
}

func warnDuplicates(records []model.Record) {
	seen := make(map[string]struct{}, len(records))
	dups := 0
	for _, r := range records {
		if _, ok := seen[r.ArchiveID]; ok {
			dups++
			continue
		}
		seen[r.ArchiveID] = struct{}{}
	}
	if dups > 0 {
		zap.L().Warn("loader: duplicate archive ids", zap.Int("duplicates", dups))
	}
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
