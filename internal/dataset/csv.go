package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// CSVOptions configures the CSV reader.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	Charset    string // input encoding label, e.g. "windows-1252" (default UTF-8)
}

// ReadCSV reads a CSV table whose first row is the header. Fields are
// trimmed. Context cancellation is checked between rows.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) (Table, error) {
	if opts.Charset != "" {
		enc, err := htmlindex.Get(opts.Charset)
		if err != nil {
			return Table{}, eris.Wrapf(err, "csv: unsupported charset %q", opts.Charset)
		}
		r = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow ragged rows

	var t Table
	first := true
	for {
		if ctx.Err() != nil {
			return Table{}, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, eris.Wrap(err, "csv: read row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}

		if first {
			first = false
			t.Header = stripBOM(record)
			continue
		}
		t.Rows = append(t.Rows, record)
	}

	if first {
		return Table{}, eris.New("csv: empty input")
	}
	return t, nil
}

func stripBOM(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header
}
