package dataset

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Source describes a dataset file and how to key it.
type Source struct {
	Path     string
	IDColumn string
	Required []string
	Charset  string // CSV/TSV only
}

// Load reads a dataset file by extension (.csv, .tsv, .xlsx, .json) and
// builds a dataset keyed by src.IDColumn. Rows missing the id or any
// required column are dropped and logged.
func Load(ctx context.Context, src Source) (*Dataset, error) {
	path, idColumn, required := src.Path, src.IDColumn, src.Required
	var (
		d       *Dataset
		dropped int
		err     error
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv":
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, eris.Wrapf(openErr, "dataset: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		opts := CSVOptions{Charset: src.Charset}
		if ext == ".tsv" {
			opts.Delimiter = '\t'
		}
		t, readErr := ReadCSV(ctx, f, opts)
		if readErr != nil {
			return nil, eris.Wrapf(readErr, "dataset: read %s", path)
		}
		d, dropped, err = FromTable(t, idColumn, required)
	case ".xlsx":
		t, readErr := ReadXLSX(path, XLSXOptions{})
		if readErr != nil {
			return nil, eris.Wrapf(readErr, "dataset: read %s", path)
		}
		d, dropped, err = FromTable(t, idColumn, required)
	case ".json":
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, eris.Wrapf(openErr, "dataset: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		records, decErr := DecodeRecords(f)
		if decErr != nil {
			return nil, eris.Wrapf(decErr, "dataset: read %s", path)
		}
		d, dropped, err = FromRecords(records, idColumn, required)
	default:
		return nil, eris.Errorf("dataset: unsupported file extension %q", ext)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: build from %s", path)
	}

	zap.L().Info("dataset loaded",
		zap.String("path", path),
		zap.Int("units", d.Len()),
		zap.Int("dropped", dropped),
		zap.Strings("columns", d.Columns()),
	)
	return d, nil
}

// DecodeRecords decodes a JSON array of objects, keeping numbers as
// json.Number so integral ids survive intact.
func DecodeRecords(r io.Reader) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, eris.Wrap(err, "json: decode records")
	}
	return records, nil
}
