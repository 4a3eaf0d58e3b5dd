// Package dataset holds the column-oriented unit table an experiment is
// audited on and loads it from CSV, XLSX, or JSON records.
package dataset

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/sells-group/abtest-cli/internal/bucket"
	"github.com/sells-group/abtest-cli/internal/experr"
)

// Dataset is an ordered set of units with numeric metric columns. Columns
// are never mutated after loading; group labels live in separate vectors.
type Dataset struct {
	IDColumn string
	IDs      []string
	order    []string
	columns  map[string][]float64
	text     map[string][]string
}

// New creates a dataset from unit ids, canonicalizing each id.
func New(idColumn string, ids []any) (*Dataset, error) {
	d := &Dataset{
		IDColumn: idColumn,
		IDs:      make([]string, len(ids)),
		columns:  make(map[string][]float64),
		text:     make(map[string][]string),
	}
	for i, id := range ids {
		s, err := bucket.CanonicalID(id)
		if err != nil {
			return nil, err
		}
		d.IDs[i] = s
	}
	return d, nil
}

// AddColumn attaches a numeric column. Its length must match the unit count.
func (d *Dataset) AddColumn(name string, values []float64) error {
	if name == d.IDColumn {
		return experr.Configf("column %q is the unit id column", name)
	}
	if len(values) != len(d.IDs) {
		return experr.Configf("column %q has %d values for %d units", name, len(values), len(d.IDs))
	}
	if _, ok := d.columns[name]; !ok {
		d.order = append(d.order, name)
	}
	d.columns[name] = values
	return nil
}

// Column returns a numeric column by name.
func (d *Dataset) Column(name string) ([]float64, bool) {
	c, ok := d.columns[name]
	return c, ok
}

// Columns returns the numeric column names in load order.
func (d *Dataset) Columns() []string {
	return slices.Clone(d.order)
}

// Labels returns the raw trimmed cells of any loaded column, numeric or
// not. Group assignments recorded upstream are read this way.
func (d *Dataset) Labels(name string) ([]string, bool) {
	c, ok := d.text[name]
	return c, ok
}

// SetLabels attaches a text column such as a group assignment.
func (d *Dataset) SetLabels(name string, labels []string) error {
	if len(labels) != len(d.IDs) {
		return experr.Configf("label column %q has %d values for %d units", name, len(labels), len(d.IDs))
	}
	d.text[name] = labels
	return nil
}

// Len returns the number of units.
func (d *Dataset) Len() int { return len(d.IDs) }

// Require returns a ConfigError naming the first missing column.
func (d *Dataset) Require(names ...string) error {
	for _, n := range names {
		if _, ok := d.columns[n]; !ok {
			return experr.Configf("column %q not found", n)
		}
	}
	return nil
}

// Table is a header plus string rows, the common shape of CSV and XLSX
// input.
type Table struct {
	Header []string
	Rows   [][]string
}

// FromTable builds a dataset from a string table. Rows whose id or required
// columns are blank or non-numeric are dropped; dropped is their count. Other
// columns are kept only if every non-blank value parses as a number. Numeric
// id cells are canonicalized, so "1001.0" and "1001" name the same unit.
func FromTable(t Table, idColumn string, required []string) (d *Dataset, dropped int, err error) {
	return fromTable(t, idColumn, required, true)
}

func fromTable(t Table, idColumn string, required []string, numericIDs bool) (d *Dataset, dropped int, err error) {
	idIdx := slices.Index(t.Header, idColumn)
	if idIdx < 0 {
		return nil, 0, experr.Configf("unit id column %q not found", idColumn)
	}
	reqIdx := make([]int, len(required))
	for i, name := range required {
		reqIdx[i] = slices.Index(t.Header, name)
		if reqIdx[i] < 0 {
			return nil, 0, experr.Configf("column %q not found", name)
		}
	}

	var keep [][]string
	for _, row := range t.Rows {
		if !rowUsable(row, idIdx, reqIdx) {
			dropped++
			continue
		}
		keep = append(keep, row)
	}

	ids := make([]any, len(keep))
	for i, row := range keep {
		cell := strings.TrimSpace(row[idIdx])
		if numericIDs {
			ids[i] = idValue(cell)
			continue
		}
		ids[i] = cell
	}
	d, err = New(idColumn, ids)
	if err != nil {
		return nil, 0, err
	}

	for j, name := range t.Header {
		if j == idIdx || name == "" {
			continue
		}
		d.text[name] = textColumn(keep, j)
		values, ok := numericColumn(keep, j)
		if !ok {
			continue
		}
		if err := d.AddColumn(name, values); err != nil {
			return nil, 0, err
		}
	}
	return d, dropped, nil
}

func rowUsable(row []string, idIdx int, reqIdx []int) bool {
	if idIdx >= len(row) || strings.TrimSpace(row[idIdx]) == "" {
		return false
	}
	for _, j := range reqIdx {
		if j >= len(row) {
			return false
		}
		if _, ok := parseNumber(row[j]); !ok {
			return false
		}
	}
	return true
}

func textColumn(rows [][]string, j int) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		if j < len(row) {
			out[i] = strings.TrimSpace(row[j])
		}
	}
	return out
}

// numericColumn parses column j. Blank cells become NaN; any other
// unparseable cell disqualifies the column.
func numericColumn(rows [][]string, j int) ([]float64, bool) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if j >= len(row) || strings.TrimSpace(row[j]) == "" {
			out[i] = math.NaN()
			continue
		}
		f, ok := parseNumber(row[j])
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// idValue returns a numeric id cell as a number and anything else as the
// string itself.
func idValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.ContainsAny(s, "xX_") {
		return s
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	switch strings.ToLower(s) {
	case "true":
		return 1, true
	case "false":
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FromRecords builds a dataset from decoded JSON objects. Column order is
// the required columns followed by the remaining keys sorted by name.
func FromRecords(records []map[string]any, idColumn string, required []string) (d *Dataset, dropped int, err error) {
	keys := map[string]bool{}
	for _, rec := range records {
		for k := range rec {
			keys[k] = true
		}
	}
	if len(records) > 0 && !keys[idColumn] {
		return nil, 0, experr.Configf("unit id column %q not found", idColumn)
	}

	header := []string{idColumn}
	for _, name := range required {
		if !keys[name] && len(records) > 0 {
			return nil, 0, experr.Configf("column %q not found", name)
		}
		if !slices.Contains(header, name) {
			header = append(header, name)
		}
	}
	var rest []string
	for k := range keys {
		if !slices.Contains(header, k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	header = append(header, rest...)

	t := Table{Header: header, Rows: make([][]string, len(records))}
	for i, rec := range records {
		row := make([]string, len(header))
		for j, k := range header {
			row[j] = cellString(rec[k])
		}
		t.Rows[i] = row
	}
	// JSON already distinguishes numeric ids from string ids.
	return fromTable(t, idColumn, required, false)
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case json.Number, float64:
		s, err := bucket.CanonicalID(x)
		if err != nil {
			return ""
		}
		return s
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}
