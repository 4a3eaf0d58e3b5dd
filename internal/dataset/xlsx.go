package dataset

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects the worksheet to read.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadXLSX reads a worksheet whose first row is the header.
func ReadXLSX(path string, opts XLSXOptions) (Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return Table{}, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return Table{}, err
	}
	if len(sheet.Rows) == 0 {
		return Table{}, eris.Errorf("xlsx: sheet %q is empty", sheet.Name)
	}

	t := Table{Header: rowToStrings(sheet.Rows[0])}
	for _, row := range sheet.Rows[1:] {
		if row == nil {
			continue
		}
		t.Rows = append(t.Rows, rowToStrings(row))
	}
	return t, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}
