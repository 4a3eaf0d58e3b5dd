package dataset

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/abtest-cli/internal/experr"
)

func TestFromTable_DropsUnusableRows(t *testing.T) {
	t.Parallel()

	tbl := Table{
		Header: []string{"user_id", "revenue", "clicks", "country"},
		Rows: [][]string{
			{"1", "10.5", "3", "US"},
			{"2", "", "4", "CA"},
			{"", "7", "1", "US"},
			{"4", "abc", "2", "MX"},
			{"5", "2", "", "US"},
		},
	}

	d, dropped, err := FromTable(tbl, "user_id", []string{"revenue"})
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, []string{"1", "5"}, d.IDs)
	assert.Equal(t, []string{"revenue", "clicks"}, d.Columns())

	rev, ok := d.Column("revenue")
	require.True(t, ok)
	assert.Equal(t, []float64{10.5, 2}, rev)

	clicks, ok := d.Column("clicks")
	require.True(t, ok)
	assert.Equal(t, 3.0, clicks[0])
	assert.True(t, math.IsNaN(clicks[1]))

	_, ok = d.Column("country")
	assert.False(t, ok)

	country, ok := d.Labels("country")
	require.True(t, ok)
	assert.Equal(t, []string{"US", "US"}, country)
}

func TestFromTable_MissingColumns(t *testing.T) {
	t.Parallel()

	tbl := Table{Header: []string{"id", "x"}, Rows: [][]string{{"1", "2"}}}

	_, _, err := FromTable(tbl, "user_id", nil)
	assert.True(t, experr.IsConfig(err))

	_, _, err = FromTable(tbl, "id", []string{"y"})
	assert.True(t, experr.IsConfig(err))
}

func TestDatasetAddColumn(t *testing.T) {
	t.Parallel()

	d, err := New("id", []any{1, 2.0, "u3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "u3"}, d.IDs)

	require.NoError(t, d.AddColumn("m", []float64{1, 2, 3}))
	assert.True(t, experr.IsConfig(d.AddColumn("short", []float64{1})))
	assert.True(t, experr.IsConfig(d.AddColumn("id", []float64{1, 2, 3})))
	assert.NoError(t, d.Require("m"))
	assert.True(t, experr.IsConfig(d.Require("m", "nope")))

	require.NoError(t, d.SetLabels("group", []string{"a", "b", "a"}))
	assert.True(t, experr.IsConfig(d.SetLabels("bad", []string{"a"})))
	g, ok := d.Labels("group")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "a"}, g)
}

func TestReadCSV(t *testing.T) {
	t.Parallel()

	in := "\ufeffuser_id, revenue ,converted\n1,10,1\n2, 12 ,0\n"
	tbl, err := ReadCSV(context.Background(), strings.NewReader(in), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id", "revenue", "converted"}, tbl.Header)
	assert.Equal(t, [][]string{{"1", "10", "1"}, {"2", "12", "0"}}, tbl.Rows)

	_, err = ReadCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ReadCSV(ctx, strings.NewReader(in), CSVOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadCSV_Charset(t *testing.T) {
	t.Parallel()

	// "café" in windows-1252
	in := "id,name\n1,caf\xe9\n"
	tbl, err := ReadCSV(context.Background(), strings.NewReader(in), CSVOptions{Charset: "windows-1252"})
	require.NoError(t, err)
	assert.Equal(t, "café", tbl.Rows[0][1])

	_, err = ReadCSV(context.Background(), strings.NewReader(in), CSVOptions{Charset: "no-such-charset"})
	assert.Error(t, err)
}

func TestFromRecords(t *testing.T) {
	t.Parallel()

	records, err := DecodeRecords(strings.NewReader(`[
		{"user_id": 1001, "revenue": 3.5, "converted": true, "name": "a"},
		{"user_id": 1002.0, "revenue": null, "converted": false, "name": "b"},
		{"user_id": "u3", "revenue": "4", "converted": 0, "name": "c"}
	]`))
	require.NoError(t, err)

	d, dropped, err := FromRecords(records, "user_id", []string{"revenue"})
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{"1001", "u3"}, d.IDs)
	assert.Equal(t, []string{"revenue", "converted"}, d.Columns())

	conv, _ := d.Column("converted")
	assert.Equal(t, []float64{1, 0}, conv)
}

func TestFromTable_CanonicalizesNumericIDs(t *testing.T) {
	t.Parallel()

	tbl := Table{
		Header: []string{"user_id", "m"},
		Rows: [][]string{
			{"1001.0", "1"},
			{"1002", "2"},
			{"12.5", "3"},
			{"u-7", "4"},
			{"inf", "5"},
		},
	}
	d, _, err := FromTable(tbl, "user_id", []string{"m"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1001", "1002", "12.5", "u-7", "inf"}, d.IDs)
}

func TestLoad_CSVAndJSONAgreeOnIDs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "units.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,m\n1001.0,2\n1002,3\n"), 0o600))
	jsonPath := filepath.Join(dir, "units.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"id": 1001, "m": 2}, {"id": 1002.0, "m": 3}]`), 0o600))

	fromCSV, err := Load(context.Background(), Source{Path: csvPath, IDColumn: "id", Required: []string{"m"}})
	require.NoError(t, err)
	fromJSON, err := Load(context.Background(), Source{Path: jsonPath, IDColumn: "id", Required: []string{"m"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"1001", "1002"}, fromCSV.IDs)
	assert.Equal(t, fromJSON.IDs, fromCSV.IDs)
}

func TestLoad_Formats(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "units.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,m\n1,2\n2,3\n"), 0o600))
	d, err := Load(context.Background(), Source{Path: csvPath, IDColumn: "id", Required: []string{"m"}})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	jsonPath := filepath.Join(dir, "units.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"id":1,"m":2}]`), 0o600))
	d, err = Load(context.Background(), Source{Path: jsonPath, IDColumn: "id", Required: []string{"m"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, d.IDs)

	xlsxPath := filepath.Join(dir, "units.xlsx")
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, r := range [][]string{{"id", "m"}, {"a", "1.5"}, {"b", "2.5"}} {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	require.NoError(t, f.Save(xlsxPath))
	d, err = Load(context.Background(), Source{Path: xlsxPath, IDColumn: "id", Required: []string{"m"}})
	require.NoError(t, err)
	m, _ := d.Column("m")
	assert.Equal(t, []float64{1.5, 2.5}, m)

	_, err = Load(context.Background(), Source{Path: filepath.Join(dir, "units.parquet"), IDColumn: "id"})
	assert.Error(t, err)
}
