package nodes

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExtractFromCSV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "locations.csv")
	require.NoError(t, os.WriteFile(in, []byte("id,name,zone\n1,NODE_A,NP15\n2,,SP15\n3,NODE_B,SP15\n4,NODE_A,NP15\n"), 0644))

	jsonPath := filepath.Join(dir, "nodes.json")
	csvPath := filepath.Join(dir, "nodes.csv")

	list, err := Extract(in, Options{}, jsonPath, csvPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"NODE_A", "NODE_B"}, list)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "[\n    \"NODE_A\",\n    \"NODE_B\"\n]", string(data))

	data, err = os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "Node Name\nNODE_A\nNODE_B\n", string(data))

	loaded, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, list, loaded)
}

func TestExtractFromXLSX(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "locations.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"name", "type"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"TH_NP15_GEN-APND", "TH"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"TH_SP15_GEN-APND", "TH"}))
	require.NoError(t, f.SaveAs(in))
	require.NoError(t, f.Close())

	list, err := Extract(in, Options{}, filepath.Join(dir, "nodes.json"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"TH_NP15_GEN-APND", "TH_SP15_GEN-APND"}, list)
	assert.NoFileExists(t, filepath.Join(dir, "nodes.csv"))
}

func TestExtractMissingColumn(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "locations.csv")
	require.NoError(t, os.WriteFile(in, []byte("id,zone\n1,NP15\n"), 0644))

	_, err := Extract(in, Options{Column: "name"}, filepath.Join(dir, "n.json"), "")
	var cnf *ColumnNotFoundError
	require.True(t, errors.As(err, &cnf))
	assert.Equal(t, "name", cnf.Column)
	assert.Equal(t, []string{"id", "zone"}, cnf.Available)
	assert.NoFileExists(t, filepath.Join(dir, "n.json"))
}

func TestExtractRejectsLegacyWorkbook(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "LMPLocations_vs_FullList.xls")
	require.NoError(t, os.WriteFile(in, []byte("\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1"), 0644))

	_, err := Extract(in, Options{}, filepath.Join(dir, "n.json"), "")
	assert.ErrorIs(t, err, ErrLegacyWorkbook)
	assert.ErrorContains(t, err, "convert the file to .xlsx or .csv")
	assert.NoFileExists(t, filepath.Join(dir, "n.json"))
}

func TestWriteJSONEmptyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")
	require.NoError(t, WriteJSON(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}
