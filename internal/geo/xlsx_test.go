package geo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImportXLSX(t *testing.T) {
	t.Parallel()

	buf := workbook(t, [][]any{
		{"中文名", "adcode", "citycode"},
		{"北京市", 110000, "010"},
		{"东城区", 110101, "010"},
		{"江苏省", 320000, `\N`},
		{"苏州市", 320500, "0512"},
		{"南京市", 320100, "025"},
		{"玄武区", 320102, "025"},
		{"火星市", 990100, "999"},
		{"", 330100, "0571"},
	})

	got, err := ImportXLSX(buf)
	require.NoError(t, err)
	require.Equal(t, []string{"北京市", "江苏省"}, got.Table.Provinces)
	require.Equal(t, []string{"北京市"}, got.Table.ProvinceCities["北京市"])
	require.Equal(t, []string{"南京市", "江苏省", "苏州市"}, got.Table.ProvinceCities["江苏省"])
	require.Equal(t, 1, got.Skipped)
	require.Equal(t, CityDetail{Name: "苏州市", Adcode: "320500", Citycode: "0512", Province: "江苏省"}, got.Details["苏州市"])
	require.Empty(t, got.Details["江苏省"].Citycode)

	l, err := New(got.Table)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"北京市", "南京市", "苏州市"}, l.AllCities())
}

func TestImportXLSXRequiresColumns(t *testing.T) {
	t.Parallel()

	_, err := ImportXLSX(workbook(t, [][]any{{"name", "code"}, {"北京市", 110000}}))
	require.Error(t, err)

	_, err = ImportXLSX(bytes.NewReader([]byte("not a workbook")))
	require.Error(t, err)
}
