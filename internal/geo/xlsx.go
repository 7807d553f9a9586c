package geo

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Column headers of the AMap adcode spreadsheet.
const (
	columnName     = "中文名"
	columnAdcode   = "adcode"
	columnCitycode = "citycode"
)

// provinceByPrefix maps the first two adcode digits to the province name.
var provinceByPrefix = map[string]string{
	"11": "北京市", "12": "天津市", "13": "河北省", "14": "山西省", "15": "内蒙古自治区",
	"21": "辽宁省", "22": "吉林省", "23": "黑龙江省",
	"31": "上海市", "32": "江苏省", "33": "浙江省", "34": "安徽省", "35": "福建省", "36": "江西省", "37": "山东省",
	"41": "河南省", "42": "湖北省", "43": "湖南省", "44": "广东省", "45": "广西壮族自治区", "46": "海南省",
	"50": "重庆市", "51": "四川省", "52": "贵州省", "53": "云南省", "54": "西藏自治区",
	"61": "陕西省", "62": "甘肃省", "63": "青海省", "64": "宁夏回族自治区", "65": "新疆维吾尔自治区",
	"71": "台湾省", "81": "香港特别行政区", "82": "澳门特别行政区",
}

// CityDetail describes one city-level row of the spreadsheet.
type CityDetail struct {
	Name     string `json:"name"`
	Adcode   string `json:"adcode"`
	Citycode string `json:"citycode,omitempty"`
	Province string `json:"province"`
}

// Import is the result of converting the adcode spreadsheet.
type Import struct {
	Table   Table                 `json:"table"`
	Details map[string]CityDetail `json:"details"`
	// Skipped counts rows with an unknown province prefix.
	Skipped int `json:"skipped"`
}

// ImportXLSX reads the first sheet of an AMap adcode workbook. Province rows
// (adcode ending in 0000) and city rows (ending in 00) are kept, districts are
// ignored. City lists are sorted.
func ImportXLSX(r io.Reader) (Import, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Import{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return Import{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return Import{}, errors.New("workbook is empty")
	}
	nameCol, adcodeCol, citycodeCol := -1, -1, -1
	for i, h := range rows[0] {
		switch strings.TrimSpace(h) {
		case columnName:
			nameCol = i
		case columnAdcode:
			adcodeCol = i
		case columnCitycode:
			citycodeCol = i
		}
	}
	if nameCol < 0 || adcodeCol < 0 {
		return Import{}, fmt.Errorf("workbook needs %q and %q columns", columnName, columnAdcode)
	}

	out := Import{
		Table:   Table{ProvinceCities: make(map[string][]string)},
		Details: make(map[string]CityDetail),
	}
	provinces := make(map[string]struct{})
	for _, row := range rows[1:] {
		name := strings.TrimSpace(cell(row, nameCol))
		adcode := padAdcode(cell(row, adcodeCol))
		if name == "" || len(adcode) != 6 {
			continue
		}
		isProvince := strings.HasSuffix(adcode, "0000")
		isCity := !isProvince && strings.HasSuffix(adcode, "00")
		if !isProvince && !isCity {
			continue
		}
		province, ok := provinceByPrefix[adcode[:2]]
		if !ok {
			out.Skipped++
			continue
		}
		provinces[province] = struct{}{}
		if !slices.Contains(out.Table.ProvinceCities[province], name) {
			out.Table.ProvinceCities[province] = append(out.Table.ProvinceCities[province], name)
		}
		citycode := strings.TrimSpace(cell(row, citycodeCol))
		if citycode == `\N` {
			citycode = ""
		}
		out.Details[name] = CityDetail{Name: name, Adcode: adcode, Citycode: citycode, Province: province}
	}
	for p := range provinces {
		out.Table.Provinces = append(out.Table.Provinces, p)
		sort.Strings(out.Table.ProvinceCities[p])
	}
	sort.Strings(out.Table.Provinces)
	return out, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func padAdcode(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for len(raw) < 6 {
		raw = "0" + raw
	}
	return raw
}
