package poi

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// ErrNotFound is returned by stores when nothing was saved for a lookup.
var ErrNotFound = errors.New("result not found")

// ParseLocation splits a "lng,lat" string. Either value is nil when the
// corresponding part is missing or not a number.
func ParseLocation(raw string) (lng *float64, lat *float64) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 2 {
		return nil, nil
	}
	return parseCoord(parts[0]), parseCoord(parts[1])
}

func parseCoord(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

// ProvinceBreakdown counts records by province name, largest first. Ties are
// ordered by name so the output is stable.
func ProvinceBreakdown(records []Record) []ProvinceCount {
	counts := make(map[string]int)
	for _, rec := range records {
		name := strings.TrimSpace(rec.PName)
		if name == "" {
			name = UnknownProvince
		}
		counts[name]++
	}
	out := make([]ProvinceCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, ProvinceCount{Region: name, Count: n})
	}
	SortBreakdown(out)
	return out
}

// SortBreakdown orders rows by count descending, then region ascending.
func SortBreakdown(rows []ProvinceCount) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Region < rows[j].Region
	})
}
