// Package geo holds the read-only province and city tables used to expand
// requested regions into searchable cities and to regroup result breakdowns
// by province.
package geo

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

//go:embed data/regions.json
var defaultTable []byte

// Table is the serialized form of a Lookup.
type Table struct {
	// Provinces lists province-level names, municipalities included.
	Provinces []string `json:"provinces"`
	// ProvinceCities maps a province to its city-level regions. A
	// municipality lists itself.
	ProvinceCities map[string][]string `json:"provinceCities"`
}

// Lookup answers province and city questions. It is safe for concurrent use
// because it is never modified after construction.
type Lookup struct {
	provinces      []string
	provinceSet    map[string]struct{}
	provinceCities map[string][]string
	cityProvince   map[string]string
}

// Default returns the lookup built from the embedded table.
func Default() *Lookup {
	l, err := Load(bytes.NewReader(defaultTable))
	if err != nil {
		panic(fmt.Sprintf("embedded region table: %v", err))
	}
	return l
}

// LoadFile reads a JSON table from path.
func LoadFile(path string) (*Lookup, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied path.
	if err != nil {
		return nil, fmt.Errorf("open region table: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load decodes a JSON table.
func Load(r io.Reader) (*Lookup, error) {
	var t Table
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode region table: %w", err)
	}
	return New(t)
}

// New builds a Lookup from an in-memory table.
func New(t Table) (*Lookup, error) {
	if len(t.Provinces) == 0 {
		return nil, errors.New("region table has no provinces")
	}
	l := &Lookup{
		provinces:      append([]string(nil), t.Provinces...),
		provinceSet:    make(map[string]struct{}, len(t.Provinces)),
		provinceCities: make(map[string][]string, len(t.ProvinceCities)),
		cityProvince:   make(map[string]string),
	}
	for _, p := range t.Provinces {
		l.provinceSet[p] = struct{}{}
	}
	for province, cities := range t.ProvinceCities {
		if _, ok := l.provinceSet[province]; !ok {
			return nil, fmt.Errorf("cities listed for unknown province %q", province)
		}
		l.provinceCities[province] = append([]string(nil), cities...)
		for _, city := range cities {
			if _, taken := l.cityProvince[city]; !taken {
				l.cityProvince[city] = province
			}
		}
	}
	return l, nil
}

// Provinces returns the province-level names in table order.
func (l *Lookup) Provinces() []string {
	return append([]string(nil), l.provinces...)
}

// ProvinceCities returns a copy of the province to cities table.
func (l *Lookup) ProvinceCities() map[string][]string {
	out := make(map[string][]string, len(l.provinceCities))
	for p, cities := range l.provinceCities {
		out[p] = append([]string(nil), cities...)
	}
	return out
}

// IsProvince reports whether name is a province-level region.
func (l *Lookup) IsProvince(name string) bool {
	_, ok := l.provinceSet[name]
	return ok
}

// IsMunicipality reports whether name is a province-level city such as 北京市.
func (l *Lookup) IsMunicipality(name string) bool {
	return l.IsProvince(name) && strings.HasSuffix(name, "市")
}

// ExpandRegions replaces provinces with their cities, keeping municipalities
// as they are. Duplicates are dropped and first-seen order is kept. Names
// that are not provinces pass through as cities.
func (l *Lookup) ExpandRegions(regions []string) []string {
	out := make([]string, 0, len(regions))
	seen := make(map[string]struct{}, len(regions))
	add := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, region := range regions {
		region = strings.TrimSpace(region)
		if region == "" {
			continue
		}
		if !l.IsProvince(region) {
			add(region)
			continue
		}
		for _, city := range l.provinceCities[region] {
			if !l.IsProvince(city) || l.IsMunicipality(city) {
				add(city)
			}
		}
	}
	return out
}

// AllCities expands every province.
func (l *Lookup) AllCities() []string {
	return l.ExpandRegions(l.provinces)
}

// ProvinceOf returns the province containing name. Province-level names map
// to themselves.
func (l *Lookup) ProvinceOf(name string) (string, bool) {
	if l.IsProvince(name) {
		return name, true
	}
	p, ok := l.cityProvince[name]
	return p, ok
}

// ToProvinceBreakdown regroups rows to province level when any row names a
// city. Rows that cannot be placed are dropped, except the unknown-province
// bucket which is kept as is. Output is sorted by count desc, then name.
func (l *Lookup) ToProvinceBreakdown(rows []poi.ProvinceCount) []poi.ProvinceCount {
	hasCities := false
	for _, row := range rows {
		if !l.IsProvince(row.Region) && row.Region != poi.UnknownProvince {
			hasCities = true
			break
		}
	}
	if !hasCities {
		return rows
	}
	counts := make(map[string]int)
	for _, row := range rows {
		if row.Region == poi.UnknownProvince {
			counts[row.Region] += row.Count
			continue
		}
		if p, ok := l.ProvinceOf(row.Region); ok {
			counts[p] += row.Count
		}
	}
	out := make([]poi.ProvinceCount, 0, len(counts))
	for region, n := range counts {
		out = append(out, poi.ProvinceCount{Region: region, Count: n})
	}
	poi.SortBreakdown(out)
	return out
}

// Table returns the serializable form of the lookup.
func (l *Lookup) Table() Table {
	return Table{Provinces: l.Provinces(), ProvinceCities: l.ProvinceCities()}
}
