package geo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

func testLookup(t *testing.T) *Lookup {
	t.Helper()
	l, err := New(Table{
		Provinces: []string{"北京市", "江苏省", "浙江省"},
		ProvinceCities: map[string][]string{
			"北京市": {"北京市"},
			"江苏省": {"江苏省", "南京市", "苏州市"},
			"浙江省": {"杭州市", "宁波市"},
		},
	})
	require.NoError(t, err)
	return l
}

func TestExpandRegions(t *testing.T) {
	t.Parallel()

	l := testLookup(t)
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"province expands to cities", []string{"江苏省"}, []string{"南京市", "苏州市"}},
		{"municipality kept", []string{"北京市"}, []string{"北京市"}},
		{"cities pass through", []string{"温州市", "南京市"}, []string{"温州市", "南京市"}},
		{"duplicates dropped in order", []string{"苏州市", "江苏省", "苏州市"}, []string{"苏州市", "南京市"}},
		{"blank ignored", []string{" ", "浙江省"}, []string{"杭州市", "宁波市"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, l.ExpandRegions(tt.in))
		})
	}
}

func TestAllCitiesAndProvinceOf(t *testing.T) {
	t.Parallel()

	l := testLookup(t)
	require.Equal(t, []string{"北京市", "南京市", "苏州市", "杭州市", "宁波市"}, l.AllCities())

	p, ok := l.ProvinceOf("苏州市")
	require.True(t, ok)
	require.Equal(t, "江苏省", p)
	p, ok = l.ProvinceOf("北京市")
	require.True(t, ok)
	require.Equal(t, "北京市", p)
	_, ok = l.ProvinceOf("Atlantis")
	require.False(t, ok)
	require.True(t, l.IsMunicipality("北京市"))
	require.False(t, l.IsMunicipality("江苏省"))
}

func TestToProvinceBreakdown(t *testing.T) {
	t.Parallel()

	l := testLookup(t)
	provincial := []poi.ProvinceCount{{Region: "江苏省", Count: 3}, {Region: poi.UnknownProvince, Count: 1}}
	require.Equal(t, provincial, l.ToProvinceBreakdown(provincial))

	cities := []poi.ProvinceCount{
		{Region: "南京市", Count: 2},
		{Region: "杭州市", Count: 5},
		{Region: "苏州市", Count: 4},
		{Region: "Atlantis", Count: 9},
		{Region: "北京市", Count: 1},
	}
	require.Equal(t, []poi.ProvinceCount{
		{Region: "江苏省", Count: 6},
		{Region: "浙江省", Count: 5},
		{Region: "北京市", Count: 1},
	}, l.ToProvinceBreakdown(cities))
}

func TestLoadAndDefault(t *testing.T) {
	t.Parallel()

	l, err := Load(strings.NewReader(`{"provinces":["上海市"],"provinceCities":{"上海市":["上海市"]}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"上海市"}, l.AllCities())

	_, err = Load(strings.NewReader(`{"provinces":[]}`))
	require.Error(t, err)
	_, err = Load(strings.NewReader(`{"provinces":["上海市"],"provinceCities":{"火星":["x"]}}`))
	require.Error(t, err)
	_, err = Load(strings.NewReader(`not json`))
	require.Error(t, err)
	_, err = LoadFile("does-not-exist.json")
	require.Error(t, err)

	def := Default()
	require.Len(t, def.Provinces(), 34)
	cities := def.AllCities()
	require.Contains(t, cities, "南京市")
	require.Contains(t, cities, "上海市")
	require.NotContains(t, cities, "江苏省")
	table := def.Table()
	table.ProvinceCities["江苏省"][0] = "changed"
	require.Equal(t, "南京市", def.ProvinceCities()["江苏省"][0])
}
