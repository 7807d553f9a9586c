// Package poi defines the shared domain types for keyword point-of-interest
// searches: queries, records, pages, per-region results, jobs and the
// aggregate handed to persistence.
package poi

import (
	"time"
)

// DefaultPageSize is the page size used when a query does not set one.
const DefaultPageSize = 25

// UnknownProvince labels records whose province name is blank.
const UnknownProvince = "未知"

// DelayWindow bounds the random pause taken before each upstream request.
// A zero window disables the pause.
type DelayWindow struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// Enabled reports whether the window asks for any pause at all.
func (w DelayWindow) Enabled() bool {
	return w.Min > 0 || w.Max > 0
}

// RetryPolicy controls the attempt budget of a single page request.
// Count is the total number of attempts, BaseDelay the lower bound of the
// pause taken between attempts.
type RetryPolicy struct {
	Count     int           `json:"count"`
	BaseDelay time.Duration `json:"base_delay"`
}

// SearchQuery describes one upstream page request.
type SearchQuery struct {
	Keyword  string
	Region   string
	PageNum  int
	PageSize int
	Key      string
	Delay    DelayWindow
	Retry    RetryPolicy
}

// Record is one point of interest as returned by the provider.
type Record struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	TypeCode     string         `json:"typecode"`
	BizType      string         `json:"biz_type"`
	Address      string         `json:"address"`
	Location     string         `json:"location"`
	Longitude    *float64       `json:"longitude,omitempty"`
	Latitude     *float64       `json:"latitude,omitempty"`
	Tel          string         `json:"tel"`
	Distance     string         `json:"distance"`
	BusinessArea string         `json:"business_area"`
	NaviPoiID    string         `json:"navi_poiid"`
	PCode        string         `json:"pcode"`
	AdCode       string         `json:"adcode"`
	PName        string         `json:"pname"`
	CityName     string         `json:"cityname"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Suggestion carries the provider's alternative keywords and cities.
type Suggestion struct {
	Keywords []string `json:"keywords"`
	Cities   []string `json:"cities"`
}

// Page is a decoded upstream response.
type Page struct {
	Status     string     `json:"status"`
	Count      int        `json:"count"`
	Info       string     `json:"info"`
	InfoCode   string     `json:"infocode"`
	Records    []Record   `json:"pois"`
	Suggestion Suggestion `json:"suggestion"`
}

// RegionResult is the outcome of paginating one region. Err is set when the
// region was truncated or emptied by an upstream failure; it is never
// serialized.
type RegionResult struct {
	Region  string   `json:"region"`
	Records []Record `json:"pois"`
	Total   int      `json:"total"`
	Err     error    `json:"-"`
}

// ProvinceCount is one row of the aggregate breakdown.
type ProvinceCount struct {
	Region string `json:"region"`
	Count  int    `json:"count"`
}

// Aggregate is the flattened result of a bulk search.
type Aggregate struct {
	Keyword    string          `json:"keyword"`
	SearchDate time.Time       `json:"searchDate"`
	Timestamp  time.Time       `json:"timestamp"`
	TotalCount int             `json:"totalCount"`
	Breakdown  []ProvinceCount `json:"regionBreakdown"`
	Records    []Record        `json:"data"`
}

// Midnight truncates t to the start of its day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DateKey renders the day component used in result handles and file names.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
