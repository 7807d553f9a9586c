package amap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

type rawPage struct {
	Status     flexString       `json:"status"`
	Count      flexString       `json:"count"`
	Info       flexString       `json:"info"`
	InfoCode   flexString       `json:"infocode"`
	Pois       []map[string]any `json:"pois"`
	Suggestion json.RawMessage  `json:"suggestion"`
}

type rawSuggestion struct {
	Keywords flexStrings `json:"keywords"`
	Cities   flexStrings `json:"cities"`
}

// decodePage parses an upstream body. The provider is loose with types: it
// sends numbers as strings, and empty fields as [] instead of "".
func decodePage(body []byte) (poi.Page, error) {
	var raw rawPage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return poi.Page{}, fmt.Errorf("decode page: %w", err)
	}
	page := poi.Page{
		Status:   string(raw.Status),
		Info:     string(raw.Info),
		InfoCode: string(raw.InfoCode),
		Records:  make([]poi.Record, 0, len(raw.Pois)),
	}
	if raw.Count != "" {
		n, err := strconv.Atoi(string(raw.Count))
		if err != nil {
			return poi.Page{}, fmt.Errorf("decode count %q: %w", raw.Count, err)
		}
		page.Count = n
	} else {
		page.Count = len(raw.Pois)
	}
	for _, m := range raw.Pois {
		page.Records = append(page.Records, recordFromMap(m))
	}
	if len(raw.Suggestion) > 0 {
		var s rawSuggestion
		if err := json.Unmarshal(raw.Suggestion, &s); err == nil {
			page.Suggestion = poi.Suggestion{Keywords: s.Keywords, Cities: s.Cities}
		}
	}
	return page, nil
}

var knownFields = map[string]struct{}{
	"id": {}, "name": {}, "type": {}, "typecode": {}, "biz_type": {},
	"address": {}, "location": {}, "tel": {}, "distance": {}, "business_area": {},
	"navi_poiid": {}, "pcode": {}, "adcode": {}, "pname": {}, "cityname": {},
}

func recordFromMap(m map[string]any) poi.Record {
	rec := poi.Record{
		ID:           stringField(m, "id"),
		Name:         stringField(m, "name"),
		Type:         stringField(m, "type"),
		TypeCode:     stringField(m, "typecode"),
		BizType:      stringField(m, "biz_type"),
		Address:      stringField(m, "address"),
		Location:     stringField(m, "location"),
		Tel:          stringField(m, "tel"),
		Distance:     stringField(m, "distance"),
		BusinessArea: stringField(m, "business_area"),
		NaviPoiID:    stringField(m, "navi_poiid"),
		PCode:        stringField(m, "pcode"),
		AdCode:       stringField(m, "adcode"),
		PName:        stringField(m, "pname"),
		CityName:     stringField(m, "cityname"),
	}
	rec.Longitude, rec.Latitude = poi.ParseLocation(rec.Location)
	for k, v := range m {
		if _, ok := knownFields[k]; ok {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[k] = v
	}
	return rec
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ";")
	default:
		return fmt.Sprint(v)
	}
}

// flexString accepts a JSON string, number or empty array.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte("[]")):
		*f = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*f = flexString(s)
		return nil
	default:
		*f = flexString(b)
		return nil
	}
}

// flexStrings accepts a JSON array of strings or a single string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		if s == "" {
			*f = nil
			return nil
		}
		*f = []string{s}
		return nil
	}
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	*f = items
	return nil
}
