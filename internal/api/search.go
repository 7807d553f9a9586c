package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/bulk"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

// bulkSearchRequest is the POST /api/bulk-search body. Numeric fields accept
// numbers or numeric strings; zero or missing values fall back to config.
type bulkSearchRequest struct {
	Keywords       string      `json:"keywords"`
	Regions        []string    `json:"regions"`
	MaxConcurrency json.Number `json:"maxConcurrency"`
	DelayMin       json.Number `json:"delayMin"`
	DelayMax       json.Number `json:"delayMax"`
}

// submission is the data returned when a job is accepted.
type submission struct {
	TaskID      string `json:"taskId"`
	Keyword     string `json:"keyword"`
	Message     string `json:"message"`
	DelayRange  string `json:"delayRange"`
	TotalCities int    `json:"totalCities"`
}

func (s *Server) searchPage(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		writeEnvelope(w, http.StatusServiceUnavailable, nil, "search client unavailable")
		return
	}
	q := r.URL.Query()
	keyword := strings.TrimSpace(q.Get("keywords"))
	region := strings.TrimSpace(q.Get("region"))
	if keyword == "" || region == "" {
		writeEnvelope(w, http.StatusBadRequest, nil, "keywords and region are required")
		return
	}
	pageNum := intOr(q.Get("page"), 1, 1)
	pageSize := intOr(q.Get("page_size"), s.cfg.BulkSearch.PageSize, 1)
	page, err := s.pages.SearchPage(r.Context(), poi.SearchQuery{
		Keyword:  keyword,
		Region:   region,
		PageNum:  pageNum,
		PageSize: pageSize,
		Key:      s.cfg.AMap.Key,
		Retry:    s.cfg.RetryPolicy(),
	})
	if err != nil {
		s.logger.Warn("single page search failed",
			zap.String("keyword", keyword),
			zap.String("region", region),
			zap.Error(err),
		)
		writeEnvelope(w, http.StatusBadGateway, nil, "upstream search failed")
		return
	}
	writeOK(w, page)
}

func (s *Server) submitBulkSearch(w http.ResponseWriter, r *http.Request) {
	var req bulkSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, "invalid JSON")
		return
	}
	keyword := strings.TrimSpace(req.Keywords)
	if keyword == "" || len(req.Regions) == 0 {
		writeEnvelope(w, http.StatusBadRequest, nil, "keywords (string) and regions (array) are required")
		return
	}
	cities := s.regions.ExpandRegions(req.Regions)
	if len(cities) == 0 {
		writeEnvelope(w, http.StatusBadRequest, nil, "no valid cities found in regions")
		return
	}
	opts := s.options(string(req.MaxConcurrency), string(req.DelayMin), string(req.DelayMax))
	s.submit(w, keyword, cities, opts)
}

func (s *Server) submitSearchAll(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(chi.URLParam(r, "keyword"))
	if keyword == "" {
		writeEnvelope(w, http.StatusBadRequest, nil, "keyword is required")
		return
	}
	q := r.URL.Query()
	opts := s.options(q.Get("maxConcurrency"), q.Get("delayMin"), q.Get("delayMax"))
	s.submit(w, keyword, s.regions.AllCities(), opts)
}

func (s *Server) submit(w http.ResponseWriter, keyword string, cities []string, opts bulk.Options) {
	if s.jobs == nil {
		writeEnvelope(w, http.StatusServiceUnavailable, nil, "job service unavailable")
		return
	}
	job, err := s.jobs.Submit(keyword, cities, opts)
	if errors.Is(err, bulk.ErrEmptyKeyword) || errors.Is(err, bulk.ErrNoRegions) {
		writeEnvelope(w, http.StatusBadRequest, nil, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("submit bulk search failed", zap.String("keyword", keyword), zap.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, nil, "internal server error")
		return
	}
	writeOK(w, submission{
		TaskID:      job.ID,
		Keyword:     keyword,
		Message:     "task created and running in the background",
		DelayRange:  fmt.Sprintf("%dms - %dms", opts.Delay.Min.Milliseconds(), opts.Delay.Max.Milliseconds()),
		TotalCities: len(cities),
	})
}

// options resolves caller overrides against configured defaults. An absent
// or unparsable value uses the default. Delays may be set to zero explicitly
// to turn pacing off; concurrency must be positive.
func (s *Server) options(maxConcurrency, delayMin, delayMax string) bulk.Options {
	bs := s.cfg.BulkSearch
	lo := intOr(delayMin, bs.DelayMinMs, 0)
	hi := intOr(delayMax, bs.DelayMaxMs, 0)
	if hi < lo {
		hi = lo
	}
	return bulk.Options{
		MaxConcurrency: intOr(maxConcurrency, bs.MaxConcurrency, 1),
		Delay: poi.DelayWindow{
			Min: time.Duration(lo) * time.Millisecond,
			Max: time.Duration(hi) * time.Millisecond,
		},
		NoDelay: lo == 0 && hi == 0,
	}
}

// intOr parses raw, returning def when raw is empty, malformed or below floor.
func intOr(raw string, def, floor int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < floor {
		return def
	}
	return n
}
