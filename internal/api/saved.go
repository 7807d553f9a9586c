package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

func (s *Server) savedLatest(w http.ResponseWriter, r *http.Request) {
	s.writeAggregate(w, r, chi.URLParam(r, "keyword"), time.Time{})
}

func (s *Server) savedByDate(w http.ResponseWriter, r *http.Request) {
	day, err := time.ParseInLocation(time.DateOnly, chi.URLParam(r, "date"), time.UTC)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, "date must be YYYY-MM-DD")
		return
	}
	s.writeAggregate(w, r, chi.URLParam(r, "keyword"), day)
}

func (s *Server) writeAggregate(w http.ResponseWriter, r *http.Request, keyword string, day time.Time) {
	if s.results == nil {
		writeEnvelope(w, http.StatusServiceUnavailable, nil, "result store unavailable")
		return
	}
	agg, err := s.results.Load(r.Context(), keyword, day)
	if errors.Is(err, poi.ErrNotFound) {
		writeEnvelope(w, http.StatusNotFound, nil, "no saved results for "+keyword)
		return
	}
	if err != nil {
		s.logger.Error("load saved results failed", zap.String("keyword", keyword), zap.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, nil, "internal server error")
		return
	}
	agg.Breakdown = s.regions.ToProvinceBreakdown(agg.Breakdown)
	writeOK(w, agg)
}

func (s *Server) savedKeywords(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeEnvelope(w, http.StatusServiceUnavailable, nil, "result store unavailable")
		return
	}
	keywords, err := s.results.Keywords(r.Context())
	if err != nil {
		s.logger.Error("list saved keywords failed", zap.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, nil, "internal server error")
		return
	}
	writeOK(w, keywords)
}

func (s *Server) savedDates(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeEnvelope(w, http.StatusServiceUnavailable, nil, "result store unavailable")
		return
	}
	keyword := chi.URLParam(r, "keyword")
	dates, err := s.results.Dates(r.Context(), keyword)
	if err != nil {
		s.logger.Error("list saved dates failed", zap.String("keyword", keyword), zap.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, nil, "internal server error")
		return
	}
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, poi.DateKey(d))
	}
	if len(out) == 0 {
		writeEnvelope(w, http.StatusNotFound, out, "no saved dates for "+keyword)
		return
	}
	writeOK(w, out)
}

func (s *Server) listRegions(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.regions.Provinces())
}

func (s *Server) listCities(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.regions.AllCities())
}

func (s *Server) provinceCities(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.regions.ProvinceCities())
}
