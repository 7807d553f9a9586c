// Package region paginates one region's search results to exhaustion.
package region

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/fanout"
	"github.com/JakeFAU/realtime-poi-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

// PartialFailure records that a region stopped early because a page could
// not be fetched. Records gathered before LastGoodPage are still returned.
type PartialFailure struct {
	Region       string
	FailedPage   int
	LastGoodPage int
	Err          error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("region %s truncated at page %d: %v", e.Region, e.FailedPage, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }

// Config controls pagination.
type Config struct {
	PageSize int
	// PageConcurrency is how many pages after the first are fetched at once.
	PageConcurrency int
	// MaxPages caps the pages fetched per region. Zero means unlimited.
	MaxPages int
	// FilterByKeyword drops records whose name does not contain the keyword.
	FilterByKeyword bool
	Key             string
	Retry           poi.RetryPolicy
}

// Searcher walks all pages of a region.
type Searcher struct {
	pages  poi.PageSearcher
	cfg    Config
	logger *zap.Logger
}

// NewSearcher builds a Searcher.
func NewSearcher(pages poi.PageSearcher, cfg Config, logger *zap.Logger) (*Searcher, error) {
	if pages == nil {
		return nil, errors.New("page searcher is required")
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = poi.DefaultPageSize
	}
	if cfg.PageConcurrency < 1 {
		cfg.PageConcurrency = 1
	}
	if cfg.MaxPages < 0 {
		cfg.MaxPages = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{pages: pages, cfg: cfg, logger: logger}, nil
}

type pageOutcome struct {
	page poi.Page
	err  error
}

// SearchRegion fetches page 1, then later pages in batches of
// PageConcurrency, until a short page or a failed page ends the region.
// Pages are inspected in order, so anything fetched past the stopping page in
// the same batch is discarded. It never returns an error: upstream failures
// truncate (or empty) the result and are recorded in RegionResult.Err.
func (s *Searcher) SearchRegion(ctx context.Context, keyword, region string, delay poi.DelayWindow) poi.RegionResult {
	logger := s.logger.With(zap.String("keyword", keyword), zap.String("region", region))
	result := poi.RegionResult{Region: region, Records: []poi.Record{}}

	first, err := s.pages.SearchPage(ctx, s.query(keyword, region, 1, delay))
	if err != nil {
		result.Err = &PartialFailure{Region: region, FailedPage: 1, Err: err}
		logger.Warn("first page failed, region skipped", zap.Error(err))
		metrics.ObserveRegion("empty", 0)
		return result
	}
	result.Records = s.collect(result.Records, keyword, first)
	lastGood := 1

	done := len(first.Records) < s.cfg.PageSize
	next := 2
	for !done {
		if s.cfg.MaxPages > 0 && next > s.cfg.MaxPages {
			logger.Info("page cap reached", zap.Int("max_pages", s.cfg.MaxPages))
			break
		}
		batch := s.batch(next)
		outcomes, mapErr := fanout.Map(ctx, batch, s.cfg.PageConcurrency,
			func(ctx context.Context, pageNum int, _ int) (pageOutcome, error) {
				page, err := s.pages.SearchPage(ctx, s.query(keyword, region, pageNum, delay))
				return pageOutcome{page: page, err: err}, nil
			})
		if mapErr != nil {
			result.Err = &PartialFailure{Region: region, FailedPage: next, LastGoodPage: lastGood, Err: mapErr}
			break
		}
		for i, out := range outcomes {
			pageNum := batch[i]
			if out.err != nil {
				result.Err = &PartialFailure{Region: region, FailedPage: pageNum, LastGoodPage: lastGood, Err: out.err}
				logger.Warn("page failed, region truncated",
					zap.Int("page", pageNum),
					zap.Int("last_good_page", lastGood),
					zap.Error(out.err),
				)
				done = true
				break
			}
			result.Records = s.collect(result.Records, keyword, out.page)
			lastGood = pageNum
			if len(out.page.Records) < s.cfg.PageSize {
				done = true
				break
			}
		}
		next += len(batch)
	}

	result.Total = len(result.Records)
	outcome := "complete"
	if result.Err != nil {
		outcome = "truncated"
	}
	metrics.ObserveRegion(outcome, result.Total)
	logger.Debug("region finished", zap.Int("records", result.Total), zap.Int("last_page", lastGood))
	return result
}

func (s *Searcher) batch(start int) []int {
	width := s.cfg.PageConcurrency
	if s.cfg.MaxPages > 0 && start+width-1 > s.cfg.MaxPages {
		width = s.cfg.MaxPages - start + 1
	}
	pages := make([]int, width)
	for i := range pages {
		pages[i] = start + i
	}
	return pages
}

func (s *Searcher) collect(dst []poi.Record, keyword string, page poi.Page) []poi.Record {
	if !s.cfg.FilterByKeyword {
		return append(dst, page.Records...)
	}
	needle := strings.ToLower(keyword)
	for _, rec := range page.Records {
		if strings.Contains(strings.ToLower(rec.Name), needle) {
			dst = append(dst, rec)
		}
	}
	return dst
}

func (s *Searcher) query(keyword, region string, pageNum int, delay poi.DelayWindow) poi.SearchQuery {
	return poi.SearchQuery{
		Keyword:  keyword,
		Region:   region,
		PageNum:  pageNum,
		PageSize: s.cfg.PageSize,
		Key:      s.cfg.Key,
		Delay:    delay,
		Retry:    s.cfg.Retry,
	}
}
