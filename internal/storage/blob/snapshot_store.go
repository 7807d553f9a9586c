// Package blob persists bulk-search aggregates as one JSON snapshot per
// keyword and day on top of any object store (memory, local disk or GCS).
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

// DefaultPrefix is the object folder used when none is configured.
const DefaultPrefix = "poi"

// Store is the object-store surface the snapshot store needs.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// GetObject returns an error wrapping poi.ErrNotFound for missing objects.
	GetObject(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// SnapshotStore implements poi.ResultStore with objects named
// "<prefix>/<keyword>_<YYYY-MM-DD>.json". Saving the same keyword and day
// again replaces the snapshot.
type SnapshotStore struct {
	store   Store
	prefix  string
	backend string
	loc     *time.Location
	logger  *zap.Logger
}

// Option customizes a SnapshotStore.
type Option func(*SnapshotStore)

// WithLocation sets the zone dates are parsed in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *SnapshotStore) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithBackendName labels save metrics, e.g. "gcs" or "local".
func WithBackendName(name string) Option {
	return func(s *SnapshotStore) {
		if name != "" {
			s.backend = name
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SnapshotStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSnapshotStore wraps an object store.
func NewSnapshotStore(store Store, prefix string, opts ...Option) (*SnapshotStore, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &SnapshotStore{
		store:   store,
		prefix:  prefix,
		backend: "blob",
		loc:     time.UTC,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ObjectPath is where the snapshot for keyword on day lives.
func (s *SnapshotStore) ObjectPath(keyword string, day time.Time) string {
	return path.Join(s.prefix, keyword+"_"+poi.DateKey(day)+".json")
}

// Save writes the aggregate and returns the object URI as the handle.
func (s *SnapshotStore) Save(ctx context.Context, agg poi.Aggregate) (string, error) {
	if strings.TrimSpace(agg.Keyword) == "" {
		return "", errors.New("aggregate keyword is required")
	}
	started := time.Now()
	if agg.Records == nil {
		agg.Records = []poi.Record{}
	}
	if agg.Breakdown == nil {
		agg.Breakdown = []poi.ProvinceCount{}
	}
	body, err := json.Marshal(agg)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	uri, err := s.store.PutObject(ctx, s.ObjectPath(agg.Keyword, agg.SearchDate), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	metrics.ObserveResultSave(s.backend, time.Since(started))
	s.logger.Info("snapshot saved",
		zap.String("keyword", agg.Keyword),
		zap.String("date", poi.DateKey(agg.SearchDate)),
		zap.Int("records", len(agg.Records)),
		zap.String("uri", uri),
	)
	return uri, nil
}

// Load reads the snapshot for keyword on day, or the newest one when day is
// zero.
func (s *SnapshotStore) Load(ctx context.Context, keyword string, day time.Time) (poi.Aggregate, error) {
	if day.IsZero() {
		dates, err := s.Dates(ctx, keyword)
		if err != nil {
			return poi.Aggregate{}, err
		}
		if len(dates) == 0 {
			return poi.Aggregate{}, fmt.Errorf("%w: %s", poi.ErrNotFound, keyword)
		}
		day = dates[0]
	}
	body, err := s.store.GetObject(ctx, s.ObjectPath(keyword, day))
	if err != nil {
		return poi.Aggregate{}, fmt.Errorf("read snapshot: %w", err)
	}
	var agg poi.Aggregate
	if err := json.Unmarshal(body, &agg); err != nil {
		return poi.Aggregate{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return agg, nil
}

// Keywords lists keywords with at least one snapshot, sorted.
func (s *SnapshotStore) Keywords(ctx context.Context) ([]string, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.keyword]; dup {
			continue
		}
		seen[e.keyword] = struct{}{}
		out = append(out, e.keyword)
	}
	sort.Strings(out)
	return out, nil
}

// Dates lists the days saved for keyword, newest first.
func (s *SnapshotStore) Dates(ctx context.Context, keyword string) ([]time.Time, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0)
	for _, e := range entries {
		if e.keyword == keyword {
			out = append(out, e.day)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}

// Close is a no-op; the underlying client is owned by the caller.
func (s *SnapshotStore) Close() error { return nil }

type entry struct {
	keyword string
	day     time.Time
}

func (s *SnapshotStore) entries(ctx context.Context) ([]entry, error) {
	names, err := s.store.List(ctx, s.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]entry, 0, len(names))
	for _, name := range names {
		e, ok := s.parseName(name)
		if !ok {
			s.logger.Debug("skipping foreign object", zap.String("object", name))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// parseName splits "<prefix>/<keyword>_<date>.json". Keywords may contain
// underscores, so the date is taken after the last one.
func (s *SnapshotStore) parseName(name string) (entry, bool) {
	base, ok := strings.CutPrefix(name, s.prefix+"/")
	if !ok || strings.Contains(base, "/") {
		return entry{}, false
	}
	base, ok = strings.CutSuffix(base, ".json")
	if !ok {
		return entry{}, false
	}
	cut := strings.LastIndex(base, "_")
	if cut <= 0 {
		return entry{}, false
	}
	day, err := time.ParseInLocation(time.DateOnly, base[cut+1:], s.loc)
	if err != nil {
		return entry{}, false
	}
	return entry{keyword: base[:cut], day: day}, true
}

var _ poi.ResultStore = (*SnapshotStore)(nil)
