// Package postgres persists bulk-search aggregates in Postgres: one
// search_records row per (keyword, day) and one pois row per record.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-poi-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

// Schema creates the tables used by ResultStore.
//
//go:embed schema.sql
var Schema string

// DefaultBatchSize is the number of records inserted per statement.
const DefaultBatchSize = 1000

// HandlePrefix starts every handle returned by Save.
const HandlePrefix = "database"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	BatchSize       int
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ poi.ResultStore = (*ResultStore)(nil)

// ResultStore implements poi.ResultStore on Postgres.
type ResultStore struct {
	pool      pool
	batchSize int
}

// NewResultStore connects a pool using cfg.
func NewResultStore(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewResultStoreWithPool(p, cfg.BatchSize)
}

// NewResultStoreWithPool builds a store on an existing pool (primarily for
// tests).
func NewResultStoreWithPool(p pool, batchSize int) (*ResultStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ResultStore{pool: p, batchSize: batchSize}, nil
}

// EnsureSchema creates the tables if they are missing.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *ResultStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *ResultStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Handle renders the locator returned by Save.
func Handle(keyword string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", HandlePrefix, keyword, poi.DateKey(day))
}

const upsertRecordSQL = `
INSERT INTO search_records (keyword, search_date, total_count, region_breakdown, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (keyword, search_date) DO UPDATE
SET total_count = EXCLUDED.total_count,
    region_breakdown = EXCLUDED.region_breakdown,
    updated_at = EXCLUDED.updated_at`

var poiColumns = []string{
	"amap_id", "keyword", "search_date", "seq", "name", "type", "typecode", "biz_type",
	"address", "location", "longitude", "latitude", "tel", "distance", "business_area",
	"navi_poiid", "pcode", "adcode", "pname", "cityname", "extra_data",
}

// Save upserts the (keyword, day) summary and inserts the records in
// batches, skipping rows already stored for that day. Everything runs in
// one transaction.
func (s *ResultStore) Save(ctx context.Context, agg poi.Aggregate) (string, error) {
	started := time.Now()
	day := poi.Midnight(agg.SearchDate)
	breakdown, err := json.Marshal(nonNilBreakdown(agg.Breakdown))
	if err != nil {
		return "", fmt.Errorf("marshal breakdown: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsertRecordSQL, agg.Keyword, day, agg.TotalCount, breakdown, agg.Timestamp); err != nil {
		return "", fmt.Errorf("upsert search record: %w", err)
	}
	for start := 0; start < len(agg.Records); start += s.batchSize {
		end := min(start+s.batchSize, len(agg.Records))
		sql, args, err := insertBatch(agg.Keyword, day, start, agg.Records[start:end])
		if err != nil {
			return "", err
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return "", fmt.Errorf("insert pois %d-%d: %w", start, end, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit save: %w", err)
	}
	metrics.ObserveResultSave("postgres", time.Since(started))
	return Handle(agg.Keyword, day), nil
}

func insertBatch(keyword string, day time.Time, offset int, records []poi.Record) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO pois (")
	b.WriteString(strings.Join(poiColumns, ", "))
	b.WriteString(") VALUES ")
	args := make([]any, 0, len(records)*len(poiColumns))
	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range poiColumns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+c+1)
		}
		b.WriteByte(')')

		var extra []byte
		if len(rec.Extra) > 0 {
			raw, err := json.Marshal(rec.Extra)
			if err != nil {
				return "", nil, fmt.Errorf("marshal extra for %s: %w", rec.ID, err)
			}
			extra = raw
		}
		args = append(args,
			rec.ID, keyword, day, offset+i, rec.Name, rec.Type, rec.TypeCode, rec.BizType,
			rec.Address, rec.Location, rec.Longitude, rec.Latitude, rec.Tel, rec.Distance, rec.BusinessArea,
			rec.NaviPoiID, rec.PCode, rec.AdCode, rec.PName, rec.CityName, extra,
		)
	}
	b.WriteString(" ON CONFLICT (amap_id, keyword, search_date) DO NOTHING")
	return b.String(), args, nil
}

const (
	latestDateSQL = `SELECT search_date FROM search_records WHERE keyword = $1 ORDER BY search_date DESC LIMIT 1`
	recordSQL     = `SELECT total_count, region_breakdown, updated_at FROM search_records WHERE keyword = $1 AND search_date = $2`
	poisSQL       = `
SELECT amap_id, COALESCE(name, ''), COALESCE(type, ''), COALESCE(typecode, ''), COALESCE(biz_type, ''),
       COALESCE(address, ''), COALESCE(location, ''), longitude, latitude, COALESCE(tel, ''),
       COALESCE(distance, ''), COALESCE(business_area, ''), COALESCE(navi_poiid, ''), COALESCE(pcode, ''),
       COALESCE(adcode, ''), COALESCE(pname, ''), COALESCE(cityname, ''), COALESCE(extra_data, '{}'::jsonb)
FROM pois
WHERE keyword = $1 AND search_date = $2
ORDER BY seq, id`
	keywordsSQL = `SELECT DISTINCT keyword FROM search_records ORDER BY keyword`
	datesSQL    = `SELECT search_date FROM search_records WHERE keyword = $1 ORDER BY search_date DESC`
)

// Load reads the aggregate for keyword on day, or the latest day when day is
// zero. It returns poi.ErrNotFound when nothing was saved.
func (s *ResultStore) Load(ctx context.Context, keyword string, day time.Time) (poi.Aggregate, error) {
	if day.IsZero() {
		if err := s.pool.QueryRow(ctx, latestDateSQL, keyword).Scan(&day); err != nil {
			return poi.Aggregate{}, notFound(err, keyword)
		}
	}
	day = poi.Midnight(day)

	agg := poi.Aggregate{Keyword: keyword, SearchDate: day}
	var breakdown []byte
	if err := s.pool.QueryRow(ctx, recordSQL, keyword, day).Scan(&agg.TotalCount, &breakdown, &agg.Timestamp); err != nil {
		return poi.Aggregate{}, notFound(err, keyword)
	}
	if err := json.Unmarshal(breakdown, &agg.Breakdown); err != nil {
		return poi.Aggregate{}, fmt.Errorf("decode breakdown: %w", err)
	}

	rows, err := s.pool.Query(ctx, poisSQL, keyword, day)
	if err != nil {
		return poi.Aggregate{}, fmt.Errorf("query pois: %w", err)
	}
	defer rows.Close()
	agg.Records = make([]poi.Record, 0, agg.TotalCount)
	for rows.Next() {
		var (
			rec   poi.Record
			extra []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.Type, &rec.TypeCode, &rec.BizType,
			&rec.Address, &rec.Location, &rec.Longitude, &rec.Latitude, &rec.Tel,
			&rec.Distance, &rec.BusinessArea, &rec.NaviPoiID, &rec.PCode,
			&rec.AdCode, &rec.PName, &rec.CityName, &extra,
		); err != nil {
			return poi.Aggregate{}, fmt.Errorf("scan poi: %w", err)
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &rec.Extra); err != nil {
				return poi.Aggregate{}, fmt.Errorf("decode extra for %s: %w", rec.ID, err)
			}
			if len(rec.Extra) == 0 {
				rec.Extra = nil
			}
		}
		agg.Records = append(agg.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return poi.Aggregate{}, fmt.Errorf("iterate pois: %w", err)
	}
	return agg, nil
}

// Keywords lists saved keywords alphabetically.
func (s *ResultStore) Keywords(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, keywordsSQL)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect keywords: %w", err)
	}
	return out, nil
}

// Dates lists the saved days for keyword, newest first.
func (s *ResultStore) Dates(ctx context.Context, keyword string) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, datesSQL, keyword)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("collect dates: %w", err)
	}
	return out, nil
}

func notFound(err error, keyword string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: keyword %q", poi.ErrNotFound, keyword)
	}
	return fmt.Errorf("load %q: %w", keyword, err)
}

func nonNilBreakdown(rows []poi.ProvinceCount) []poi.ProvinceCount {
	if rows == nil {
		return []poi.ProvinceCount{}
	}
	return rows
}
