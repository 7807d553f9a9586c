package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

var day = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T, batchSize int) (*ResultStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewResultStoreWithPool(mock, batchSize)
	require.NoError(t, err)
	return store, mock
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func sampleAggregate(n int) poi.Aggregate {
	lng, lat := 118.79, 32.06
	recs := make([]poi.Record, n)
	for i := range recs {
		recs[i] = poi.Record{
			ID:        "B0" + strings.Repeat("1", i+1),
			Name:      "Coffee",
			PName:     "江苏省",
			Location:  "118.79,32.06",
			Longitude: &lng,
			Latitude:  &lat,
		}
	}
	recs[0].Extra = map[string]any{"rating": "4.5"}
	return poi.Aggregate{
		Keyword:    "coffee",
		SearchDate: day.Add(15 * time.Hour),
		Timestamp:  day.Add(15 * time.Hour),
		TotalCount: n,
		Breakdown:  []poi.ProvinceCount{{Region: "江苏省", Count: n}},
		Records:    recs,
	}
}

func TestSaveUpsertsRecordAndInsertsBatches(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, 2)
	agg := sampleAggregate(5)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO search_records").
		WithArgs("coffee", day, 5, []byte(`[{"region":"江苏省","count":5}]`), agg.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO pois .* ON CONFLICT \\(amap_id, keyword, search_date\\) DO NOTHING").
		WithArgs(anyArgs(2 * len(poiColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("INSERT INTO pois").
		WithArgs(anyArgs(2 * len(poiColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("INSERT INTO pois").
		WithArgs(anyArgs(len(poiColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	handle, err := store.Save(context.Background(), agg)
	require.NoError(t, err)
	require.Equal(t, "database:coffee:2025-03-14", handle)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, 0)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO search_records").
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO pois").
		WithArgs(anyArgs(3 * len(poiColumns))...).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.Save(context.Background(), sampleAggregate(3))
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchPlaceholders(t *testing.T) {
	t.Parallel()

	agg := sampleAggregate(2)
	sql, args, err := insertBatch("coffee", day, 10, agg.Records)
	require.NoError(t, err)
	require.Len(t, args, 2*len(poiColumns))
	require.Contains(t, sql, "($1, $2, $3")
	require.Contains(t, sql, "$42)")
	require.Equal(t, 10, args[3])
	require.Equal(t, 11, args[len(poiColumns)+3])
	require.Equal(t, []byte(`{"rating":"4.5"}`), args[len(poiColumns)-1])
	require.Nil(t, args[2*len(poiColumns)-1])
}

func TestLoadLatest(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, 0)
	lng := 118.79
	updated := day.Add(16 * time.Hour)

	mock.ExpectQuery("SELECT search_date FROM search_records").
		WithArgs("coffee").
		WillReturnRows(mock.NewRows([]string{"search_date"}).AddRow(day))
	mock.ExpectQuery("SELECT total_count, region_breakdown, updated_at").
		WithArgs("coffee", day).
		WillReturnRows(mock.NewRows([]string{"total_count", "region_breakdown", "updated_at"}).
			AddRow(2, []byte(`[{"region":"江苏省","count":2}]`), updated))
	mock.ExpectQuery("FROM pois").
		WithArgs("coffee", day).
		WillReturnRows(mock.NewRows([]string{
			"amap_id", "name", "type", "typecode", "biz_type", "address", "location", "longitude",
			"latitude", "tel", "distance", "business_area", "navi_poiid", "pcode", "adcode", "pname",
			"cityname", "extra_data",
		}).
			AddRow("B01", "Coffee", "", "", "", "", "118.79,32.06", &lng, nil, "", "", "", "", "320000", "320100", "江苏省", "南京市", []byte(`{"rating":"4.5"}`)).
			AddRow("B02", "Coffee 2", "", "", "", "", "", nil, nil, "", "", "", "", "", "", "", "", []byte(`{}`)))

	agg, err := store.Load(context.Background(), "coffee", time.Time{})
	require.NoError(t, err)
	require.Equal(t, 2, agg.TotalCount)
	require.Equal(t, day, agg.SearchDate)
	require.Equal(t, updated, agg.Timestamp)
	require.Equal(t, []poi.ProvinceCount{{Region: "江苏省", Count: 2}}, agg.Breakdown)
	require.Len(t, agg.Records, 2)
	require.Equal(t, "南京市", agg.Records[0].CityName)
	require.InDelta(t, 118.79, *agg.Records[0].Longitude, 1e-9)
	require.Nil(t, agg.Records[0].Latitude)
	require.Equal(t, "4.5", agg.Records[0].Extra["rating"])
	require.Nil(t, agg.Records[1].Extra)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadMissingIsNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, 0)
	mock.ExpectQuery("SELECT search_date FROM search_records").
		WithArgs("tea").
		WillReturnRows(mock.NewRows([]string{"search_date"}))

	_, err := store.Load(context.Background(), "tea", time.Time{})
	require.ErrorIs(t, err, poi.ErrNotFound)

	mock.ExpectQuery("SELECT total_count").
		WithArgs("tea", day).
		WillReturnRows(mock.NewRows([]string{"total_count", "region_breakdown", "updated_at"}))
	_, err = store.Load(context.Background(), "tea", day.Add(3*time.Hour))
	require.ErrorIs(t, err, poi.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeywordsAndDates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, 0)
	mock.ExpectQuery("SELECT DISTINCT keyword").
		WillReturnRows(mock.NewRows([]string{"keyword"}).AddRow("coffee").AddRow("tea"))
	mock.ExpectQuery("SELECT search_date FROM search_records WHERE keyword").
		WithArgs("coffee").
		WillReturnRows(mock.NewRows([]string{"search_date"}).AddRow(day).AddRow(day.AddDate(0, 0, -1)))

	keywords, err := store.Keywords(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"coffee", "tea"}, keywords)

	dates, err := store.Dates(context.Background(), "coffee")
	require.NoError(t, err)
	require.Equal(t, []time.Time{day, day.AddDate(0, 0, -1)}, dates)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, 0)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS search_records").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewResultStoreValidates(t *testing.T) {
	t.Parallel()

	_, err := NewResultStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewResultStoreWithPool(nil, 0)
	require.Error(t, err)
	require.Equal(t, "database:奶茶:2025-03-14", Handle("奶茶", day))
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewResultStoreWithPool(mock, 0)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = store.Ping(context.Background())
	require.ErrorContains(t, err, "ping postgres")
	require.ErrorContains(t, err, "connection refused")

	require.NoError(t, mock.ExpectationsWereMet())
}
