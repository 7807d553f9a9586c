package amap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/realtime-poi-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

const okBody = `{"status":"1","count":"2","info":"OK","infocode":"10000",
"pois":[{"id":"B1","name":"Coffee A","location":"118.1,32.1","pname":"江苏省","tel":[]},
{"id":"B2","name":"Coffee B","location":"","pname":"江苏省"}]}`

const limitedBody = `{"status":"0","count":"0","info":"CUQPS_HAS_EXCEEDED_THE_LIMIT","infocode":"10021","pois":[]}`

type scriptedFetcher struct {
	mu      sync.Mutex
	steps   []fetchStep
	calls   int
	lastURL string
}

type fetchStep struct {
	status int
	body   string
	err    error
}

func (f *scriptedFetcher) Fetch(_ context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastURL = req.URL
	step := f.steps[len(f.steps)-1]
	if f.calls < len(f.steps) {
		step = f.steps[f.calls]
	}
	f.calls++
	if step.err != nil {
		return collyfetcher.Response{}, step.err
	}
	return collyfetcher.Response{StatusCode: step.status, Body: []byte(step.body)}, nil
}

type recorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
	bounds [][2]time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func (r *recorder) jitter(lo, hi time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bounds = append(r.bounds, [2]time.Duration{lo, hi})
	return lo
}

func newTestClient(t *testing.T, f Fetcher, rec *recorder) *Client {
	t.Helper()
	c, err := NewClient(Config{Key: "test-key"}, f, WithSleeper(rec.sleep), WithJitter(rec.jitter))
	require.NoError(t, err)
	return c
}

func query() poi.SearchQuery {
	return poi.SearchQuery{
		Keyword:  "coffee",
		Region:   "南京市",
		PageNum:  2,
		PageSize: 25,
		Retry:    poi.RetryPolicy{Count: 3, BaseDelay: time.Second},
	}
}

func TestSearchPageSuccessBuildsQuery(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{steps: []fetchStep{{status: http.StatusOK, body: okBody}}}
	rec := &recorder{}
	page, err := newTestClient(t, f, rec).SearchPage(context.Background(), query())
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	require.Len(t, page.Records, 2)
	require.Equal(t, "B1", page.Records[0].ID)
	require.Empty(t, page.Records[0].Tel)
	require.NotNil(t, page.Records[0].Longitude)
	require.Nil(t, page.Records[1].Longitude)
	require.Empty(t, rec.sleeps)

	u, err := url.Parse(f.lastURL)
	require.NoError(t, err)
	require.Equal(t, "restapi.amap.com", u.Host)
	q := u.Query()
	require.Equal(t, "test-key", q.Get("key"))
	require.Equal(t, "coffee", q.Get("keywords"))
	require.Equal(t, "南京市", q.Get("region"))
	require.Equal(t, "25", q.Get("page_size"))
	require.Equal(t, "2", q.Get("page_num"))
	require.Equal(t, "true", q.Get("city_limit"))
}

func TestSearchPagePacesWithinDelayWindow(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{steps: []fetchStep{{status: http.StatusOK, body: okBody}}}
	rec := &recorder{}
	q := query()
	q.Delay = poi.DelayWindow{Min: 1000 * time.Millisecond, Max: 1500 * time.Millisecond}
	_, err := newTestClient(t, f, rec).SearchPage(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, [][2]time.Duration{{time.Second, 1500 * time.Millisecond}}, rec.bounds)
	require.Equal(t, []time.Duration{time.Second}, rec.sleeps)
}

func TestSearchPageRetriesSoftLimitThenSucceeds(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{steps: []fetchStep{
		{status: http.StatusOK, body: limitedBody},
		{status: http.StatusOK, body: limitedBody},
		{status: http.StatusOK, body: okBody},
	}}
	rec := &recorder{}
	page, err := newTestClient(t, f, rec).SearchPage(context.Background(), query())
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, 3, f.calls)
	require.Len(t, rec.sleeps, 2)
	for _, b := range rec.bounds {
		require.Equal(t, time.Second, b[0])
		require.Equal(t, 1500*time.Millisecond, b[1])
	}
}

func TestSearchPageDefaultBackoffWindow(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{steps: []fetchStep{
		{status: http.StatusOK, body: limitedBody},
		{status: http.StatusOK, body: okBody},
	}}
	rec := &recorder{}
	c, err := NewClient(Config{
		BaseURL:       DefaultBaseURL,
		Key:           "test-key",
		RateLimitInfo: DefaultRateLimitInfo,
	}, f, WithSleeper(rec.sleep), WithJitter(rec.jitter))
	require.NoError(t, err)

	q := query()
	q.Retry.BaseDelay = 200 * time.Millisecond
	_, err = c.SearchPage(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, [][2]time.Duration{{200 * time.Millisecond, 700 * time.Millisecond}}, rec.bounds)
}

func TestSearchPageCustomBackoffSpread(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{steps: []fetchStep{
		{status: http.StatusBadGateway},
		{status: http.StatusOK, body: okBody},
	}}
	rec := &recorder{}
	c, err := NewClient(Config{BackoffSpread: 100 * time.Millisecond}, f,
		WithSleeper(rec.sleep), WithJitter(rec.jitter))
	require.NoError(t, err)

	_, err = c.SearchPage(context.Background(), query())
	require.NoError(t, err)
	require.Equal(t, [][2]time.Duration{{time.Second, 1100 * time.Millisecond}}, rec.bounds)
}

func TestSearchPageExhaustsBudget(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{steps: []fetchStep{{status: http.StatusInternalServerError, body: "oops"}}}
	rec := &recorder{}
	_, err := newTestClient(t, f, rec).SearchPage(context.Background(), query())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrExhaustedRetries)

	var exhausted *ExhaustedRetriesError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)

	require.Equal(t, 3, f.calls)
	require.Len(t, rec.sleeps, 2)
}

func TestSearchPageSoftLimitOnLastAttempt(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{steps: []fetchStep{{status: http.StatusOK, body: limitedBody}}}
	rec := &recorder{}
	q := query()
	q.Retry.Count = 2
	_, err := newTestClient(t, f, rec).SearchPage(context.Background(), q)
	var rateErr *RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	require.Equal(t, "10021", rateErr.InfoCode)
	require.Equal(t, 2, f.calls)
	require.Len(t, rec.sleeps, 1)
}

func TestSearchPageTransportAndDecodeErrorsRetry(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{steps: []fetchStep{
		{err: errors.New("connection reset")},
		{status: http.StatusOK, body: "<html>gateway</html>"},
		{status: http.StatusOK, body: okBody},
	}}
	rec := &recorder{}
	page, err := newTestClient(t, f, rec).SearchPage(context.Background(), query())
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	require.Equal(t, 3, f.calls)
}

func TestSearchPageZeroBudgetMeansOneAttempt(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{steps: []fetchStep{{err: errors.New("down")}}}
	rec := &recorder{}
	q := query()
	q.Retry.Count = 0
	_, err := newTestClient(t, f, rec).SearchPage(context.Background(), q)
	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, "fetch", tErr.Op)
	require.Equal(t, 1, f.calls)
	require.Empty(t, rec.sleeps)
}

func TestSearchPageStopsOnCanceledSleep(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{steps: []fetchStep{{status: http.StatusBadGateway}}}
	ctx, cancel := context.WithCancel(context.Background())
	c, err := NewClient(Config{}, f,
		WithJitter(func(lo, _ time.Duration) time.Duration { return lo }),
		WithSleeper(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)
	require.NoError(t, err)
	_, err = c.SearchPage(ctx, query())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, f.calls)
}

func TestSearchPageAgainstHTTPServer(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			_, _ = w.Write([]byte(limitedBody))
			return
		}
		if r.URL.Query().Get("keywords") != "coffee" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	rec := &recorder{}
	c, err := NewClient(Config{BaseURL: srv.URL, Key: "k"},
		collyfetcher.New(collyfetcher.Config{Timeout: time.Second}),
		WithSleeper(rec.sleep), WithJitter(rec.jitter))
	require.NoError(t, err)

	page, err := c.SearchPage(context.Background(), query())
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, int32(2), hits.Load())
	require.Len(t, rec.sleeps, 1)
}

func TestUniformStaysInBounds(t *testing.T) {
	t.Parallel()

	lo, hi := time.Second, 1500*time.Millisecond
	for i := 0; i < 500; i++ {
		d := uniform(lo, hi)
		require.GreaterOrEqual(t, d, lo)
		require.LessOrEqual(t, d, hi)
	}
	require.Equal(t, lo, uniform(lo, lo))
	require.Equal(t, lo, uniform(lo, lo/2))
}

func TestNewClientRequiresFetcher(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
}
