package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"

	"marketpulse/internal/agents"
	"marketpulse/internal/cache"
	"marketpulse/internal/llm"
	"marketpulse/internal/market"
	"marketpulse/internal/storage"
	"marketpulse/internal/task/scheduler"
	logx "marketpulse/pkg/logx"
)

var at = time.UnixMilli(1700000010000).UTC()

type fakeSnapshots struct{ err error }

func (f *fakeSnapshots) Capture(_ context.Context, ticker string) (storage.Snapshot, error) {
	if f.err != nil {
		return storage.Snapshot{}, f.err
	}
	return storage.Snapshot{ID: 7, Ticker: ticker, At: at, Quote: json.RawMessage(`{"price":1}`)}, nil
}

type fakeSentiment struct{ err error }

func (f *fakeSentiment) Analyze(_ context.Context, ticker string) (storage.Sentiment, error) {
	if f.err != nil {
		return storage.Sentiment{}, f.err
	}
	return storage.Sentiment{ID: 3, Ticker: ticker, Label: "bullish", Score: 0.5, Summary: "good", At: at}, nil
}

type fakeCleaner struct{ err error }

func (f *fakeCleaner) Clean(context.Context) (storage.PruneResult, error) {
	return storage.PruneResult{Snapshots: 4, Sentiments: 2}, f.err
}

type fakeAdvisor struct {
	d   llm.Decision
	err error
}

func (f *fakeAdvisor) Advise(context.Context, string) (llm.Decision, error) { return f.d, f.err }

type fakeReader struct {
	snaps []storage.Snapshot
	limit int
	err   error
}

func (f *fakeReader) LatestSnapshots(_ context.Context, _ string, limit int) ([]storage.Snapshot, error) {
	f.limit = limit
	return f.snaps, f.err
}

func (f *fakeReader) LatestSentiments(_ context.Context, _ string, limit int) ([]storage.Sentiment, error) {
	f.limit = limit
	return nil, f.err
}

type fakeSchedules struct{}

func (fakeSchedules) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Enabled: true, Running: true, Alignment: "once", Tasks: []scheduler.TaskInfo{{Name: "snapshot", Runs: 3}}}
}

func newTestRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(Config{}, d)
}

func do(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(newTestRouter(Deps{}), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSnapshotEndpoint(t *testing.T) {
	r := newTestRouter(Deps{Snapshots: &fakeSnapshots{}})

	w := do(r, "/snapshot")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, "/snapshot?ticker=nvda")
	assert.Equal(t, http.StatusCreated, w.Code)
	var snap storage.Snapshot
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "NVDA", snap.Ticker)
	assert.Equal(t, int64(7), snap.ID)

	r = newTestRouter(Deps{Snapshots: &fakeSnapshots{err: errors.New("upstream down")}})
	w = do(r, "/snapshot?ticker=NVDA")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	r = newTestRouter(Deps{Snapshots: &fakeSnapshots{err: fmt.Errorf("quote: %w", market.ErrNotFound)}})
	w = do(r, "/snapshot?ticker=ZZZZ")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTickerEndpoint(t *testing.T) {
	r := newTestRouter(Deps{Sentiment: &fakeSentiment{}})

	w := do(r, "/ticker")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Ticker query parameter is required.", w.Body.String())

	w = do(r, "/ticker?ticker=AAPL")
	assert.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Message string            `json:"message"`
		Data    storage.Sentiment `json:"data"`
	}
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Sentiment analysis completed successfully.", res.Message)
	assert.Equal(t, "bullish", res.Data.Label)

	r = newTestRouter(Deps{Sentiment: &fakeSentiment{err: fmt.Errorf("AAPL: %w", agents.ErrNoNews)}})
	w = do(r, "/ticker?ticker=AAPL")
	assert.Equal(t, http.StatusNotFound, w.Code)

	r = newTestRouter(Deps{Sentiment: &fakeSentiment{err: llm.ErrEmptyResponse}})
	w = do(r, "/ticker?ticker=AAPL")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to process sentiment.", w.Body.String())
}

func TestCleanEndpoint(t *testing.T) {
	w := do(newTestRouter(Deps{Cleaner: &fakeCleaner{}}), "/clean")
	assert.Equal(t, http.StatusOK, w.Code)
	var res map[string]any
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Cleanup completed successfully.", res["message"])
	assert.Equal(t, float64(2), res["sentimentDeleted"])
	assert.Equal(t, float64(4), res["snapshotDeleted"])

	w = do(newTestRouter(Deps{Cleaner: &fakeCleaner{err: errors.New("locked")}}), "/clean")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestInferenceEndpoint(t *testing.T) {
	r := newTestRouter(Deps{Advisor: &fakeAdvisor{d: llm.Decision{Decision: "wait", Quantity: -1, Analysis: "flat"}}})
	w := do(r, "/inference?ticker=NVDA")
	assert.Equal(t, http.StatusOK, w.Code)
	var d llm.Decision
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, "wait", d.Decision)

	r = newTestRouter(Deps{Advisor: &fakeAdvisor{err: &llm.ParseError{Raw: "not json", Err: errors.New("bad")}}})
	w = do(r, "/inference?ticker=NVDA")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var res map[string]string
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "not json", res["rawResponse"])

	w = do(r, "/inference")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEndpoints(t *testing.T) {
	rd := &fakeReader{snaps: []storage.Snapshot{{ID: 2, Ticker: "NVDA"}, {ID: 1, Ticker: "NVDA"}}}
	r := newTestRouter(Deps{Store: rd})

	w := do(r, "/snapshots?ticker=nvda&limit=5000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxListLimit, rd.limit)
	var res struct {
		Ticker string             `json:"ticker"`
		Items  []storage.Snapshot `json:"items"`
	}
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, len(res.Items))

	w = do(r, "/sentiments?ticker=NVDA&limit=abc")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultListLimit, rd.limit)
	var sres struct {
		Items []storage.Sentiment `json:"items"`
	}
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &sres))
	assert.NotEqual(t, nil, sres.Items)
	assert.Equal(t, 0, len(sres.Items))

	w = do(newTestRouter(Deps{Store: &fakeReader{err: errors.New("db down")}}), "/snapshots?ticker=NVDA")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(newTestRouter(Deps{}), "/snapshots?ticker=NVDA")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLatestEndpoint(t *testing.T) {
	mem := cache.NewMemory("mp", time.Hour)
	r := newTestRouter(Deps{Cache: mem})

	w := do(r, "/latest?ticker=NVDA")
	assert.Equal(t, http.StatusNotFound, w.Code)

	_ = mem.Put(context.Background(), cache.KindSentiment, "NVDA", storage.Sentiment{ID: 9, Ticker: "NVDA", Label: "bearish"})
	w = do(r, "/latest?ticker=nvda")
	assert.Equal(t, http.StatusOK, w.Code)
	var res latestResponse
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, (*storage.Snapshot)(nil), res.Snapshot)
	assert.Equal(t, "bearish", res.Sentiment.Label)
}

func TestSchedulesEndpoint(t *testing.T) {
	w := do(newTestRouter(Deps{Schedules: fakeSchedules{}}), "/schedules")
	assert.Equal(t, http.StatusOK, w.Code)
	var snap scheduler.Snapshot
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 1, len(snap.Tasks))
	assert.Equal(t, uint64(3), snap.Tasks[0].Runs)
}

func TestPprofRequiresToken(t *testing.T) {
	r := newTestRouter(Deps{Pprof: true, PprofToken: "s3cret"})

	w := do(r, "/debug/pprof/")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, "/debug/pprof/?token=s3cret")
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/goroutine?debug=1", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(newTestRouter(Deps{}), "/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Config{CORSOrigins: []string{"http://localhost:3000"}}, Deps{})
	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerServesUntilCanceled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, NewRouter(Config{}, Deps{}), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	var addr string
	select {
	case addr = <-srv.Ready():
	case err := <-done:
		t.Fatalf("Serve returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, nil, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}


func TestGinModeFollowsDebug(t *testing.T) {
	assert.Equal(t, gin.ReleaseMode, ginMode(false))
	assert.Equal(t, gin.DebugMode, ginMode(true))

	gin.SetMode(gin.TestMode)
	NewRouter(Config{}, Deps{})
	assert.Equal(t, gin.TestMode, gin.Mode()) // router must not override test mode
}
