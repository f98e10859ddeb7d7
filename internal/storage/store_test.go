package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "marketpulse/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marketpulse.db")
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var drivers = []string{"sqlite", "file"}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none"} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
}

func TestSnapshotsRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range drivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, driver)
			base := time.UnixMilli(1700000010000).UTC()

			for i := 0; i < 3; i++ {
				q := json.RawMessage(fmt.Sprintf(`{"regularMarketPrice":%d}`, 100+i))
				got, err := st.AppendSnapshot(ctx, Snapshot{Ticker: "NVDA", At: base.Add(time.Duration(i) * 10 * time.Second), Quote: q})
				if err != nil {
					t.Fatalf("AppendSnapshot: %v", err)
				}
				if got.ID == 0 {
					t.Fatal("AppendSnapshot did not assign an id")
				}
			}
			if _, err := st.AppendSnapshot(ctx, Snapshot{Ticker: "AAPL", At: base}); err != nil {
				t.Fatalf("AppendSnapshot: %v", err)
			}

			got, err := st.LatestSnapshots(ctx, "NVDA", 2)
			if err != nil {
				t.Fatalf("LatestSnapshots: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len = %d, want 2", len(got))
			}
			if !got[0].At.Equal(base.Add(20*time.Second)) || got[0].Ticker != "NVDA" {
				t.Fatalf("newest = %+v", got[0])
			}
			var q struct {
				Price int `json:"regularMarketPrice"`
			}
			if err := json.Unmarshal(got[0].Quote, &q); err != nil || q.Price != 102 {
				t.Fatalf("quote = %s (%v)", got[0].Quote, err)
			}
		})
	}
}

func TestSentimentsRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range drivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, driver)

			in := Sentiment{Ticker: "TSLA", Label: "bearish", Score: -0.4, Summary: "delivery miss", At: time.UnixMilli(1700000400000)}
			saved, err := st.AppendSentiment(ctx, in)
			if err != nil {
				t.Fatalf("AppendSentiment: %v", err)
			}
			got, err := st.LatestSentiments(ctx, "TSLA", 10)
			if err != nil {
				t.Fatalf("LatestSentiments: %v", err)
			}
			if len(got) != 1 || got[0].ID != saved.ID || got[0].Label != "bearish" || got[0].Score != -0.4 || got[0].Summary != "delivery miss" {
				t.Fatalf("got %+v", got)
			}
			if empty, _ := st.LatestSentiments(ctx, "NONE", 10); len(empty) != 0 {
				t.Fatalf("unexpected rows for unknown ticker: %+v", empty)
			}
		})
	}
}

func TestAppendNewsSkipsDuplicateLinks(t *testing.T) {
	t.Parallel()
	for _, driver := range drivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, driver)

			batch := []News{
				{Title: "Fed holds rates", Link: "https://finance.yahoo.com/news/a", Source: "Yahoo Finance", Ticker: GeneralTicker},
				{Title: "AAPL beats", Link: "https://finance.yahoo.com/news/b", Source: "Yahoo Finance", Ticker: "AAPL"},
				{Title: "no link", Link: "", Source: "Yahoo Finance", Ticker: "AAPL"},
			}
			n, err := st.AppendNews(ctx, batch)
			if err != nil || n != 2 {
				t.Fatalf("AppendNews = %d, %v; want 2", n, err)
			}
			n, err = st.AppendNews(ctx, append(batch, News{Title: "new", Link: "https://finance.yahoo.com/news/c", Source: "Yahoo Finance", Ticker: "TSLA"}))
			if err != nil || n != 1 {
				t.Fatalf("second AppendNews = %d, %v; want 1", n, err)
			}
		})
	}
}

func TestPruneKeepsMostRecentPerTicker(t *testing.T) {
	t.Parallel()
	for _, driver := range drivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, driver)
			base := time.UnixMilli(1700000000000)

			for i := 0; i < 5; i++ {
				at := base.Add(time.Duration(i) * time.Minute)
				for _, ticker := range []string{"NVDA", "AAPL"} {
					if _, err := st.AppendSnapshot(ctx, Snapshot{Ticker: ticker, At: at, Quote: json.RawMessage(`{}`)}); err != nil {
						t.Fatal(err)
					}
				}
				if _, err := st.AppendSentiment(ctx, Sentiment{Ticker: "NVDA", Label: "neutral", At: at}); err != nil {
					t.Fatal(err)
				}
			}

			if _, err := st.Prune(ctx, 0); !errors.Is(err, ErrInvalidKeep) {
				t.Fatalf("Prune(0) = %v, want ErrInvalidKeep", err)
			}

			res, err := st.Prune(ctx, 2)
			if err != nil {
				t.Fatalf("Prune: %v", err)
			}
			if res.Snapshots != 6 || res.Sentiments != 3 {
				t.Fatalf("Prune = %+v, want 6 snapshots / 3 sentiments", res)
			}

			for _, ticker := range []string{"NVDA", "AAPL"} {
				got, _ := st.LatestSnapshots(ctx, ticker, 10)
				if len(got) != 2 || !got[0].At.Equal(base.Add(4*time.Minute)) || !got[1].At.Equal(base.Add(3*time.Minute)) {
					t.Fatalf("%s kept %+v", ticker, got)
				}
			}

			// Prune is idempotent.
			res, err = st.Prune(ctx, 2)
			if err != nil || res.Snapshots != 0 || res.Sentiments != 0 {
				t.Fatalf("second Prune = %+v, %v", res, err)
			}
		})
	}
}

func TestFileStoreReplaysAfterReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.jsonl")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := st.AppendSnapshot(ctx, Snapshot{Ticker: "NVDA", At: time.UnixMilli(int64(1700000000000 + i*1000))}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := st.AppendNews(ctx, []News{{Title: "x", Link: "https://example.com/x", Ticker: "NVDA"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Prune(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	got, _ := st.LatestSnapshots(ctx, "NVDA", 10)
	if len(got) != 1 || got[0].At.UnixMilli() != 1700000002000 {
		t.Fatalf("after reopen: %+v", got)
	}
	next, err := st.AppendSnapshot(ctx, Snapshot{Ticker: "NVDA"})
	if err != nil || next.ID <= got[0].ID {
		t.Fatalf("id after reopen = %d (prev %d), err %v", next.ID, got[0].ID, err)
	}
	if n, _ := st.AppendNews(ctx, []News{{Title: "x", Link: "https://example.com/x", Ticker: "NVDA"}}); n != 0 {
		t.Fatalf("duplicate link accepted after reopen")
	}
}

func TestRebindDollar(t *testing.T) {
	t.Parallel()
	got := rebindDollar(`INSERT INTO t(a, b, c) VALUES(?,?,?)`)
	if got != `INSERT INTO t(a, b, c) VALUES($1,$2,$3)` {
		t.Fatalf("rebindDollar = %q", got)
	}
}
