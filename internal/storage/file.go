package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "marketpulse/pkg/logx"
)

// fileStore keeps every collection in memory and appends to JSON Lines files:
//
//   - <prefix>.snapshots.jsonl
//   - <prefix>.sentiments.jsonl
//   - <prefix>.news.jsonl
//
// Prune rewrites the snapshot and sentiment files through a temp file + rename.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapPath, sentPath, newsPath string
	snapFile, sentFile, newsFile *os.File

	snapshots  []Snapshot
	sentiments []Sentiment
	links      map[string]struct{}
	nextID     int64
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:      log,
		snapPath: prefix + ".snapshots.jsonl",
		sentPath: prefix + ".sentiments.jsonl",
		newsPath: prefix + ".news.jsonl",
		links:    map[string]struct{}{},
	}

	if err := replayJSONL(s.snapPath, func(v Snapshot) { s.snapshots = append(s.snapshots, v); s.seen(v.ID) }); err != nil {
		return nil, err
	}
	if err := replayJSONL(s.sentPath, func(v Sentiment) { s.sentiments = append(s.sentiments, v); s.seen(v.ID) }); err != nil {
		return nil, err
	}
	if err := replayJSONL(s.newsPath, func(v News) { s.links[v.Link] = struct{}{}; s.seen(v.ID) }); err != nil {
		return nil, err
	}

	var err error
	if s.snapFile, err = openAppend(s.snapPath); err != nil {
		return nil, err
	}
	if s.sentFile, err = openAppend(s.sentPath); err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.newsFile, err = openAppend(s.newsPath); err != nil {
		_ = s.Close()
		return nil, err
	}
	log.Debug("file store opened",
		logx.String("prefix", prefix),
		logx.Int("snapshots", len(s.snapshots)),
		logx.Int("sentiments", len(s.sentiments)),
		logx.Int("news", len(s.links)),
	)
	return s, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

// replayJSONL decodes one record per line. Torn or corrupt lines are skipped.
func replayJSONL[T any](path string, fn func(T)) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		fn(v)
	}
	return sc.Err()
}

func (s *fileStore) seen(id int64) {
	if id > s.nextID {
		s.nextID = id
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, f := range []**os.File{&s.snapFile, &s.sentFile, &s.newsFile} {
		if *f != nil {
			errs = append(errs, (*f).Close())
			*f = nil
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendSnapshot(ctx context.Context, v Snapshot) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapFile == nil {
		return Snapshot{}, ErrDisabled
	}
	s.nextID++
	v.ID = s.nextID
	v.At = stamp(v.At)
	if len(v.Quote) == 0 {
		v.Quote = json.RawMessage("{}")
	}
	if err := json.NewEncoder(s.snapFile).Encode(v); err != nil {
		return Snapshot{}, err
	}
	s.snapshots = append(s.snapshots, v)
	return v, nil
}

func (s *fileStore) AppendSentiment(ctx context.Context, v Sentiment) (Sentiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentFile == nil {
		return Sentiment{}, ErrDisabled
	}
	s.nextID++
	v.ID = s.nextID
	v.At = stamp(v.At)
	if err := json.NewEncoder(s.sentFile).Encode(v); err != nil {
		return Sentiment{}, err
	}
	s.sentiments = append(s.sentiments, v)
	return v, nil
}

func (s *fileStore) AppendNews(ctx context.Context, items []News) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newsFile == nil {
		return 0, ErrDisabled
	}
	enc := json.NewEncoder(s.newsFile)
	inserted := 0
	for _, n := range items {
		if strings.TrimSpace(n.Link) == "" {
			continue
		}
		if _, dup := s.links[n.Link]; dup {
			continue
		}
		s.nextID++
		n.ID = s.nextID
		n.At = stamp(n.At)
		if err := enc.Encode(n); err != nil {
			return inserted, err
		}
		s.links[n.Link] = struct{}{}
		inserted++
	}
	return inserted, nil
}

func (s *fileStore) LatestSnapshots(ctx context.Context, ticker string, limit int) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return latest(s.snapshots, ticker, limit, func(v Snapshot) (string, time.Time, int64) { return v.Ticker, v.At, v.ID }), nil
}

func (s *fileStore) LatestSentiments(ctx context.Context, ticker string, limit int) ([]Sentiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return latest(s.sentiments, ticker, limit, func(v Sentiment) (string, time.Time, int64) { return v.Ticker, v.At, v.ID }), nil
}

// latest returns the newest limit records of ticker, newest first.
func latest[T any](all []T, ticker string, limit int, key func(T) (string, time.Time, int64)) []T {
	out := []T{}
	for _, v := range all {
		if t, _, _ := key(v); t == ticker {
			out = append(out, v)
		}
	}
	sortNewestFirst(out, key)
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out
}

func sortNewestFirst[T any](vs []T, key func(T) (string, time.Time, int64)) {
	sort.SliceStable(vs, func(i, j int) bool {
		_, ai, aid := key(vs[i])
		_, bi, bid := key(vs[j])
		if !ai.Equal(bi) {
			return ai.After(bi)
		}
		return aid > bid
	})
}

// keepPerTicker returns the records that survive a prune, in their original
// order, and how many were dropped.
func keepPerTicker[T any](all []T, keep int, key func(T) (string, time.Time, int64)) ([]T, int64) {
	ranked := append([]T(nil), all...)
	sortNewestFirst(ranked, key)
	kept := map[int64]bool{}
	count := map[string]int{}
	for _, v := range ranked {
		t, _, id := key(v)
		if count[t] < keep {
			count[t]++
			kept[id] = true
		}
	}
	out := make([]T, 0, len(kept))
	for _, v := range all {
		if _, _, id := key(v); kept[id] {
			out = append(out, v)
		}
	}
	return out, int64(len(all) - len(out))
}

func (s *fileStore) Prune(ctx context.Context, keep int) (PruneResult, error) {
	if keep <= 0 {
		return PruneResult{}, ErrInvalidKeep
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapFile == nil {
		return PruneResult{}, ErrDisabled
	}

	var res PruneResult
	sents, n := keepPerTicker(s.sentiments, keep, func(v Sentiment) (string, time.Time, int64) { return v.Ticker, v.At, v.ID })
	res.Sentiments = n
	if n > 0 {
		f, err := rewriteJSONL(s.sentPath, s.sentFile, sents)
		if err != nil {
			return res, err
		}
		s.sentFile, s.sentiments = f, sents
	}

	snaps, n := keepPerTicker(s.snapshots, keep, func(v Snapshot) (string, time.Time, int64) { return v.Ticker, v.At, v.ID })
	res.Snapshots = n
	if n > 0 {
		f, err := rewriteJSONL(s.snapPath, s.snapFile, snaps)
		if err != nil {
			return res, err
		}
		s.snapFile, s.snapshots = f, snaps
	}
	return res, nil
}

// rewriteJSONL atomically replaces path with vs and returns a fresh append
// handle. old is closed once the new file is in place.
func rewriteJSONL[T any](path string, old *os.File, vs []T) (*os.File, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return old, err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, v := range vs {
		if err := enc.Encode(v); err != nil {
			_ = f.Close()
			return old, err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return old, err
	}
	if err := f.Close(); err != nil {
		return old, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return old, err
	}
	_ = old.Close()
	return openAppend(path)
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return msTime(t.UnixMilli())
}
