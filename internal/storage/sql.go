package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "marketpulse/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlStore implements Store on database/sql. Queries are written with '?'
// placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect string
}

func (s *sqlStore) q(query string) string {
	if s.dialect == "postgres" {
		return rebindDollar(query)
	}
	return query
}

// rebindDollar turns '?' placeholders into $1, $2, ... .
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect + ".sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate %s: %w", s.dialect, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) AppendSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, ErrDisabled
	}
	if snap.At.IsZero() {
		snap.At = time.Now()
	}
	quote := string(snap.Quote)
	if quote == "" {
		quote = "{}"
	}
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO snapshots(ticker, at_ms, quote) VALUES(?,?,?) RETURNING id`),
		snap.Ticker, snap.At.UnixMilli(), quote,
	).Scan(&snap.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	snap.At = msTime(snap.At.UnixMilli())
	snap.Quote = json.RawMessage(quote)
	return snap, nil
}

func (s *sqlStore) AppendSentiment(ctx context.Context, v Sentiment) (Sentiment, error) {
	if s == nil || s.db == nil {
		return Sentiment{}, ErrDisabled
	}
	if v.At.IsZero() {
		v.At = time.Now()
	}
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO sentiments(ticker, label, score, summary, at_ms) VALUES(?,?,?,?,?) RETURNING id`),
		v.Ticker, v.Label, v.Score, v.Summary, v.At.UnixMilli(),
	).Scan(&v.ID)
	if err != nil {
		return Sentiment{}, fmt.Errorf("insert sentiment: %w", err)
	}
	v.At = msTime(v.At.UnixMilli())
	return v, nil
}

func (s *sqlStore) AppendNews(ctx context.Context, items []News) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.q(
		`INSERT INTO news(title, summary, link, source, ticker, at_ms) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(link) DO NOTHING`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now()
	inserted := 0
	for _, n := range items {
		if strings.TrimSpace(n.Link) == "" {
			continue
		}
		at := n.At
		if at.IsZero() {
			at = now
		}
		res, err := stmt.ExecContext(ctx, n.Title, n.Summary, n.Link, n.Source, n.Ticker, at.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("insert news: %w", err)
		}
		if c, err := res.RowsAffected(); err == nil {
			inserted += int(c)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *sqlStore) LatestSnapshots(ctx context.Context, ticker string, limit int) ([]Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, ticker, at_ms, quote FROM snapshots WHERE ticker = ? ORDER BY at_ms DESC, id DESC LIMIT ?`),
		ticker, clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var (
			v     Snapshot
			ms    int64
			quote []byte
		)
		if err := rows.Scan(&v.ID, &v.Ticker, &ms, &quote); err != nil {
			return nil, err
		}
		v.At = msTime(ms)
		v.Quote = json.RawMessage(quote)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *sqlStore) LatestSentiments(ctx context.Context, ticker string, limit int) ([]Sentiment, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, ticker, label, score, summary, at_ms FROM sentiments WHERE ticker = ? ORDER BY at_ms DESC, id DESC LIMIT ?`),
		ticker, clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Sentiment{}
	for rows.Next() {
		var (
			v  Sentiment
			ms int64
		)
		if err := rows.Scan(&v.ID, &v.Ticker, &v.Label, &v.Score, &v.Summary, &ms); err != nil {
			return nil, err
		}
		v.At = msTime(ms)
		out = append(out, v)
	}
	return out, rows.Err()
}

// pruneQuery deletes every row ranked below keep within its ticker.
const pruneQuery = `DELETE FROM %[1]s WHERE id IN (
	SELECT id FROM (
		SELECT id, ROW_NUMBER() OVER (PARTITION BY ticker ORDER BY at_ms DESC, id DESC) AS rn FROM %[1]s
	) ranked WHERE rn > ?
)`

func (s *sqlStore) Prune(ctx context.Context, keep int) (PruneResult, error) {
	if s == nil || s.db == nil {
		return PruneResult{}, ErrDisabled
	}
	if keep <= 0 {
		return PruneResult{}, ErrInvalidKeep
	}
	var res PruneResult
	for _, tbl := range []struct {
		name string
		dst  *int64
	}{
		{"sentiments", &res.Sentiments},
		{"snapshots", &res.Snapshots},
	} {
		r, err := s.db.ExecContext(ctx, s.q(fmt.Sprintf(pruneQuery, tbl.name)), keep)
		if err != nil {
			return res, fmt.Errorf("prune %s: %w", tbl.name, err)
		}
		n, _ := r.RowsAffected()
		*tbl.dst = n
	}
	s.log.Debug("pruned", logx.Int("keep", keep), logx.Int64("sentiments", res.Sentiments), logx.Int64("snapshots", res.Snapshots))
	return res, nil
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func msTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
