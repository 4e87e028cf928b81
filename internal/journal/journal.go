package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/liuscraft/orion-speak/internal/audio"
	"github.com/liuscraft/orion-speak/internal/config"
	"github.com/liuscraft/orion-speak/internal/logging"
)

// timeLayout 定长 UTC 时间，保证按字符串比较即按时间比较
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry 一条播报记录
type Entry struct {
	ID         int64
	RequestID  string
	Text       string
	Voice      string
	Speed      string
	Realtime   bool
	Origin     string
	Generation uint64
	Outcome    string
	Error      string
	Samples    int
	EnqueuedAt time.Time
	FinishedAt time.Time
}

// Store 基于 SQLite 的播报日志
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *logging.Logger
	clock func() time.Time
}

// Open 打开（必要时创建）日志库并按保留天数清理一次
func Open(ctx context.Context, cfg config.JournalConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("journal: path is required")
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: logging.Component("Journal"), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Prune(ctx); err != nil {
		s.log.Warnf("prune on open failed: %v", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    text TEXT NOT NULL,
    voice TEXT,
    speed TEXT,
    realtime INTEGER NOT NULL DEFAULT 0,
    origin TEXT,
    generation INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    error TEXT,
    samples INTEGER NOT NULL DEFAULT 0,
    enqueued_at TEXT NOT NULL,
    finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_finished ON utterances(finished_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record 写入一条结束的请求
func (s *Store) Record(ctx context.Context, res audio.UtteranceResult) error {
	finished := res.FinishedAt
	if finished.IsZero() {
		finished = s.clock()
	}
	enqueued := res.EnqueuedAt
	if enqueued.IsZero() {
		enqueued = finished
	}
	var errText string
	if res.Err != nil {
		errText = res.Err.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(request_id, text, voice, speed, realtime, origin, generation, outcome, error, samples, enqueued_at, finished_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Text, res.Voice, string(res.Speed), res.Realtime, res.Origin, int64(res.Generation),
		res.Outcome.String(), errText, res.Samples,
		enqueued.UTC().Format(timeLayout), finished.UTC().Format(timeLayout))
	return err
}

// RecordResult 可直接作为 FinishedCallback，写入失败只记日志
func (s *Store) RecordResult(res audio.UtteranceResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Record(ctx, res); err != nil {
		s.log.Warnf("record %s: %v", res.ID, err)
	}
}

// Recent 按结束时间倒序返回最多 limit 条
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, text, voice, speed, realtime, origin, generation, outcome, error, samples, enqueued_at, finished_at
		 FROM utterances ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                  Entry
			voice, speed       sql.NullString
			origin, errText    sql.NullString
			generation         int64
			enqueued, finished string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Text, &voice, &speed, &e.Realtime, &origin,
			&generation, &e.Outcome, &errText, &e.Samples, &enqueued, &finished); err != nil {
			return nil, err
		}
		e.Voice, e.Speed, e.Origin, e.Error = voice.String, speed.String, origin.String, errText.String
		e.Generation = uint64(generation)
		if ts, err := time.Parse(timeLayout, enqueued); err == nil {
			e.EnqueuedAt = ts
		}
		if ts, err := time.Parse(timeLayout, finished); err == nil {
			e.FinishedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune 删除超过保留天数的记录，RetentionDays <= 0 时不清理
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, `DELETE FROM utterances WHERE finished_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Infof("pruned %d entries older than %d days", n, s.cfg.RetentionDays)
	}
	return nil
}
