// CLAUDE:SUMMARY Async SQLite audit trail of API and MCP calls, with a kit middleware that records one entry per call.
// Package audit keeps an audit trail of the operations served over HTTP and
// MCP: who called what, with which parameters, how long it took and whether
// it failed. Entries are buffered and written in batches so a slow disk
// never delays a response.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagesaver/dbopen"
	"github.com/hazyhaar/pagesaver/idgen"
	"github.com/hazyhaar/pagesaver/kit"
)

// Schema is the audit table. It lives next to the history table.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id      TEXT PRIMARY KEY,
	timestamp     INTEGER NOT NULL,
	operation     TEXT NOT NULL,
	transport     TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT '',
	remote_addr   TEXT NOT NULL DEFAULT '',
	parameters    TEXT NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_log(operation, timestamp DESC);
`

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is one audited call.
type Entry struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Operation  string        `json:"operation"`
	Transport  string        `json:"transport"`
	RequestID  string        `json:"request_id,omitempty"`
	RemoteAddr string        `json:"remote_addr,omitempty"`
	Parameters string        `json:"parameters"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Filter selects entries for Query. Zero fields match everything.
type Filter struct {
	Operation string
	Status    string
	Since     time.Time
	Limit     int // default 100
}

// Logger persists entries asynchronously.
type Logger struct {
	db       *sql.DB
	newID    idgen.Generator
	now      func() time.Time
	interval time.Duration
	log      *slog.Logger

	ch   chan *Entry
	stop chan struct{}
	done chan struct{}
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets the entry ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Logger) { l.newID = gen }
}

// WithFlushInterval sets how often buffered entries are written. Default 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(l *Logger) { l.interval = d }
}

// WithLogger sets the logger used for write failures.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) { l.log = log }
}

// New starts an audit logger writing to db, which must carry Schema.
func New(db *sql.DB, bufferSize int, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	l := &Logger{
		db:       db,
		newID:    idgen.Prefixed("aud_", idgen.Default),
		now:      time.Now,
		interval: 5 * time.Second,
		log:      slog.Default(),
		ch:       make(chan *Entry, bufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Log writes an entry synchronously.
func (l *Logger) Log(ctx context.Context, e *Entry) error {
	l.fillDefaults(e)
	return l.insert(ctx, e)
}

// LogAsync queues an entry. A full buffer falls back to a synchronous write.
func (l *Logger) LogAsync(e *Entry) {
	l.fillDefaults(e)
	select {
	case l.ch <- e:
	default:
		l.log.Warn("audit: buffer full, writing synchronously", "operation", e.Operation)
		if err := l.insert(context.Background(), e); err != nil {
			l.log.Error("audit: write", "error", err)
		}
	}
}

// Query returns entries matching f, newest first.
func (l *Logger) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	q := `SELECT entry_id, timestamp, operation, transport, request_id, remote_addr,
		parameters, status, error_message, duration_ms FROM audit_log WHERE 1=1`
	var args []any
	if f.Operation != "" {
		q += " AND operation = ?"
		args = append(args, f.Operation)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC, entry_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var ts, ms int64
		if err := rows.Scan(&e.ID, &ts, &e.Operation, &e.Transport, &e.RequestID, &e.RemoteAddr,
			&e.Parameters, &e.Status, &e.Error, &ms); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than before.
func (l *Logger) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, l.db, "DELETE FROM audit_log WHERE timestamp < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close writes the buffered entries and stops the flush goroutine.
func (l *Logger) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

// Middleware records one entry per call of the wrapped endpoint. The request
// is stored as JSON.
func Middleware(l *Logger, op string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := l.now()
			resp, err := next(ctx, req)

			e := &Entry{
				Timestamp:  start,
				Operation:  op,
				Transport:  kit.GetTransport(ctx),
				RequestID:  kit.GetRequestID(ctx),
				RemoteAddr: kit.GetRemoteAddr(ctx),
				Duration:   l.now().Sub(start),
			}
			if req != nil {
				if b, merr := json.Marshal(req); merr == nil {
					e.Parameters = string(b)
				}
			}
			if err != nil {
				e.Error = err.Error()
			}
			l.LogAsync(e)
			return resp, err
		}
	}
}

func (l *Logger) fillDefaults(e *Entry) {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = StatusError
		} else {
			e.Status = StatusSuccess
		}
	}
}

func (l *Logger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	batch := make([]*Entry, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if _, err := tx.ExecContext(ctx, insertSQL, e.args()...); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			l.log.Error("audit: flush", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

const insertSQL = `INSERT INTO audit_log
	(entry_id, timestamp, operation, transport, request_id, remote_addr,
	 parameters, status, error_message, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (e *Entry) args() []any {
	return []any{e.ID, e.Timestamp.UnixMilli(), e.Operation, e.Transport, e.RequestID, e.RemoteAddr,
		e.Parameters, e.Status, e.Error, e.Duration.Milliseconds()}
}

func (l *Logger) insert(ctx context.Context, e *Entry) error {
	if _, err := dbopen.Exec(ctx, l.db, insertSQL, e.args()...); err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}
