// Package usage records how the interpreter is used: durations of turns and
// code runs, model token counts and fatal turn failures. Records are kept in
// a local SQLite database.
package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
)

// DatabaseFile is the database name inside the state directory.
const DatabaseFile = "usage.db"

type contextKey struct{}

type sessionKey struct{}

// Tracker persists usage records.
type Tracker struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// NewTracker opens or creates the usage database in dir.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}
	dbPath := filepath.Join(dir, DatabaseFile)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}
	db.SetMaxOpenConns(1)

	t := &Tracker{db: db, dbPath: dbPath}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize usage schema: %w", err)
	}
	return t, nil
}

// Close closes the database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// Path returns the database file path.
func (t *Tracker) Path() string {
	return t.dbPath
}

func (t *Tracker) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		action TEXT NOT NULL,
		duration REAL NOT NULL,
		session_id TEXT,
		properties TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_usage_action ON usage_data(action);

	CREATE TABLE IF NOT EXISTS token_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		session_id TEXT
	);
	`
	_, err := t.db.Exec(schema)
	return err
}

// Track records one action and how long it took.
func (t *Tracker) Track(ctx context.Context, action string, d time.Duration) error {
	return t.insert(ctx, action, d, nil)
}

// TrackTokens records the token counts of one model call.
func (t *Tracker) TrackTokens(ctx context.Context, provider, model string, input, output int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO token_usage (timestamp, provider, model, input_tokens, output_tokens, session_id) VALUES (?, ?, ?, ?, ?, ?)`,
		now(), provider, model, input, output, SessionFromContext(ctx))
	if err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	return nil
}

// ReportError records a fatal turn failure. props is stored as JSON.
func (t *Tracker) ReportError(ctx context.Context, props map[string]any) error {
	logging.UsageDebug("reporting turn failure: %v", props)
	return t.insert(ctx, ActionErrored, 0, props)
}

func (t *Tracker) insert(ctx context.Context, action string, d time.Duration, props map[string]any) error {
	var encoded sql.NullString
	if props != nil {
		data, err := json.Marshal(props)
		if err != nil {
			return fmt.Errorf("encode usage properties: %w", err)
		}
		encoded = sql.NullString{String: string(data), Valid: true}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_data (timestamp, action, duration, session_id, properties) VALUES (?, ?, ?, ?, ?)`,
		now(), action, d.Seconds(), SessionFromContext(ctx), encoded)
	if err != nil {
		return fmt.Errorf("record usage %s: %w", action, err)
	}
	return nil
}

// Statistics returns the average duration per action and token totals.
func (t *Tracker) Statistics(ctx context.Context) (*Statistics, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := &Statistics{ByModel: make(map[string]TokenCounts)}

	rows, err := t.db.QueryContext(ctx,
		`SELECT action, COUNT(*), AVG(duration) FROM usage_data GROUP BY action ORDER BY action`)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			s   ActionStats
			avg float64
		)
		if err := rows.Scan(&s.Action, &s.Count, &avg); err != nil {
			return nil, err
		}
		s.AvgDuration = time.Duration(avg * float64(time.Second))
		if s.Action == ActionErrored {
			stats.Errors = s.Count
		}
		stats.Actions = append(stats.Actions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tokRows, err := t.db.QueryContext(ctx,
		`SELECT model, SUM(input_tokens), SUM(output_tokens) FROM token_usage GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("query token usage: %w", err)
	}
	defer tokRows.Close()
	for tokRows.Next() {
		var (
			model         string
			input, output int
		)
		if err := tokRows.Scan(&model, &input, &output); err != nil {
			return nil, err
		}
		counts := stats.ByModel[model]
		counts.Add(input, output)
		stats.ByModel[model] = counts
		stats.Total.Add(input, output)
	}
	return stats, tokRows.Err()
}

func now() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// Context Helpers

// NewContext returns a new context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext retrieves the tracker from the context.
func FromContext(ctx context.Context) *Tracker {
	val := ctx.Value(contextKey{})
	if val == nil {
		return nil
	}
	return val.(*Tracker)
}

// WithSession tags records made with ctx with a session ID.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session ID, or "" when unset.
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
