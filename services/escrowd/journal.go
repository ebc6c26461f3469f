package escrowd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"earnescrow/core/events"
	"earnescrow/core/types"
	"earnescrow/observability"
)

const (
	defaultListLimit    = 100
	maxListLimit        = 1000
	subscriberBacklog   = 64
	journalWriteTimeout = 5 * time.Second
)

// JournalEntry is a committed escrow event with its journal sequence.
type JournalEntry struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Journal persists committed events to SQLite and fans them out to stream
// subscribers. It satisfies events.Emitter.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	nextSubID   int
	subscribers map[int]chan JournalEntry
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	j := &Journal{
		db:          db,
		logger:      logger.With(slog.String("component", "journal")),
		now:         time.Now,
		subscribers: make(map[int]chan JournalEntry),
	}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            payload TEXT NOT NULL,
            recorded_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_type_idx ON events(type, sequence);`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("journal schema: %w", err)
		}
	}
	return nil
}

// Close releases the database and ends every subscription.
func (j *Journal) Close() error {
	j.mu.Lock()
	for id, ch := range j.subscribers {
		close(ch)
		delete(j.subscribers, id)
	}
	j.mu.Unlock()
	return j.db.Close()
}

// Emit implements events.Emitter. Write failures are logged; the ledger
// change has already been committed.
func (j *Journal) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if _, err := j.Append(ctx, evt.Event()); err != nil {
		j.logger.Error("journal append failed", slog.String("type", evt.EventType()), slog.String("error", err.Error()))
	}
}

// Append stores evt and broadcasts the resulting entry.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (JournalEntry, error) {
	if evt == nil {
		return JournalEntry{}, fmt.Errorf("journal: nil event")
	}
	payload, err := json.Marshal(evt.Attributes)
	if err != nil {
		return JournalEntry{}, err
	}
	recorded := j.now().UTC().Truncate(time.Millisecond)
	const stmt = `INSERT INTO events(type, payload, recorded_at) VALUES (?, ?, ?)`
	res, err := j.db.ExecContext(ctx, stmt, evt.Type, string(payload), recorded.UnixMilli())
	if err != nil {
		return JournalEntry{}, err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return JournalEntry{}, err
	}
	entry := JournalEntry{Sequence: seq, Type: evt.Type, Attributes: evt.Clone().Attributes, RecordedAt: recorded}
	observability.Events().RecordJournaled(evt.Type)
	j.broadcast(entry)
	return entry, nil
}

// List returns entries with a sequence greater than after, oldest first. An
// empty eventType matches every type.
func (j *Journal) List(ctx context.Context, after int64, eventType string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := `SELECT sequence, type, payload, recorded_at FROM events WHERE sequence > ?`
	args := []interface{}{after}
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY sequence ASC LIMIT ?`
	args = append(args, limit)
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		var (
			entry    JournalEntry
			payload  string
			recorded int64
		)
		if err := rows.Scan(&entry.Sequence, &entry.Type, &payload, &recorded); err != nil {
			return nil, err
		}
		entry.RecordedAt = time.UnixMilli(recorded).UTC()
		if err := json.Unmarshal([]byte(payload), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", entry.Sequence, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Subscribe registers a live listener. The returned cancel function must be
// called to release it. A listener that falls a full backlog behind has its
// channel closed and must replay from the journal by sequence.
func (j *Journal) Subscribe() (<-chan JournalEntry, func()) {
	ch := make(chan JournalEntry, subscriberBacklog)
	j.mu.Lock()
	id := j.nextSubID
	j.nextSubID++
	j.subscribers[id] = ch
	count := len(j.subscribers)
	j.mu.Unlock()
	observability.Events().SetSubscribers(count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.mu.Lock()
			if existing, ok := j.subscribers[id]; ok {
				close(existing)
				delete(j.subscribers, id)
			}
			count := len(j.subscribers)
			j.mu.Unlock()
			observability.Events().SetSubscribers(count)
		})
	}
}

func (j *Journal) broadcast(entry JournalEntry) {
	j.mu.Lock()
	var dropped bool
	for id, ch := range j.subscribers {
		select {
		case ch <- entry:
		default:
			close(ch)
			delete(j.subscribers, id)
			dropped = true
			j.logger.Warn("stream subscriber lagging, subscription closed",
				slog.Int("subscriber", id),
				slog.Int64("sequence", entry.Sequence))
		}
	}
	count := len(j.subscribers)
	j.mu.Unlock()
	if dropped {
		observability.Events().SetSubscribers(count)
	}
}
