package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crossdeck/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Database wraps a *sql.DB holding the library index and the transition log.
// It is safe for concurrent use because the underlying *sql.DB is
// concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Entry

	// Prepared statements for the hot paths
	upsertTrackStmt      *sql.Stmt
	trackExistsStmt      *sql.Stmt
	removeTrackStmt      *sql.Stmt
	insertTransitionStmt *sql.Stmt
	finishTransitionStmt *sql.Stmt
}

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures all required tables and indices exist. It also applies lightweight
// performance-oriented pragmas (WAL, cache sizing). Caller should Close() it
// when finished.
func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithField("component", "database")

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - adjusted for SQLite
	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
		"PRAGMA busy_timeout=5000;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			entry.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: entry,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	entry.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables creates tables and indices if they do not already exist. This
// is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	tracksTable := `
	CREATE TABLE IF NOT EXISTS tracks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		duration_ms INTEGER DEFAULT 0,
		sample_rate INTEGER DEFAULT 0,
		channels INTEGER DEFAULT 0,
		added_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	transitionsTable := `
	CREATE TABLE IF NOT EXISTS transitions (
		id TEXT PRIMARY KEY,
		from_channel TEXT NOT NULL,
		to_channel TEXT NOT NULL,
		track_title TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		outcome TEXT NOT NULL
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_tracks_title ON tracks(title);",
		"CREATE INDEX IF NOT EXISTS idx_transitions_started ON transitions(started_at);",
	}

	for _, table := range []string{tracksTable, transitionsTable} {
		if _, err := db.conn.Exec(table); err != nil {
			return err
		}
	}

	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}
	return nil
}

// prepareStatements prepares commonly used SQL statements
func (db *Database) prepareStatements() error {
	var err error

	db.upsertTrackStmt, err = db.conn.Prepare(`
		INSERT INTO tracks (path, title, duration_ms, sample_rate, channels, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title=excluded.title,
			duration_ms=excluded.duration_ms,
			sample_rate=excluded.sample_rate,
			channels=excluded.channels`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert track statement: %w", err)
	}

	db.trackExistsStmt, err = db.conn.Prepare(`
		SELECT COUNT(*) FROM tracks WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare track exists statement: %w", err)
	}

	db.removeTrackStmt, err = db.conn.Prepare(`
		DELETE FROM tracks WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare remove track statement: %w", err)
	}

	db.insertTransitionStmt, err = db.conn.Prepare(`
		INSERT INTO transitions (id, from_channel, to_channel, track_title, started_at, outcome)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert transition statement: %w", err)
	}

	db.finishTransitionStmt, err = db.conn.Prepare(`
		UPDATE transitions SET outcome = ?, finished_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare finish transition statement: %w", err)
	}

	return nil
}

// UpsertTrack indexes a library file, updating the row when the path is
// already known, and returns the row ID.
func (db *Database) UpsertTrack(entry models.LibraryEntry) (int, error) {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now()
	}
	if _, err := db.upsertTrackStmt.Exec(entry.Path, entry.Title, entry.DurationMS,
		entry.SampleRate, entry.Channels, entry.AddedAt); err != nil {
		db.logger.WithError(err).WithField("path", entry.Path).Error("Failed to upsert track")
		return 0, err
	}

	var id int
	if err := db.conn.QueryRow("SELECT id FROM tracks WHERE path = ?", entry.Path).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read track id: %w", err)
	}
	return id, nil
}

// GetAllTracks returns every indexed file ordered by path.
func (db *Database) GetAllTracks() ([]models.LibraryEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, path, title, duration_ms, sample_rate, channels, added_at
		FROM tracks
		ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrackRows(rows)
}

// GetTrackByPath returns the indexed entry for path.
func (db *Database) GetTrackByPath(path string) (*models.LibraryEntry, error) {
	var e models.LibraryEntry
	err := db.conn.QueryRow(`
		SELECT id, path, title, duration_ms, sample_rate, channels, added_at
		FROM tracks WHERE path = ?`, path).Scan(
		&e.ID, &e.Path, &e.Title, &e.DurationMS, &e.SampleRate, &e.Channels, &e.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("track %q: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// TrackExists reports whether path is indexed.
func (db *Database) TrackExists(path string) (bool, error) {
	var count int
	if err := db.trackExistsStmt.QueryRow(path).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// RemoveTrackByPath drops the index row for path.
func (db *Database) RemoveTrackByPath(path string) error {
	_, err := db.removeTrackStmt.Exec(path)
	return err
}

// RecordTransition stores a newly started transition.
func (db *Database) RecordTransition(t models.Transition) error {
	_, err := db.insertTransitionStmt.Exec(t.ID, string(t.From), string(t.To), t.TrackTitle, t.StartedAt, t.Outcome)
	if err != nil {
		return fmt.Errorf("failed to insert transition %s: %w", t.ID, err)
	}
	return nil
}

// FinishTransition stores a transition's outcome.
func (db *Database) FinishTransition(id, outcome string, finishedAt time.Time) error {
	res, err := db.finishTransitionStmt.Exec(outcome, finishedAt, id)
	if err != nil {
		return fmt.Errorf("failed to finish transition %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transition %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecentTransitions returns up to limit transitions, newest first.
func (db *Database) RecentTransitions(limit int) ([]models.Transition, error) {
	rows, err := db.conn.Query(`
		SELECT id, from_channel, to_channel, COALESCE(track_title, ''), started_at, finished_at, outcome
		FROM transitions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transition
	for rows.Next() {
		var t models.Transition
		var from, to string
		var finished sql.NullTime
		if err := rows.Scan(&t.ID, &from, &to, &t.TrackTitle, &t.StartedAt, &finished, &t.Outcome); err != nil {
			return nil, err
		}
		t.From, t.To = models.ChannelID(from), models.ChannelID(to)
		if finished.Valid {
			ft := finished.Time
			t.FinishedAt = &ft
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close releases prepared statements and the connection.
func (db *Database) Close() error {
	statements := []*sql.Stmt{
		db.upsertTrackStmt,
		db.trackExistsStmt,
		db.removeTrackStmt,
		db.insertTransitionStmt,
		db.finishTransitionStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// scanTrackRows scans library result sets. Callers must have already
// deferred rows.Close().
func scanTrackRows(rows *sql.Rows) ([]models.LibraryEntry, error) {
	var entries []models.LibraryEntry
	for rows.Next() {
		var e models.LibraryEntry
		if err := rows.Scan(&e.ID, &e.Path, &e.Title, &e.DurationMS, &e.SampleRate, &e.Channels, &e.AddedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
