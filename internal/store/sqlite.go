package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// OpenSQLite opens the SQLite database at dbPath with WAL enabled and a busy
// timeout derived from lockTimeout. Write transactions start IMMEDIATE so the
// database write lock plays the role of the exclusive writer lock.
func OpenSQLite(dbPath string, lockTimeout time.Duration) (*sql.DB, error) {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)", dbPath, lockTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return db, nil
}

// SQLiteLog implements MessageLog backed by SQLite.
type SQLiteLog struct {
	db       *sql.DB
	capacity int

	mu     sync.RWMutex
	cached Snapshot
}

// NewSQLiteLog runs migrations on db and returns a SQLiteLog keeping the
// newest capacity messages.
func NewSQLiteLog(db *sql.DB, capacity int) (*SQLiteLog, error) {
	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SQLiteLog{db: db, capacity: capacity}, nil
}

// DB returns the underlying *sql.DB for use by other packages.
func (s *SQLiteLog) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *SQLiteLog) Close() error {
	return s.db.Close()
}

// Append inserts msg and trims the log to capacity in one transaction.
func (s *SQLiteLog) Append(ctx context.Context, msg Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, content, timestamp, tab_id, sender_name)
			VALUES (?, ?, ?, ?, ?)`,
			msg.ID, msg.Content, msg.Timestamp, msg.TabID, msg.SenderName,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE seq NOT IN (
				SELECT seq FROM messages ORDER BY seq DESC LIMIT ?
			)`, s.capacity); err != nil {
			return fmt.Errorf("trim messages: %w", err)
		}
		return bumpVersion(ctx, tx)
	})
}

// RewriteSenderName renames every message sent as oldName.
func (s *SQLiteLog) RewriteSenderName(ctx context.Context, oldName, newName string) (bool, error) {
	if oldName == newName {
		return false, nil
	}
	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE messages SET sender_name = ? WHERE sender_name = ?", newName, oldName)
		if err != nil {
			return fmt.Errorf("rename sender: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		changed = true
		return bumpVersion(ctx, tx)
	})
	return changed, err
}

// ReadAll returns the log ordered by insertion. Rows are only queried when
// the stored version has moved since the last read.
func (s *SQLiteLog) ReadAll(ctx context.Context) (Snapshot, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM log_meta WHERE id = 1").Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, nil
		}
		return Snapshot{}, err
	}
	version := strconv.FormatInt(v, 10)

	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached.Version == version {
		return cached, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, timestamp, tab_id, sender_name
		FROM messages ORDER BY seq ASC`)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Content, &m.Timestamp, &m.TabID, &m.SenderName); err != nil {
			return Snapshot{}, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Version: version, Messages: messages}
	s.mu.Lock()
	s.cached = snap
	s.mu.Unlock()
	return snap, nil
}

func bumpVersion(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO log_meta (id, version) VALUES (1, 1)
		ON CONFLICT(id) DO UPDATE SET version = version + 1`)
	return err
}

func (s *SQLiteLog) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLiteErr(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classifySQLiteErr(err)
	}
	return classifySQLiteErr(tx.Commit())
}

// classifySQLiteErr maps SQLITE_BUSY to ErrLockTimeout.
func classifySQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_BUSY {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}
