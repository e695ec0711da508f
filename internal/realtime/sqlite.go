package realtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const journalMigrationSQL = `
CREATE TABLE IF NOT EXISTS journal (
    class TEXT PRIMARY KEY,
    time INTEGER NOT NULL,
    message_id TEXT NOT NULL DEFAULT '',
    exclude_tab_id TEXT NOT NULL DEFAULT ''
);
`

// SQLiteJournal stores one row per class. It shares the database handle with
// the SQLite message log but uses its own short transactions, so a publish
// never waits on a log write it does not belong to.
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteJournal creates the journal table in db if needed.
func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	if _, err := db.Exec(journalMigrationSQL); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &SQLiteJournal{db: db, now: time.Now}, nil
}

// Publish upserts the record of class.
func (j *SQLiteJournal) Publish(ctx context.Context, class Class, p Payload) error {
	if err := checkClass(class); err != nil {
		return err
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var prev int64
	err = tx.QueryRowContext(ctx, "SELECT time FROM journal WHERE class = ?", string(class)).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO journal (class, time, message_id, exclude_tab_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(class) DO UPDATE SET
			time = excluded.time,
			message_id = excluded.message_id,
			exclude_tab_id = excluded.exclude_tab_id`,
		string(class), nextTime(j.now(), prev), p.MessageID, p.ExcludeTabID,
	)
	if err != nil {
		return fmt.Errorf("upsert journal: %w", err)
	}
	return tx.Commit()
}

// Poll returns the record of class if it is newer than since.
func (j *SQLiteJournal) Poll(ctx context.Context, class Class, since int64) (Record, bool, error) {
	if err := checkClass(class); err != nil {
		return Record{}, false, err
	}
	var rec Record
	err := j.db.QueryRowContext(ctx, `
		SELECT time, message_id, exclude_tab_id FROM journal
		WHERE class = ? AND time > ?`, string(class), since,
	).Scan(&rec.Time, &rec.MessageID, &rec.ExcludeTabID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Close is a no-op; the database handle is owned by the message log.
func (j *SQLiteJournal) Close() error {
	return nil
}
