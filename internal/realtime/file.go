package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/patrickspencer/chatbat/internal/fsutil"
)

const (
	journalFileName     = "events.json"
	journalLockFileName = "events.lock"
)

// FileJournal is a cross-process journal stored as one JSON object keyed by
// class. Publishers serialize on their own lock file, independent of the
// message log's lock. Pollers read without locking and re-parse only when the
// file version changes.
type FileJournal struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	version string
	records map[Class]Record
}

// NewFileJournal creates a FileJournal in dir.
func NewFileJournal(dir string, lockTimeout time.Duration) (*FileJournal, error) {
	if dir == "" {
		return nil, errors.New("file journal: directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileJournal{
		path:        filepath.Join(dir, journalFileName),
		lockPath:    filepath.Join(dir, journalLockFileName),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}, nil
}

// Publish rewrites the whole journal with class set to a fresh record.
func (j *FileJournal) Publish(ctx context.Context, class Class, p Payload) error {
	if err := checkClass(class); err != nil {
		return err
	}

	unlock, err := fsutil.Lock(ctx, j.lockPath, j.lockTimeout)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	defer unlock()

	records := j.load()
	records[class] = Record{Time: nextTime(j.now(), records[class].Time), Payload: p}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}
	if err := fsutil.WriteFileAtomic(j.path, data); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// Poll returns the record of class if it is newer than since.
func (j *FileJournal) Poll(_ context.Context, class Class, since int64) (Record, bool, error) {
	if err := checkClass(class); err != nil {
		return Record{}, false, err
	}
	records, err := j.current()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := records[class]
	rec, fired := pollRecord(rec, ok, since)
	return rec, fired, nil
}

// Close is a no-op.
func (j *FileJournal) Close() error {
	return nil
}

func (j *FileJournal) current() (map[Class]Record, error) {
	version, err := fsutil.Version(j.path)
	if err != nil {
		return nil, err
	}

	j.mu.RLock()
	if version == j.version && j.records != nil {
		records := j.records
		j.mu.RUnlock()
		return records, nil
	}
	j.mu.RUnlock()

	records := j.load()
	j.mu.Lock()
	j.version = version
	j.records = records
	j.mu.Unlock()
	return records, nil
}

// load reads the journal from disk. A missing or corrupt file reads as empty
// and unknown classes are dropped.
func (j *FileJournal) load() map[Class]Record {
	records := make(map[Class]Record)
	data, err := os.ReadFile(j.path)
	if err != nil {
		return records
	}
	var raw map[Class]Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return records
	}
	for class, rec := range raw {
		if class.Valid() {
			records[class] = rec
		}
	}
	return records
}
