package store

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
	historyFileName = "messages.json"
	lockFileName    = "messages.lock"
)

// FileLogOptions configures a FileLog.
type FileLogOptions struct {
	Dir         string
	Capacity    int
	LockTimeout time.Duration
}

// FileLog implements MessageLog as a JSON array on disk. Writers serialize on
// a separate lock file; readers are lock-free and cache the parsed array
// until the file's version changes.
type FileLog struct {
	historyPath string
	lockPath    string
	capacity    int
	lockTimeout time.Duration

	mu     sync.RWMutex
	cached Snapshot
}

// NewFileLog creates a FileLog rooted at opts.Dir.
func NewFileLog(opts FileLogOptions) (*FileLog, error) {
	if opts.Dir == "" {
		return nil, errors.New("file log: directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &FileLog{
		historyPath: filepath.Join(opts.Dir, historyFileName),
		lockPath:    filepath.Join(opts.Dir, lockFileName),
		capacity:    opts.Capacity,
		lockTimeout: opts.LockTimeout,
	}, nil
}

// Path returns the path of the JSON log file.
func (l *FileLog) Path() string {
	return l.historyPath
}

// Close is a no-op; FileLog holds no open handles between calls.
func (l *FileLog) Close() error {
	return nil
}

// Append adds msg to the log, dropping the oldest entries beyond capacity.
func (l *FileLog) Append(ctx context.Context, msg Message) error {
	return l.withLock(ctx, func() error {
		history := l.load()
		history = appendBounded(history, msg, l.capacity)
		return l.save(history)
	})
}

// RewriteSenderName renames every message sent as oldName to newName. The log
// is only written back when at least one entry changed.
func (l *FileLog) RewriteSenderName(ctx context.Context, oldName, newName string) (bool, error) {
	var changed bool
	err := l.withLock(ctx, func() error {
		history := l.load()
		changed = renameSender(history, oldName, newName)
		if !changed {
			return nil
		}
		return l.save(history)
	})
	return changed, err
}

// ReadAll returns the current log. The file is only parsed again when its
// version differs from the cached one.
func (l *FileLog) ReadAll(_ context.Context) (Snapshot, error) {
	version, err := fsutil.Version(l.historyPath)
	if err != nil {
		return Snapshot{}, err
	}

	l.mu.RLock()
	cached := l.cached
	l.mu.RUnlock()
	if version == cached.Version {
		return cached, nil
	}

	snap := Snapshot{Version: version}
	if version != "" {
		snap.Messages = l.load()
	}

	l.mu.Lock()
	l.cached = snap
	l.mu.Unlock()
	return snap, nil
}

// load reads the log from disk. A missing or corrupt file reads as empty.
func (l *FileLog) load() []Message {
	data, err := os.ReadFile(l.historyPath)
	if err != nil {
		return nil
	}
	var history []Message
	if err := json.Unmarshal(data, &history); err != nil {
		return nil
	}
	return history
}

func (l *FileLog) save(history []Message) error {
	if history == nil {
		history = []Message{}
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode message log: %w", err)
	}
	if err := fsutil.WriteFileAtomic(l.historyPath, data); err != nil {
		return fmt.Errorf("write message log: %w", err)
	}
	return nil
}

func (l *FileLog) withLock(ctx context.Context, fn func() error) error {
	unlock, err := fsutil.Lock(ctx, l.lockPath, l.lockTimeout)
	if err != nil {
		if errors.Is(err, fsutil.ErrLockTimeout) {
			return fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
		return err
	}
	defer unlock()
	return fn()
}
