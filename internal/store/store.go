package store

import (
	"context"
	"errors"
)

// DefaultCapacity is the number of most recent messages a log retains.
const DefaultCapacity = 100

// ErrLockTimeout is returned when the exclusive writer lock could not be
// acquired before the configured timeout or context deadline.
var ErrLockTimeout = errors.New("could not acquire message log lock")

// Message is a single chat message. Only SenderName changes after creation,
// and only through a rename sweep.
type Message struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
	TabID      string `json:"tabId"`
	SenderName string `json:"senderName"`
}

// Snapshot is an ordered view of the log together with the content version it
// was read at. Messages is shared with the store's cache and must not be
// modified by callers.
type Snapshot struct {
	Version  string
	Messages []Message
}

// IndexOf returns the position of the message with the given id, or -1.
func (s Snapshot) IndexOf(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Tail returns the id of the newest message, or "" when the log is empty.
func (s Snapshot) Tail() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1].ID
}

// MessageLog is the bounded, append-only message log shared by submission
// handlers and stream dispatchers.
//
// Append and RewriteSenderName are serialized by an exclusive lock that is
// also honoured by other processes using the same backing storage. ReadAll
// takes no lock and never observes a partially written log.
type MessageLog interface {
	Append(ctx context.Context, msg Message) error
	ReadAll(ctx context.Context) (Snapshot, error)
	RewriteSenderName(ctx context.Context, oldName, newName string) (bool, error)
	Close() error
}

// appendBounded appends msg and keeps only the newest capacity entries.
func appendBounded(history []Message, msg Message, capacity int) []Message {
	history = append(history, msg)
	if capacity > 0 && len(history) > capacity {
		history = append([]Message(nil), history[len(history)-capacity:]...)
	}
	return history
}

// renameSender rewrites every entry sent as oldName. It reports whether
// anything changed.
func renameSender(history []Message, oldName, newName string) bool {
	changed := false
	for i := range history {
		if history[i].SenderName == oldName && oldName != newName {
			history[i].SenderName = newName
			changed = true
		}
	}
	return changed
}
