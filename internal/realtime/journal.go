// Package realtime implements the event notification journal: a shared,
// last-write-wins record of the most recent signal per event class that wakes
// stream dispatchers without a message broker.
//
// A journal is not a queue. Publishing overwrites the previous record of the
// same class, so a slow consumer may see only the latest of several rapid
// changes. Consumers keep a per-class watermark and must converge from the
// latest record alone.
package realtime

import (
	"context"
	"fmt"
	"time"
)

// Class identifies an event class. Each class has at most one live record.
type Class string

const (
	// ClassRefresh asks dispatchers to resend the full log.
	ClassRefresh Class = "refresh"
	// ClassNewMessage announces one appended message by id.
	ClassNewMessage Class = "newMessage"
)

// Classes lists the classes in the order dispatchers consult them.
var Classes = []Class{ClassRefresh, ClassNewMessage}

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	return c == ClassRefresh || c == ClassNewMessage
}

// Payload is the class-specific part of a record.
type Payload struct {
	MessageID    string `json:"messageId,omitempty"`
	ExcludeTabID string `json:"excludeTabId,omitempty"`
}

// Record is the latest signal of one class. Time is in Unix nanoseconds and
// strictly increases per class across publishes.
type Record struct {
	Time int64 `json:"time"`
	Payload
}

// Excludes reports whether the record must not be delivered to tabID.
func (r Record) Excludes(tabID string) bool {
	return r.ExcludeTabID != "" && r.ExcludeTabID == tabID
}

// Journal publishes and polls per-class records.
type Journal interface {
	// Publish replaces the record of class with payload stamped with the
	// current time.
	Publish(ctx context.Context, class Class, p Payload) error
	// Poll returns the record of class if its time is newer than since. The
	// caller advances its watermark to the returned record's Time.
	Poll(ctx context.Context, class Class, since int64) (Record, bool, error)
	Close() error
}

// Notifier is implemented by journals that can wake consumers as soon as a
// record is published, instead of waiting for the next poll tick.
type Notifier interface {
	Subscribe() (<-chan struct{}, func())
}

// nextTime returns a timestamp later than prev, normally now.
func nextTime(now time.Time, prev int64) int64 {
	t := now.UnixNano()
	if t <= prev {
		t = prev + 1
	}
	return t
}

func checkClass(c Class) error {
	if !c.Valid() {
		return fmt.Errorf("unknown event class %q", c)
	}
	return nil
}

// pollRecord applies the watermark rule shared by all backends.
func pollRecord(rec Record, ok bool, since int64) (Record, bool) {
	if !ok || rec.Time <= since {
		return Record{}, false
	}
	return rec, true
}
