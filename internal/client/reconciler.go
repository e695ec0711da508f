// Package client consumes a chat event stream and submits requests over HTTP.
package client

import (
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/patrickspencer/chatbat/internal/store"
	"github.com/patrickspencer/chatbat/internal/stream"
)

// Reconciler keeps a local copy of the log in sync with a stream. It is safe
// for concurrent use.
type Reconciler struct {
	mu       sync.RWMutex
	self     string
	messages []store.Message
	seen     map[string]struct{}
}

// NewReconciler creates an empty Reconciler for the display name self.
func NewReconciler(self string) *Reconciler {
	return &Reconciler{
		self: self,
		seen: make(map[string]struct{}),
	}
}

// SetSelf changes the display name excluded from Participants.
func (r *Reconciler) SetSelf(name string) {
	r.mu.Lock()
	r.self = name
	r.mu.Unlock()
}

// Apply folds evt into the local state and returns the messages that became
// visible because of it. History and refresh replace everything.
func (r *Reconciler) Apply(evt stream.Event) []store.Message {
	switch evt.Type {
	case stream.TypeHistory, stream.TypeRefresh:
		r.Replace(evt.Messages)
		return evt.Messages
	case stream.TypeNewMessage:
		if evt.Message != nil && r.Add(*evt.Message) {
			return []store.Message{*evt.Message}
		}
	}
	return nil
}

// Replace swaps the whole cache for messages.
func (r *Reconciler) Replace(messages []store.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = slices.Clone(messages)
	r.seen = make(map[string]struct{}, len(messages))
	for _, m := range messages {
		r.seen[m.ID] = struct{}{}
	}
}

// Add appends m unless its id is already present. It reports whether m was
// added.
func (r *Reconciler) Add(m store.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[m.ID]; ok {
		return false
	}
	r.seen[m.ID] = struct{}{}
	r.messages = append(r.messages, m)
	return true
}

// Messages returns a copy of the cached log.
func (r *Reconciler) Messages() []store.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.messages)
}

// Participants returns the sorted distinct sender names, excluding self.
func (r *Reconciler) Participants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Uniq(lo.FilterMap(r.messages, func(m store.Message, _ int) (string, bool) {
		return m.SenderName, m.SenderName != "" && m.SenderName != r.self
	}))
	slices.Sort(names)
	return names
}
